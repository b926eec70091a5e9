package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videocall/internal/config"
	"github.com/dkeye/videocall/internal/core"
)

// Configuration builds the peer configuration. No servers means host candidates only.
func Configuration(servers []config.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// Factory creates pion peers sharing one configuration.
type Factory struct {
	Config webrtc.Configuration

	mu   sync.Mutex
	last *Peer
}

var _ core.PeerFactory = (*Factory)(nil)

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{Config: cfg}
}

func (f *Factory) NewPeer() (core.PeerConnection, error) {
	p, err := NewPeer(f.Config)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.last = p
	f.mu.Unlock()
	return p, nil
}

// Stats reports receive counters of the most recent peer.
func (f *Factory) Stats() map[string]TrackSnapshot {
	f.mu.Lock()
	p := f.last
	f.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Stats()
}
