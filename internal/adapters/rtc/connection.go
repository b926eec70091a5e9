package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/core"
)

// Peer wraps a pion PeerConnection behind core.PeerConnection.
type Peer struct {
	pc     *webrtc.PeerConnection
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.RWMutex
	onICE   func(*webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
	stats   map[string]*TrackStats
}

var _ core.PeerConnection = (*Peer)(nil)

func NewPeer(cfg webrtc.Configuration) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:     pc,
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		stats:  make(map[string]*TrackStats),
	}
	p.logger = log.With().Str("module", "webrtc").Str("peer", p.id).Logger()
	p.start()
	return p, nil
}

func (p *Peer) start() {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		p.mu.RLock()
		fn := p.onState
		p.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		p.mu.RLock()
		fn := p.onICE
		p.mu.RUnlock()
		if fn == nil {
			return
		}
		if cand == nil {
			fn(nil)
			return
		}
		init := cand.ToJSON()
		fn(&init)
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		stats := &TrackStats{}
		p.mu.Lock()
		p.stats[track.ID()] = stats
		fn := p.onTrack
		p.mu.Unlock()

		go drain(p.ctx, track, stats, p.logger)
		if fn != nil {
			fn(track)
		}
	})
}

// AddTrack attaches a local track and keeps its RTCP flowing.
func (p *Peer) AddTrack(t webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sd)
}

func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *Peer) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// Stats returns a snapshot of received RTP per remote track id.
func (p *Peer) Stats() map[string]TrackSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]TrackSnapshot, len(p.stats))
	for id, s := range p.stats {
		out[id] = s.Snapshot()
	}
	return out
}

func (p *Peer) Close() error {
	p.cancel()
	err := p.pc.Close()
	if err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
	return err
}
