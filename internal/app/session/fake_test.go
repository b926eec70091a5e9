package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videocall/internal/core"
)

var errNoRemote = errors.New("remote description not set")

// fakePeer mimics the ordering rules of a pion peer connection without any
// networking: candidates are rejected before the remote description, and
// setting the local description trickles a fixed set of candidates.
type fakePeer struct {
	name       string
	candidates []string
	failRemote error

	mu      sync.Mutex
	remote  *webrtc.SessionDescription
	local   *webrtc.SessionDescription
	added   []webrtc.ICECandidateInit
	tracks  []webrtc.TrackLocal
	closed  bool
	onICE   func(*webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + p.name}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errNoRemote
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.name}, nil
}

func (p *fakePeer) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &sd
	onICE := p.onICE
	cands := append([]string(nil), p.candidates...)
	p.mu.Unlock()

	if onICE != nil {
		go func() {
			for _, c := range cands {
				onICE(&webrtc.ICECandidateInit{Candidate: c})
			}
			onICE(nil)
		}()
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if p.failRemote != nil {
		return p.failRemote
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &sd
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errNoRemote
	}
	p.added = append(p.added, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) fireTrack(t core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) addedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.added))
	for _, c := range p.added {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	name       string
	candidates []string
	failRemote error

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer() (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{name: f.name, candidates: f.candidates, failRemote: f.failRemote}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) peer(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) != 1 {
		t.Fatalf("factory made %d peers, want 1", len(f.peers))
	}
	return f.peers[0]
}

type fakeMedia struct {
	mu       sync.Mutex
	released int
}

func (m *fakeMedia) Acquire(context.Context) (*core.TrackSet, *core.RemoteSink, error) {
	return core.NewTrackSet(nil), core.NewRemoteSink(), nil
}

func (m *fakeMedia) Release(ts *core.TrackSet) {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	ts.Stop()
}

func (m *fakeMedia) releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type fakeRemoteTrack struct{ id string }

func (r fakeRemoteTrack) ID() string                { return r.id }
func (r fakeRemoteTrack) StreamID() string          { return "remote" }
func (r fakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
