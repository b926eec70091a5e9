package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videocall/internal/adapters/store/memory"
	"github.com/dkeye/videocall/internal/app/session"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

type stubPeer struct {
	mu     sync.Mutex
	remote bool
	closed bool
}

func (p *stubPeer) AddTrack(webrtc.TrackLocal) error { return nil }
func (p *stubPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}
func (p *stubPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}
func (p *stubPeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }
func (p *stubPeer) SetRemoteDescription(webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = true
	return nil
}
func (p *stubPeer) AddICECandidate(webrtc.ICECandidateInit) error            { return nil }
func (p *stubPeer) OnICECandidate(func(*webrtc.ICECandidateInit))            {}
func (p *stubPeer) OnTrack(func(core.RemoteTrack))                           {}
func (p *stubPeer) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}
func (p *stubPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type stubPeers struct{}

func (stubPeers) NewPeer() (core.PeerConnection, error) { return &stubPeer{}, nil }

type stubMedia struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (m *stubMedia) Acquire(context.Context) (*core.TrackSet, *core.RemoteSink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	m.acquired++
	return core.NewTrackSet(nil), core.NewRemoteSink(), nil
}

func (m *stubMedia) Release(ts *core.TrackSet) {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	ts.Stop()
}

func (m *stubMedia) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

// countingStore records whether anything reached the store.
type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

func (s *countingStore) touch() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *countingStore) CreateRoom(ctx context.Context, offer domain.SessionDescription, creator string) (domain.RoomID, error) {
	s.touch()
	return s.Store.CreateRoom(ctx, offer, creator)
}

func (s *countingStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	s.touch()
	return s.Store.GetRoom(ctx, id)
}

type recordingObserver struct {
	mu     sync.Mutex
	rooms  []domain.RoomID
	states []domain.State
	errs   []error
}

func (o *recordingObserver) RoomAssigned(id domain.RoomID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rooms = append(o.rooms, id)
}

func (o *recordingObserver) StateChanged(s domain.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) Error(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) snapshot() ([]domain.RoomID, []domain.State, []error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.RoomID(nil), o.rooms...),
		append([]domain.State(nil), o.states...),
		append([]error(nil), o.errs...)
}

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

func newTestCoordinator(store core.SignalingStore, media core.MediaEndpoint, obs Observer) *Coordinator {
	return NewCoordinator(store, media, stubPeers{}, obs, session.Options{CleanupInterval: time.Millisecond})
}

func TestCallWithoutMediaTouchesNothing(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	obs := &recordingObserver{}
	c := newTestCoordinator(store, &stubMedia{}, obs)
	defer c.Close(context.Background())
	ctx := context.Background()

	if _, err := c.CreateRoom(ctx); !errors.Is(err, domain.ErrMediaNotReady) {
		t.Fatalf("CreateRoom = %v", err)
	}
	if err := c.JoinRoom(ctx, "room"); !errors.Is(err, domain.ErrMediaNotReady) {
		t.Fatalf("JoinRoom = %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store called %d times", store.calls)
	}
	eventually(t, "errors observed", func() bool {
		_, _, errs := obs.snapshot()
		return len(errs) == 2
	})
}

func TestOpenMediaErrors(t *testing.T) {
	obs := &recordingObserver{}
	media := &stubMedia{err: domain.ErrPermissionDenied}
	c := newTestCoordinator(memory.New(), media, obs)
	defer c.Close(context.Background())

	if err := c.OpenMedia(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("OpenMedia = %v", err)
	}
	if c.MediaReady() {
		t.Fatal("media ready after a failed open")
	}
}

func TestCreateJoinHangUp(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	callerObs := &recordingObserver{}
	callerMedia := &stubMedia{}
	caller := newTestCoordinator(store, callerMedia, callerObs)
	if err := caller.OpenMedia(ctx); err != nil {
		t.Fatal(err)
	}
	if err := caller.OpenMedia(ctx); err != nil {
		t.Fatal(err)
	}
	if a, _ := callerMedia.counts(); a != 1 {
		t.Fatalf("media acquired %d times", a)
	}

	id, err := caller.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if caller.RoomID() != id || caller.State() != domain.StateAwaitingAnswer {
		t.Fatalf("room %q state %s", caller.RoomID(), caller.State())
	}
	if caller.MediaReady() {
		t.Fatal("media still held by the coordinator after handing it to the call")
	}

	callee := newTestCoordinator(store, &stubMedia{}, nil)
	if err := callee.OpenMedia(ctx); err != nil {
		t.Fatal(err)
	}
	if err := callee.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	eventually(t, "caller connected", func() bool { return caller.State() == domain.StateConnected })

	caller.HangUp(ctx)
	caller.HangUp(ctx)
	if caller.State() != domain.StateIdle || caller.RoomID() != "" {
		t.Fatalf("after hang up: state %s room %q", caller.State(), caller.RoomID())
	}
	if _, released := callerMedia.counts(); released != 1 {
		t.Fatalf("media released %d times", released)
	}
	if _, err := store.GetRoom(ctx, id); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("room survived hang up: %v", err)
	}

	eventually(t, "observer saw the call", func() bool {
		rooms, states, _ := callerObs.snapshot()
		return len(rooms) == 1 && rooms[0] == id && len(states) > 0 && states[len(states)-1] == domain.StateClosed
	})
	_, states, _ := callerObs.snapshot()
	want := []domain.State{domain.StateOffering, domain.StateAwaitingAnswer, domain.StateConnected, domain.StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states %v, want %v", states, want)
		}
	}

	callee.Close(ctx)
	caller.Close(ctx)
}

func TestJoinMissingRoomKeepsMedia(t *testing.T) {
	media := &stubMedia{}
	c := newTestCoordinator(memory.New(), media, nil)
	defer c.Close(context.Background())
	ctx := context.Background()

	if err := c.OpenMedia(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.JoinRoom(ctx, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("JoinRoom = %v", err)
	}
	if !c.MediaReady() {
		t.Fatal("media lost after a join that never started")
	}
	if _, released := media.counts(); released != 0 {
		t.Fatalf("media released %d times", released)
	}
}

func TestHangUpWithoutCall(t *testing.T) {
	c := newTestCoordinator(memory.New(), &stubMedia{}, nil)
	c.HangUp(context.Background())
	c.Close(context.Background())
	if c.State() != domain.StateIdle {
		t.Fatalf("state %s", c.State())
	}
}
