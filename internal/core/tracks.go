package core

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// TrackSet is an immutable set of local tracks with a stop hook.
type TrackSet struct {
	tracks []webrtc.TrackLocal
	stop   func()

	mu      sync.Mutex
	stopped bool
}

func NewTrackSet(stop func(), tracks ...webrtc.TrackLocal) *TrackSet {
	return &TrackSet{tracks: append([]webrtc.TrackLocal(nil), tracks...), stop: stop}
}

func (s *TrackSet) Tracks() []webrtc.TrackLocal {
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

// Stop runs the stop hook once; later calls are no-ops.
func (s *TrackSet) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.stop != nil {
		s.stop()
	}
}

func (s *TrackSet) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RemoteSink accumulates incoming tracks, at most once per track id.
type RemoteSink struct {
	mu     sync.RWMutex
	byID   map[string]RemoteTrack
	order  []string
	closed bool
}

func NewRemoteSink() *RemoteSink {
	return &RemoteSink{byID: make(map[string]RemoteTrack)}
}

// Add reports whether t was new. A cleared sink accepts nothing.
func (s *RemoteSink) Add(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.byID[t.ID()]; ok {
		return false
	}
	s.byID[t.ID()] = t
	s.order = append(s.order, t.ID())
	return true
}

func (s *RemoteSink) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *RemoteSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear drops every track and refuses further ones.
func (s *RemoteSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byID = make(map[string]RemoteTrack)
	s.order = nil
}
