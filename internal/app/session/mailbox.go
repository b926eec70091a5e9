package session

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

// Events posted by peer-connection and store callbacks.
type (
	localCandidate  struct{ c *webrtc.ICECandidateInit }
	remoteCandidate struct{ rec domain.CandidateRecord }
	remoteTrack     struct{ t core.RemoteTrack }
	roomChanged     struct{ room domain.Room }
	watchEnded      struct{ what string }
	peerState       struct{ s webrtc.PeerConnectionState }
)

// command runs a protocol step on the loop goroutine.
type command struct {
	fn     func() error
	result chan error
}

// mailbox is an unbounded FIFO so callbacks never block on a busy loop.
type mailbox struct {
	mu     sync.Mutex
	items  []any
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(v any) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// next blocks until an item is available. It reports false once closed.
func (m *mailbox) next() (any, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, true
		}
		m.mu.Unlock()
		<-m.signal
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}
