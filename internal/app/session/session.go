// Package session drives one side of a call: the offer/answer exchange, trickled
// ICE candidates and teardown. Every protocol step and every callback from the
// peer connection or the store runs on a single loop goroutine, so session
// state is never touched concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

type Deps struct {
	Store core.SignalingStore
	Peers core.PeerFactory
	// Media releases the local track set on teardown. When nil the set is stopped directly.
	Media core.MediaEndpoint
}

type Options struct {
	// Creator is recorded on rooms this session creates.
	Creator string
	// CleanupAttempts bounds retries of the room deletion on teardown.
	CleanupAttempts uint64
	// CleanupInterval is the first backoff interval between deletion attempts.
	CleanupInterval time.Duration
	// CleanupTimeout bounds the whole remote cleanup.
	CleanupTimeout time.Duration

	// OnState is called from the loop goroutine on every state change.
	// It must not call back into the session.
	OnState func(domain.State)
	// OnError reports failures that happen outside Initiate and Join,
	// e.g. while applying an answer. Same constraints as OnState.
	OnError func(error)
}

func (o *Options) defaults() {
	if o.CleanupAttempts == 0 {
		o.CleanupAttempts = 3
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = 200 * time.Millisecond
	}
	if o.CleanupTimeout == 0 {
		o.CleanupTimeout = 10 * time.Second
	}
}

type Session struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	state  domain.State
	role   domain.Role
	roomID domain.RoomID
	err    error

	// owned by the loop goroutine
	pc            core.PeerConnection
	tracks        *core.TrackSet
	sink          *core.RemoteSink
	candSub       core.Subscription
	roomSub       core.Subscription
	gate          gate
	seen          map[string]struct{}
	ownsRoom      bool
	answerApplied bool
	torn          bool

	closing  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	box      *mailbox
	loopDone chan struct{}
}

func New(deps Deps, opts Options) *Session {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:     deps,
		opts:     opts,
		logger:   log.With().Str("module", "session").Logger(),
		state:    domain.StateIdle,
		seen:     make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		box:      newMailbox(),
		loopDone: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// RoomID is empty until the room is known.
func (s *Session) RoomID() domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.loopDone }

// Initiate runs the caller side: offer, room creation and the watches that
// pick up the callee's answer and candidates. It returns once the room exists;
// the move to Connected happens when the answer arrives.
func (s *Session) Initiate(ctx context.Context, tracks *core.TrackSet, sink *core.RemoteSink) (domain.RoomID, error) {
	err := s.do(ctx, func(opCtx context.Context) error {
		return s.initiate(opCtx, tracks, sink)
	})
	return s.RoomID(), err
}

// Join runs the callee side against an existing room. Validation errors
// (domain.ErrRoomNotFound, domain.ErrNoOffer) leave the session Idle with no
// peer connection created and no track attached.
func (s *Session) Join(ctx context.Context, id domain.RoomID, tracks *core.TrackSet, sink *core.RemoteSink) error {
	return s.do(ctx, func(opCtx context.Context) error {
		return s.join(opCtx, id, tracks, sink)
	})
}

// Close tears the session down from any state. Watches are cancelled before
// it returns. Repeated calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		select {
		case <-s.loopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// abort a protocol step that is waiting on the store
	s.cancel()
	err := s.do(ctx, func(context.Context) error {
		s.teardown(domain.StateClosed)
		return nil
	})
	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	cmd := command{
		fn:     func() error { return fn(opCtx) },
		result: make(chan error, 1),
	}
	if !s.box.post(cmd) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-cmd.result:
		return err
	case <-s.loopDone:
		select {
		case err := <-cmd.result:
			return err
		default:
			return domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		item, ok := s.box.next()
		if !ok {
			return
		}
		switch v := item.(type) {
		case command:
			v.result <- v.fn()
		default:
			s.handle(item)
		}
		if s.torn {
			return
		}
	}
}

func (s *Session) handle(item any) {
	var err error
	switch ev := item.(type) {
	case localCandidate:
		err = s.onLocalCandidate(ev.c)
	case remoteCandidate:
		err = s.onRemoteCandidate(ev.rec)
	case remoteTrack:
		s.onRemoteTrack(ev.t)
	case roomChanged:
		err = s.onRoomChanged(ev.room)
	case watchEnded:
		err = s.onWatchEnded(ev.what)
	case peerState:
		err = s.onPeerState(ev.s)
	}
	if err != nil {
		err = s.fail(err)
		if s.opts.OnError != nil && !s.closing.Load() {
			s.opts.OnError(err)
		}
	}
}

func (s *Session) setState(to domain.State) error {
	s.mu.Lock()
	from := s.state
	if err := transition(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	if s.opts.OnState != nil {
		s.opts.OnState(to)
	}
	return nil
}

func (s *Session) setRole(r domain.Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
	s.logger = log.With().Str("module", "session").Str("role", string(r)).Logger()
}

func (s *Session) setRoom(id domain.RoomID) {
	s.mu.Lock()
	s.roomID = id
	s.mu.Unlock()
	s.logger = s.logger.With().Str("room", string(id)).Logger()
}

// fail moves the session to Failed, tears it down and returns err.
// A failure caused by a concurrent Close ends in Closed instead.
func (s *Session) fail(err error) error {
	if s.torn {
		return err
	}
	if s.closing.Load() {
		s.logger.Info().Err(err).Msg("step aborted by close")
		s.teardown(domain.StateClosed)
		return err
	}
	s.logger.Error().Err(err).Msg("session failed")
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.teardown(domain.StateFailed)
	return err
}

func signalingErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrSignalingFailure, step, err)
}

func toDomain(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func fromDomain(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}
