// Package orch coordinates the user-facing call actions on top of a
// connection session: open media, create a room, join a room, hang up.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/app/session"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

// Observer receives notifications for a presentation layer.
// Calls are made from one goroutine, in order, never from the caller of a
// Coordinator method, so an observer may call back into the Coordinator.
type Observer interface {
	RoomAssigned(domain.RoomID)
	StateChanged(domain.State)
	Error(error)
}

type NopObserver struct{}

func (NopObserver) RoomAssigned(domain.RoomID) {}
func (NopObserver) StateChanged(domain.State)  {}
func (NopObserver) Error(error)                {}

type Coordinator struct {
	Store   core.SignalingStore
	Media   core.MediaEndpoint
	Peers   core.PeerFactory
	Session session.Options

	observer Observer
	notes    *core.Feed[func(Observer)]

	mu      sync.Mutex
	tracks  *core.TrackSet
	sink    *core.RemoteSink
	current *session.Session
}

func NewCoordinator(store core.SignalingStore, media core.MediaEndpoint, peers core.PeerFactory, obs Observer, opts session.Options) *Coordinator {
	if obs == nil {
		obs = NopObserver{}
	}
	c := &Coordinator{
		Store:    store,
		Media:    media,
		Peers:    peers,
		Session:  opts,
		observer: obs,
	}
	c.notes = core.NewFeed(nil, func(fn func(Observer)) { fn(c.observer) })
	return c
}

func (c *Coordinator) notify(fn func(Observer)) { c.notes.Push(fn) }

// OpenMedia acquires the local camera and microphone.
func (c *Coordinator) OpenMedia(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracks != nil && !c.tracks.Stopped() {
		return nil
	}
	tracks, sink, err := c.Media.Acquire(ctx)
	if err != nil {
		c.notify(func(o Observer) { o.Error(err) })
		return fmt.Errorf("open media: %w", err)
	}
	c.tracks, c.sink = tracks, sink
	log.Info().Str("module", "orch").Int("tracks", len(tracks.Tracks())).Msg("media opened")
	return nil
}

func (c *Coordinator) MediaReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks != nil && !c.tracks.Stopped()
}

// CreateRoom starts a call as the caller and returns the room id to share.
// The call connects once a peer joins.
func (c *Coordinator) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	sess, tracks, sink, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	id, err := sess.Initiate(ctx, tracks, sink)
	if err != nil {
		c.settle(sess, tracks, sink)
		c.notify(func(o Observer) { o.Error(err) })
		return "", err
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("room created, waiting for peer")
	c.notify(func(o Observer) { o.RoomAssigned(id) })
	return id, nil
}

// JoinRoom answers the call waiting in room id.
func (c *Coordinator) JoinRoom(ctx context.Context, id domain.RoomID) error {
	sess, tracks, sink, err := c.begin(ctx)
	if err != nil {
		return err
	}
	if err := sess.Join(ctx, id, tracks, sink); err != nil {
		c.settle(sess, tracks, sink)
		c.notify(func(o Observer) { o.Error(err) })
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("joined room")
	c.notify(func(o Observer) { o.RoomAssigned(id) })
	return nil
}

// begin hangs up any previous call and hands the local media to a new session.
func (c *Coordinator) begin(ctx context.Context) (*session.Session, *core.TrackSet, *core.RemoteSink, error) {
	c.mu.Lock()
	if c.tracks == nil || c.tracks.Stopped() {
		c.mu.Unlock()
		err := domain.ErrMediaNotReady
		c.notify(func(o Observer) { o.Error(err) })
		return nil, nil, nil, err
	}
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		c.closeSession(ctx, prev)
	}

	opts := c.Session
	userState := opts.OnState
	opts.OnState = func(s domain.State) {
		if userState != nil {
			userState(s)
		}
		c.notify(func(o Observer) { o.StateChanged(s) })
	}
	userErr := opts.OnError
	opts.OnError = func(err error) {
		if userErr != nil {
			userErr(err)
		}
		c.notify(func(o Observer) { o.Error(err) })
	}
	sess := session.New(session.Deps{Store: c.Store, Peers: c.Peers, Media: c.Media}, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	tracks, sink := c.tracks, c.sink
	c.current = sess
	// the session owns the media from here on
	c.tracks, c.sink = nil, nil
	return sess, tracks, sink, nil
}

// settle handles a failed Initiate or Join. A session still Idle never took
// the media, so it goes back to the coordinator.
func (c *Coordinator) settle(sess *session.Session, tracks *core.TrackSet, sink *core.RemoteSink) {
	idle := sess.State() == domain.StateIdle
	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	if idle && c.tracks == nil {
		c.tracks, c.sink = tracks, sink
	}
	c.mu.Unlock()

	if idle {
		_ = sess.Close(context.Background())
	}
}

// HangUp ends the current call and releases the local media. It never fails
// from the caller's point of view; problems are logged.
func (c *Coordinator) HangUp(ctx context.Context) {
	c.mu.Lock()
	sess := c.current
	tracks := c.tracks
	sink := c.sink
	c.current, c.tracks, c.sink = nil, nil, nil
	c.mu.Unlock()

	if sess != nil {
		c.closeSession(ctx, sess)
	}
	if tracks != nil {
		c.Media.Release(tracks)
	}
	if sink != nil {
		sink.Clear()
	}
	log.Info().Str("module", "orch").Msg("hung up")
}

func (c *Coordinator) closeSession(ctx context.Context, sess *session.Session) {
	if err := sess.Close(ctx); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(sess.RoomID())).Msg("hang up")
	}
}

// RoomID is the room of the current call, empty when there is none.
func (c *Coordinator) RoomID() domain.RoomID {
	if s := c.session(); s != nil {
		return s.RoomID()
	}
	return ""
}

// State is the lifecycle state of the current call; Idle when there is none.
func (c *Coordinator) State() domain.State {
	if s := c.session(); s != nil {
		return s.State()
	}
	return domain.StateIdle
}

func (c *Coordinator) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) Rooms(ctx context.Context) ([]domain.Room, error) {
	return c.Store.ListRooms(ctx)
}

// Close hangs up and stops observer delivery.
func (c *Coordinator) Close(ctx context.Context) {
	c.HangUp(ctx)
	c.notes.Cancel()
}
