package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

func (s *Session) initiate(ctx context.Context, tracks *core.TrackSet, sink *core.RemoteSink) error {
	if err := transition(s.State(), domain.StateOffering); err != nil {
		return err
	}
	s.setRole(domain.RoleCaller)
	s.tracks, s.sink = tracks, sink

	if err := s.openPeer(); err != nil {
		return s.fail(err)
	}
	if err := s.setState(domain.StateOffering); err != nil {
		return s.fail(err)
	}

	offer, err := s.pc.CreateOffer()
	if err != nil {
		return s.fail(signalingErr("create offer", err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail(signalingErr("set local description", err))
	}

	id, err := s.deps.Store.CreateRoom(ctx, toDomain(offer), s.opts.Creator)
	if err != nil {
		return s.fail(fmt.Errorf("create room: %w", err))
	}
	s.setRoom(id)
	s.ownsRoom = true
	if err := s.setState(domain.StateAwaitingAnswer); err != nil {
		return s.fail(err)
	}

	if err := s.watchRemoteCandidates(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.watchRoom(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) join(ctx context.Context, id domain.RoomID, tracks *core.TrackSet, sink *core.RemoteSink) error {
	if err := transition(s.State(), domain.StateAnswering); err != nil {
		return err
	}

	// validation: nothing is created or attached before these pass
	room, err := s.deps.Store.GetRoom(ctx, id)
	if err != nil {
		return fmt.Errorf("get room %s: %w", id, err)
	}
	if room.Offer == nil {
		return fmt.Errorf("room %s: %w", id, domain.ErrNoOffer)
	}

	s.setRole(domain.RoleCallee)
	s.setRoom(id)
	s.tracks, s.sink = tracks, sink

	if err := s.openPeer(); err != nil {
		return s.fail(err)
	}
	if err := s.setState(domain.StateAnswering); err != nil {
		return s.fail(err)
	}

	if err := s.pc.SetRemoteDescription(fromDomain(*room.Offer)); err != nil {
		return s.fail(signalingErr("set remote description", err))
	}
	if err := s.flushCandidates(s.gate.release()); err != nil {
		return s.fail(err)
	}

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		return s.fail(signalingErr("create answer", err))
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.fail(signalingErr("set local description", err))
	}
	if err := s.deps.Store.SetAnswer(ctx, id, toDomain(answer)); err != nil {
		if errors.Is(err, domain.ErrAlreadyAnswered) || errors.Is(err, domain.ErrRoomNotFound) {
			return s.fail(signalingErr("persist answer", err))
		}
		return s.fail(fmt.Errorf("persist answer: %w", err))
	}
	s.ownsRoom = true
	if err := s.setState(domain.StateConnected); err != nil {
		return s.fail(err)
	}

	if err := s.watchRemoteCandidates(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.watchRoom(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

// openPeer creates the peer connection, routes its callbacks into the
// mailbox and attaches the local tracks.
func (s *Session) openPeer() error {
	pc, err := s.deps.Peers.NewPeer()
	if err != nil {
		return signalingErr("create peer connection", err)
	}
	s.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) { s.box.post(localCandidate{c: c}) })
	pc.OnTrack(func(t core.RemoteTrack) { s.box.post(remoteTrack{t: t}) })
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) { s.box.post(peerState{s: st}) })

	if s.tracks == nil {
		return nil
	}
	for _, t := range s.tracks.Tracks() {
		if err := pc.AddTrack(t); err != nil {
			return signalingErr("add track "+t.ID(), err)
		}
	}
	return nil
}

// watchRemoteCandidates subscribes to the peer's log and then replays what is
// already there. Records seen through both paths are applied once.
func (s *Session) watchRemoteCandidates(ctx context.Context) error {
	id, remote := s.RoomID(), s.Role().RemoteLog()
	sub, err := s.deps.Store.WatchCandidates(ctx, id, remote, func(rec domain.CandidateRecord) {
		s.box.post(remoteCandidate{rec: rec})
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", remote, err)
	}
	s.candSub = sub
	s.observeEnd(sub, string(remote))

	backlog, err := s.deps.Store.ListCandidates(ctx, id, remote)
	if err != nil {
		return fmt.Errorf("list %s: %w", remote, err)
	}
	for _, rec := range backlog {
		if err := s.onRemoteCandidate(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) watchRoom(ctx context.Context) error {
	id := s.RoomID()
	sub, err := s.deps.Store.WatchRoom(ctx, id, func(r domain.Room) {
		s.box.post(roomChanged{room: r})
	})
	if err != nil {
		return fmt.Errorf("watch room: %w", err)
	}
	s.roomSub = sub
	s.observeEnd(sub, "room")

	// the answer may have landed before the watch started
	room, err := s.deps.Store.GetRoom(ctx, id)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	return s.onRoomChanged(*room)
}

func (s *Session) onLocalCandidate(c *webrtc.ICECandidateInit) error {
	if c == nil {
		s.logger.Debug().Msg("local candidate gathering complete")
		return nil
	}
	if s.RoomID() == "" {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	l := s.Role().LocalLog()
	if err := s.deps.Store.AppendCandidate(s.ctx, s.RoomID(), l, raw); err != nil {
		return fmt.Errorf("append candidate to %s: %w", l, err)
	}
	s.logger.Debug().Str("log", string(l)).Str("candidate", c.Candidate).Msg("local candidate sent")
	return nil
}

func (s *Session) onRemoteCandidate(rec domain.CandidateRecord) error {
	if _, dup := s.seen[rec.ID]; dup {
		return nil
	}
	s.seen[rec.ID] = struct{}{}

	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(rec.Candidate, &c); err != nil {
		s.logger.Warn().Err(err).Str("record", rec.ID).Msg("skipping malformed remote candidate")
		return nil
	}
	ready := s.gate.push(c)
	if len(ready) == 0 {
		s.logger.Debug().Int("queued", s.gate.pending()).Msg("remote candidate queued until remote description")
	}
	return s.flushCandidates(ready)
}

func (s *Session) flushCandidates(cs []webrtc.ICECandidateInit) error {
	for _, c := range cs {
		if err := s.pc.AddICECandidate(c); err != nil {
			return signalingErr("add ice candidate", err)
		}
	}
	return nil
}

func (s *Session) onRemoteTrack(t core.RemoteTrack) {
	if s.sink == nil {
		return
	}
	if s.sink.Add(t) {
		s.logger.Info().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("remote track added")
	}
}

func (s *Session) onRoomChanged(room domain.Room) error {
	if s.Role() != domain.RoleCaller || s.answerApplied || room.Answer == nil {
		return nil
	}
	if err := s.pc.SetRemoteDescription(fromDomain(*room.Answer)); err != nil {
		return signalingErr("apply answer", err)
	}
	s.answerApplied = true
	if err := s.flushCandidates(s.gate.release()); err != nil {
		return err
	}
	return s.setState(domain.StateConnected)
}

// observeEnd reports a subscription that stops on its own. Ends caused by
// teardown arrive after the mailbox is closed and are dropped.
func (s *Session) observeEnd(sub core.Subscription, what string) {
	go func() {
		<-sub.Done()
		s.box.post(watchEnded{what: what})
	}()
}

// onWatchEnded treats a room that vanished under us as a remote hang-up. Any
// other end of a watch means answers or candidates could be lost, so the
// session fails.
func (s *Session) onWatchEnded(what string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.CleanupTimeout)
	defer cancel()
	_, err := s.deps.Store.GetRoom(ctx, s.RoomID())
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		s.logger.Info().Str("watch", what).Msg("room deleted by peer, closing")
		s.ownsRoom = false
		s.teardown(domain.StateClosed)
		return nil
	case err != nil:
		return fmt.Errorf("%s watch ended: %w", what, err)
	default:
		return fmt.Errorf("%w: %s watch ended while room still exists", domain.ErrStoreUnavailable, what)
	}
}

func (s *Session) onPeerState(st webrtc.PeerConnectionState) error {
	s.logger.Info().Str("peer_connection_state", st.String()).Msg("peer state")
	if st == webrtc.PeerConnectionStateFailed {
		return signalingErr("peer connection", errors.New("transport failed"))
	}
	return nil
}

// teardown releases everything the session holds. Local resources go first;
// the remote room deletion is best effort and never blocks their release.
func (s *Session) teardown(final domain.State) {
	if s.torn {
		return
	}
	s.torn = true

	if s.candSub != nil {
		s.candSub.Cancel()
	}
	if s.roomSub != nil {
		s.roomSub.Cancel()
	}
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("peer connection close")
		}
	}
	if s.tracks != nil {
		if s.deps.Media != nil {
			s.deps.Media.Release(s.tracks)
		} else {
			s.tracks.Stop()
		}
	}
	if s.sink != nil {
		s.sink.Clear()
	}
	if s.ownsRoom {
		s.deleteRoom()
	}

	if err := s.setState(final); err != nil {
		s.logger.Warn().Err(err).Msg("final state")
	}
	s.cancel()
	s.box.close()
}

func (s *Session) deleteRoom() {
	id := s.RoomID()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CleanupTimeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.CleanupInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.opts.CleanupAttempts-1), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.deps.Store.DeleteRoom(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("room cleanup failed")
		}
		return err
	}, policy)
	if err != nil {
		s.logger.Warn().Err(err).Msg("room cleanup abandoned")
		return
	}
	s.ownsRoom = false
	s.logger.Info().Msg("room deleted")
}
