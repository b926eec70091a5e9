package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/adapters/wire"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

var errUnexpectedFrame = errors.New("unexpected watch frame")

func (s *Store) WatchCandidates(
	ctx context.Context,
	id domain.RoomID,
	l domain.CandidateLog,
	onAdded func(domain.CandidateRecord),
) (core.Subscription, error) {
	f := core.NewFeed(func(r domain.CandidateRecord) string { return r.ID }, onAdded)
	err := s.watch(ctx, wire.CandidatesWatchPath(id, l), f, func(ev wire.WatchEvent) {
		if ev.Type == wire.EventCandidate && ev.Candidate != nil {
			f.Push(*ev.Candidate)
		}
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) WatchRoom(ctx context.Context, id domain.RoomID, onChange func(domain.Room)) (core.Subscription, error) {
	f := core.NewFeed(nil, onChange)
	err := s.watch(ctx, wire.RoomWatchPath(id), f, func(ev wire.WatchEvent) {
		if ev.Type == wire.EventRoom && ev.Room != nil {
			f.Push(*ev.Room)
		}
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

type feed interface {
	Cancel()
	OnCancel(func())
}

// watch dials the stream and waits for the server's ready frame, so nothing
// written after watch returns can be missed. ctx bounds only the handshake;
// the stream lives until the feed is cancelled or the server closes it.
func (s *Store) watch(ctx context.Context, path string, f feed, handle func(wire.WatchEvent)) error {
	u := *s.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += path

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		f.Cancel()
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return statusError(resp)
		}
		return fmt.Errorf("%w: dial %s: %w", domain.ErrStoreUnavailable, path, err)
	}

	first, err := readEvent(conn)
	if err == nil && first.Type == wire.EventError {
		err = wire.ErrorFor(first.Error)
	} else if err == nil && first.Type != wire.EventReady {
		err = fmt.Errorf("%w: %w: %s", domain.ErrStoreUnavailable, errUnexpectedFrame, first.Type)
	}
	if err != nil {
		_ = conn.Close()
		f.Cancel()
		return err
	}

	f.OnCancel(func() { _ = conn.Close() })
	go func() {
		defer f.Cancel()
		for {
			ev, err := readEvent(conn)
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("module", "store.remote").Str("path", path).Msg("watch stream ended")
				}
				return
			}
			handle(ev)
		}
	}()
	return nil
}

func readEvent(conn *websocket.Conn) (wire.WatchEvent, error) {
	var ev wire.WatchEvent
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", errUnexpectedFrame, err)
	}
	return ev, nil
}
