// Package remote is a core.SignalingStore backed by a rendezvous server
// reached over HTTP, with watches carried on websockets.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/adapters/wire"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

type Store struct {
	base   *url.URL
	client *http.Client
	dialer *websocket.Dialer
}

var _ core.SignalingStore = (*Store)(nil)

// New points a store at serverURL. The cookie jar keeps the server's client
// token stable across calls, so rooms created here share one creator.
func New(serverURL string, timeout time.Duration) (*Store, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", serverURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		base:   base,
		client: &http.Client{Jar: jar, Timeout: timeout},
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: timeout,
		},
	}, nil
}

func (s *Store) CreateRoom(ctx context.Context, offer domain.SessionDescription, creator string) (domain.RoomID, error) {
	var resp wire.CreateRoomResponse
	req := wire.CreateRoomRequest{Offer: &offer, Creator: creator}
	if err := s.call(ctx, http.MethodPost, wire.RoomsPath(), req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	if err := s.call(ctx, http.MethodGet, wire.RoomPath(id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var rooms []domain.Room
	if err := s.call(ctx, http.MethodGet, wire.RoomsPath(), nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *Store) SetAnswer(ctx context.Context, id domain.RoomID, answer domain.SessionDescription) error {
	return s.call(ctx, http.MethodPut, wire.AnswerPath(id), answer, nil)
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.RoomID, l domain.CandidateLog, candidate json.RawMessage) error {
	return s.call(ctx, http.MethodPost, wire.CandidatesPath(id, l), candidate, nil)
}

func (s *Store) ListCandidates(ctx context.Context, id domain.RoomID, l domain.CandidateLog) ([]domain.CandidateRecord, error) {
	var recs []domain.CandidateRecord
	if err := s.call(ctx, http.MethodGet, wire.CandidatesPath(id, l), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return s.call(ctx, http.MethodDelete, wire.RoomPath(id), nil, nil)
}

func (s *Store) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrStoreUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrStoreUnavailable, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var e wire.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err == nil && e.Error != "" {
		return wire.ErrorFor(e.Error)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.ErrRoomNotFound
	case http.StatusConflict:
		return domain.ErrAlreadyAnswered
	}
	log.Warn().Str("module", "store.remote").Int("status", resp.StatusCode).Msg("unexpected response")
	return fmt.Errorf("%w: status %d", domain.ErrStoreUnavailable, resp.StatusCode)
}
