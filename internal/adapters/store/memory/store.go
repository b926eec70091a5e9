// Package memory is an in-process signaling store. It is the default backend
// of the rendezvous server and the store used by tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

type candidateFeed = core.Feed[domain.CandidateRecord]
type roomFeed = core.Feed[domain.Room]

type roomEntry struct {
	room *domain.Room
	logs map[domain.CandidateLog][]domain.CandidateRecord

	candWatch map[domain.CandidateLog]map[*candidateFeed]struct{}
	roomWatch map[*roomFeed]struct{}
}

func newRoomEntry(room *domain.Room) *roomEntry {
	return &roomEntry{
		room: room,
		logs: make(map[domain.CandidateLog][]domain.CandidateRecord),
		candWatch: map[domain.CandidateLog]map[*candidateFeed]struct{}{
			domain.CallerCandidates: {},
			domain.CalleeCandidates: {},
		},
		roomWatch: make(map[*roomFeed]struct{}),
	}
}

// Store is a threadsafe in-memory core.SignalingStore.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
	now   func() time.Time
}

var _ core.SignalingStore = (*Store)(nil)

func New() *Store {
	return &Store{
		rooms: make(map[domain.RoomID]*roomEntry),
		now:   time.Now,
	}
}

func (s *Store) CreateRoom(_ context.Context, offer domain.SessionDescription, creator string) (domain.RoomID, error) {
	id := domain.RoomID(uuid.NewString())
	o := offer
	room := &domain.Room{ID: id, Offer: &o, Creator: creator, CreatedAt: s.now()}

	s.mu.Lock()
	s.rooms[id] = newRoomEntry(room)
	s.mu.Unlock()

	log.Info().Str("module", "store.memory").Str("room", string(id)).Str("creator", creator).Msg("room created")
	return id, nil
}

func (s *Store) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return e.room.Clone(), nil
}

func (s *Store) ListRooms(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, e := range s.rooms {
		out = append(out, *e.room.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetAnswer(_ context.Context, id domain.RoomID, answer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if e.room.Answer != nil {
		return domain.ErrAlreadyAnswered
	}
	a := answer
	e.room.Answer = &a
	snap := *e.room.Clone()
	for f := range e.roomWatch {
		f.Push(snap)
	}
	log.Info().Str("module", "store.memory").Str("room", string(id)).Msg("answer set")
	return nil
}

func (s *Store) AppendCandidate(_ context.Context, id domain.RoomID, l domain.CandidateLog, candidate json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	rec := domain.CandidateRecord{
		ID:        uuid.NewString(),
		Room:      id,
		Log:       l,
		Seq:       uint64(len(e.logs[l]) + 1),
		Candidate: append(json.RawMessage(nil), candidate...),
		CreatedAt: s.now(),
	}
	e.logs[l] = append(e.logs[l], rec)
	for f := range e.candWatch[l] {
		f.Push(rec)
	}
	log.Debug().Str("module", "store.memory").Str("room", string(id)).Str("log", string(l)).Uint64("seq", rec.Seq).Msg("candidate appended")
	return nil
}

func (s *Store) ListCandidates(_ context.Context, id domain.RoomID, l domain.CandidateLog) ([]domain.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return append([]domain.CandidateRecord(nil), e.logs[l]...), nil
}

func (s *Store) WatchCandidates(
	_ context.Context,
	id domain.RoomID,
	l domain.CandidateLog,
	onAdded func(domain.CandidateRecord),
) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	f := core.NewFeed(func(r domain.CandidateRecord) string { return r.ID }, onAdded)
	e.candWatch[l][f] = struct{}{}
	f.OnCancel(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.rooms[id]; ok {
			delete(cur.candWatch[l], f)
		}
	})
	return f, nil
}

func (s *Store) WatchRoom(_ context.Context, id domain.RoomID, onChange func(domain.Room)) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	f := core.NewFeed(nil, onChange)
	e.roomWatch[f] = struct{}{}
	f.OnCancel(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.rooms[id]; ok {
			delete(cur.roomWatch, f)
		}
	})
	return f, nil
}

// DeleteRoom drops the room and both logs in one step and ends live watches on it.
// Deleting an unknown room is not an error.
func (s *Store) DeleteRoom(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	e, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	for _, feeds := range e.candWatch {
		for f := range feeds {
			f.Cancel()
		}
	}
	for f := range e.roomWatch {
		f.Cancel()
	}
	log.Info().Str("module", "store.memory").Str("room", string(id)).Msg("room deleted")
	return nil
}
