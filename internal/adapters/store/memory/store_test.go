package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/videocall/internal/domain"
)

var offer = domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}

func newRoom(t *testing.T, s *Store) domain.RoomID {
	t.Helper()
	id, err := s.CreateRoom(context.Background(), offer, "alice")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return id
}

type recorder struct {
	mu   sync.Mutex
	recs []domain.CandidateRecord
}

func (r *recorder) add(rec domain.CandidateRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T, n int) []domain.CandidateRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.recs) >= n {
			out := append([]domain.CandidateRecord(nil), r.recs...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records", n)
	return nil
}

func TestCreateAndGetRoom(t *testing.T) {
	s := New()
	id := newRoom(t, s)

	room, err := s.GetRoom(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Offer == nil || room.Offer.SDP != offer.SDP || room.Answer != nil || room.Creator != "alice" {
		t.Fatalf("unexpected room %+v", room)
	}

	room.Offer.SDP = "mutated"
	again, _ := s.GetRoom(context.Background(), id)
	if again.Offer.SDP != offer.SDP {
		t.Fatal("GetRoom returned a shared record")
	}

	if _, err := s.GetRoom(context.Background(), "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("GetRoom(missing) = %v", err)
	}
}

func TestSetAnswerOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := newRoom(t, s)
	answer := domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}

	if err := s.SetAnswer(ctx, id, answer); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if err := s.SetAnswer(ctx, id, answer); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("second SetAnswer = %v", err)
	}
	if err := s.SetAnswer(ctx, "missing", answer); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("SetAnswer(missing) = %v", err)
	}
}

func TestWatchCandidatesOrderAndOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := newRoom(t, s)

	before := json.RawMessage(`{"candidate":"before"}`)
	if err := s.AppendCandidate(ctx, id, domain.CallerCandidates, before); err != nil {
		t.Fatal(err)
	}

	var rec recorder
	sub, err := s.WatchCandidates(ctx, id, domain.CallerCandidates, rec.add)
	if err != nil {
		t.Fatalf("WatchCandidates: %v", err)
	}
	defer sub.Cancel()

	for _, c := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if err := s.AppendCandidate(ctx, id, domain.CallerCandidates, json.RawMessage(c)); err != nil {
			t.Fatal(err)
		}
	}
	// other log is not delivered
	if err := s.AppendCandidate(ctx, id, domain.CalleeCandidates, json.RawMessage(`{"n":9}`)); err != nil {
		t.Fatal(err)
	}

	got := rec.wait(t, 3)
	time.Sleep(20 * time.Millisecond)
	got = rec.wait(t, 3)
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, r := range got {
		if r.Seq != uint64(i+2) || r.Log != domain.CallerCandidates {
			t.Fatalf("record %d: %+v", i, r)
		}
	}

	all, err := s.ListCandidates(ctx, id, domain.CallerCandidates)
	if err != nil || len(all) != 4 || string(all[0].Candidate) != string(before) {
		t.Fatalf("ListCandidates = %v, %v", all, err)
	}
}

func TestWatchCancel(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := newRoom(t, s)

	var rec recorder
	sub, err := s.WatchCandidates(ctx, id, domain.CalleeCandidates, rec.add)
	if err != nil {
		t.Fatal(err)
	}
	sub.Cancel()
	_ = s.AppendCandidate(ctx, id, domain.CalleeCandidates, json.RawMessage(`{}`))
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.recs) != 0 {
		t.Fatalf("delivered after cancel: %v", rec.recs)
	}
}

func TestWatchRoomAndDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := newRoom(t, s)

	rooms := make(chan domain.Room, 4)
	sub, err := s.WatchRoom(ctx, id, func(r domain.Room) { rooms <- r })
	if err != nil {
		t.Fatal(err)
	}
	candSub, err := s.WatchCandidates(ctx, id, domain.CallerCandidates, func(domain.CandidateRecord) {})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetAnswer(ctx, id, domain.SessionDescription{Type: "answer", SDP: "a"}); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-rooms:
		if r.Answer == nil {
			t.Fatal("snapshot without answer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no room snapshot")
	}

	if err := s.DeleteRoom(ctx, id); err != nil {
		t.Fatal(err)
	}
	for _, d := range []<-chan struct{}{sub.Done(), candSub.Done()} {
		select {
		case <-d:
		case <-time.After(2 * time.Second):
			t.Fatal("watch not ended by delete")
		}
	}
	if _, err := s.GetRoom(ctx, id); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("GetRoom after delete = %v", err)
	}
	if _, err := s.ListCandidates(ctx, id, domain.CallerCandidates); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("ListCandidates after delete = %v", err)
	}
	if err := s.DeleteRoom(ctx, id); err != nil {
		t.Fatalf("second delete = %v", err)
	}
	if _, err := s.WatchRoom(ctx, id, func(domain.Room) {}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("WatchRoom(deleted) = %v", err)
	}
}

func TestListRoomsByCreation(t *testing.T) {
	s := New()
	base := time.Unix(1700000000, 0)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	first := newRoom(t, s)
	second := newRoom(t, s)
	rooms, err := s.ListRooms(context.Background())
	if err != nil || len(rooms) != 2 {
		t.Fatalf("ListRooms = %v, %v", rooms, err)
	}
	if rooms[0].ID != first || rooms[1].ID != second {
		t.Fatalf("order %s %s", rooms[0].ID, rooms[1].ID)
	}
}
