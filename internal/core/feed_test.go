package core

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func collect[T any](key func(T) string) (*Feed[T], func() []T) {
	var (
		mu  sync.Mutex
		got []T
	)
	f := NewFeed(key, func(v T) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	return f, func() []T {
		mu.Lock()
		defer mu.Unlock()
		return append([]T(nil), got...)
	}
}

func waitLen[T any](t *testing.T, get func() []T, n int) []T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := get(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d values, have %d", n, len(get()))
	return nil
}

func TestFeedDeliversInOrder(t *testing.T) {
	f, get := collect[int](nil)
	defer f.Cancel()

	for i := 0; i < 100; i++ {
		f.Push(i)
	}
	got := waitLen(t, get, 100)
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d", i, v)
		}
	}
}

func TestFeedDropsDuplicateKeys(t *testing.T) {
	f, get := collect(func(s string) string { return s })
	defer f.Cancel()

	for _, s := range []string{"a", "b", "a", "c", "b"} {
		f.Push(s)
	}
	f.Push("end")
	got := waitLen(t, get, 4)
	want := []string{"a", "b", "c", "end"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFeedCancelStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var (
		mu    sync.Mutex
		calls int
	)
	f := NewFeed[int](nil, func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	hooked := make(chan struct{})
	f.OnCancel(func() { close(hooked) })

	f.Push(1)
	f.Push(2)
	<-started

	cancelled := make(chan struct{})
	go func() {
		f.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-cancelled
	<-hooked

	if f.Push(3) {
		t.Fatal("Push after Cancel reported success")
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	f.Cancel()
}

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType
}

func (r fakeRemote) ID() string                { return r.id }
func (r fakeRemote) StreamID() string          { return "stream" }
func (r fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }

func TestRemoteSink(t *testing.T) {
	s := NewRemoteSink()
	if !s.Add(fakeRemote{id: "a", kind: webrtc.RTPCodecTypeAudio}) {
		t.Fatal("first add rejected")
	}
	if s.Add(fakeRemote{id: "a", kind: webrtc.RTPCodecTypeAudio}) {
		t.Fatal("duplicate id accepted")
	}
	s.Add(fakeRemote{id: "v", kind: webrtc.RTPCodecTypeVideo})
	if s.Len() != 2 || s.Tracks()[1].ID() != "v" {
		t.Fatalf("unexpected tracks %v", s.Tracks())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatal("Clear left tracks behind")
	}
	if s.Add(fakeRemote{id: "late"}) {
		t.Fatal("cleared sink accepted a track")
	}
}

func TestTrackSetStopOnce(t *testing.T) {
	n := 0
	ts := NewTrackSet(func() { n++ })
	ts.Stop()
	ts.Stop()
	if n != 1 || !ts.Stopped() {
		t.Fatalf("stop hook ran %d times, stopped=%v", n, ts.Stopped())
	}
}
