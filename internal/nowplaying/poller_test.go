package nowplaying

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftfm/drift-core/internal/spotify"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSource struct {
	mu       sync.Mutex
	state    *spotify.PlaybackState
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	overlap  atomic.Bool
	polls    atomic.Int32
	queues   atomic.Int32
}

func (f *fakeSource) PlaybackState(ctx context.Context) (*spotify.PlaybackState, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	f.polls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeSource) Queue(context.Context) (*spotify.Queue, error) {
	f.queues.Add(1)
	return &spotify.Queue{Queue: []spotify.Track{
		{Name: "One", Artists: []spotify.Artist{{Name: "A"}}},
		{Name: "Two", Artists: []spotify.Artist{{Name: "B"}}},
		{Name: "Three", Artists: []spotify.Artist{{Name: "C"}}},
		{Name: "Four", Artists: []spotify.Artist{{Name: "D"}}},
	}}, nil
}

func (f *fakeSource) setTrack(id string, playing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = &spotify.PlaybackState{
		IsPlaying:  playing,
		ProgressMS: 1000,
		Device:     &spotify.Device{ID: "d", Name: "Kitchen", IsActive: true},
		Item: &spotify.Track{
			ID:         id,
			Name:       "Track " + id,
			DurationMS: 200000,
			Artists:    []spotify.Artist{{Name: "Artist"}},
			Album:      spotify.Album{Name: "Album", Images: []spotify.Image{{URL: "https://img/" + id}}},
		},
	}
}

type session struct{ ok atomic.Bool }

func (s *session) Authenticated() bool { return s.ok.Load() }

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingPublisher) PublishNowPlaying(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestPollPublishesOnTrackChange(t *testing.T) {
	src := &fakeSource{}
	src.setTrack("t1", true)
	sess := &session{}
	sess.ok.Store(true)
	pub := &recordingPublisher{}
	store := &Store{}
	p := NewPoller(src, sess, pub, store, Options{Interval: time.Second, Timeout: 100 * time.Millisecond, QueueEvery: 10}, newLogger())

	p.Poll(context.Background())
	p.Poll(context.Background())
	if pub.count() != 1 {
		t.Fatalf("expected one publish for an unchanged track, got %d", pub.count())
	}

	src.setTrack("t2", true)
	p.Poll(context.Background())
	if pub.count() != 2 {
		t.Fatalf("expected publish on track change, got %d", pub.count())
	}

	snap, ok := store.Get()
	if !ok || snap.TrackID != "t2" || snap.ArtworkURL != "https://img/t2" || snap.Device != "Kitchen" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.UpNext) != queuePreview || snap.UpNext[0] != "One - A" {
		t.Fatalf("up next = %v", snap.UpNext)
	}
	if src.queues.Load() != 1 {
		t.Fatalf("queue refreshed %d times, want 1", src.queues.Load())
	}
}

func TestPollSkipsWhenLoggedOut(t *testing.T) {
	src := &fakeSource{}
	src.setTrack("t1", true)
	store := &Store{}
	store.Put(Snapshot{TrackID: "stale"})
	p := NewPoller(src, &session{}, nil, store, Options{}, newLogger())

	p.Poll(context.Background())
	if src.polls.Load() != 0 {
		t.Fatal("logged out poll must not call the music service")
	}
	if _, ok := store.Get(); ok {
		t.Fatal("snapshot should be cleared when logged out")
	}
}

func TestPollErrorKeepsLastSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.setTrack("t1", false)
	store := &Store{}
	p := NewPoller(src, nil, nil, store, Options{}, newLogger())
	p.Poll(context.Background())

	src.mu.Lock()
	src.err = errors.New("502")
	src.mu.Unlock()
	p.Poll(context.Background())

	snap, ok := store.Get()
	if !ok || snap.TrackID != "t1" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPollTimeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	src.setTrack("t1", true)
	store := &Store{}
	p := NewPoller(src, nil, nil, store, Options{Interval: time.Second, Timeout: 20 * time.Millisecond}, newLogger())

	start := time.Now()
	p.Poll(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("poll did not honour its timeout")
	}
	if _, ok := store.Get(); ok {
		t.Fatal("timed out poll must not update the store")
	}
}

func TestRunNeverOverlapsPolls(t *testing.T) {
	src := &fakeSource{delay: 15 * time.Millisecond}
	src.setTrack("t1", true)
	p := NewPoller(src, nil, nil, &Store{}, Options{Interval: 5 * time.Millisecond, Timeout: 5 * time.Millisecond}, newLogger())
	p.opts.Timeout = 50 * time.Millisecond

	p.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	p.Close()

	if src.polls.Load() < 2 {
		t.Fatalf("expected several polls, got %d", src.polls.Load())
	}
	if src.overlap.Load() {
		t.Fatal("polls overlapped")
	}
}
