package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "profiles.db"), newLogger())
	if err != nil {
		t.Fatalf("open profile store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertKeepsCreatedAtAndLastChannel(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	if err := s.Upsert(ctx, User{ID: "u1", DisplayName: "Sam"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetLastChannel(ctx, "u1", 3); err != nil {
		t.Fatalf("set last channel: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC) }
	if err := s.Upsert(ctx, User{ID: "u1", DisplayName: "Sam R", AvatarURL: "https://img/u1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	u, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.DisplayName != "Sam R" || u.AvatarURL != "https://img/u1" || u.Provider != "spotify" {
		t.Fatalf("user = %+v", u)
	}
	if u.LastChannel != 3 {
		t.Fatalf("last channel = %d, want 3", u.LastChannel)
	}
	if !u.LastLogin.After(u.CreatedAt) {
		t.Fatalf("created=%v last_login=%v", u.CreatedAt, u.LastLogin)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetLastChannel(context.Background(), "nobody", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	s := openStore(t)
	if err := s.Upsert(context.Background(), User{}); err == nil {
		t.Fatal("expected error")
	}
}
