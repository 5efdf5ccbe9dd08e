// Package profile stores listener profiles keyed by music service user id.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("profile not found")

// User is one listener record.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
	LastLogin   time.Time `json:"last_login"`
	LastChannel int       `json:"last_channel,omitempty"`
}

type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, log: log.With(slog.String("component", "profile-store")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT 'spotify',
    created_at TIMESTAMP NOT NULL,
    last_login TIMESTAMP NOT NULL,
    last_channel INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init profile schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records a login. created_at and last_channel of an existing row are
// kept.
func (s *Store) Upsert(ctx context.Context, u User) error {
	if u.ID == "" {
		return errors.New("profile: empty user id")
	}
	if u.Provider == "" {
		u.Provider = "spotify"
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, display_name, email, avatar_url, provider, created_at, last_login)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   display_name=excluded.display_name,
		   email=excluded.email,
		   avatar_url=excluded.avatar_url,
		   last_login=excluded.last_login`,
		u.ID, u.DisplayName, u.Email, u.AvatarURL, u.Provider, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (User, error) {
	var (
		u                  User
		created, lastLogin string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, avatar_url, provider, created_at, last_login, last_channel
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.Email, &u.AvatarURL, &u.Provider, &created, &lastLogin, &u.LastChannel)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		u.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, lastLogin); err == nil {
		u.LastLogin = ts
	}
	return u, nil
}

func (s *Store) SetLastChannel(ctx context.Context, id string, channelID int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_channel = ? WHERE id = ?`, channelID, id)
	if err != nil {
		return fmt.Errorf("set last channel for %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
