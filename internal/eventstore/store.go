// Package eventstore keeps the listening timeline. Every daemon run opens a
// session owned by one listener, and the radio records selections, state
// changes, alerts and intro announcements against it.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/driftfm/drift-core/internal/config"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Radio timeline event types.
const (
	TypeSelect = "radio.select"
	TypeState  = "radio.state"
	TypeAlert  = "radio.alert"
	TypeIntro  = "radio.intro"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

var ErrUnknownSession = errors.New("eventstore: unknown session")

// Event is one timeline entry. ListenerID is taken from the session when left
// empty on append.
type Event struct {
	ID         int64
	SessionID  string
	ListenerID string
	TraceID    string
	Type       string
	ChannelID  int
	Payload    []byte
	Retention  string
	CreatedAt  time.Time
}

// ChannelCount is how often a listener selected one channel.
type ChannelCount struct {
	ChannelID  int `json:"channel_id"`
	Selections int `json:"selections"`
}

// Store is the SQLite-backed timeline. In ephemeral mode it has no database
// and every write is dropped.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, log: log, clock: time.Now}
	if cfg.RetentionMode == RetentionEphemeral {
		return s, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create timeline schema: %w", err)
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    listener_id TEXT NOT NULL DEFAULT '',
    retention   TEXT NOT NULL,
    started_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    listener_id TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    event_type  TEXT NOT NULL,
    channel_id  INTEGER NOT NULL DEFAULT 0,
    payload     BLOB,
    retention   TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_listener_type ON events(listener_id, event_type, channel_id);
`

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ensure checks that the store's mode and connection agree.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == RetentionEphemeral && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

// StartSession opens a new listening session for listenerID and returns its id.
// Ephemeral stores still hand out ids so callers can tag bus messages.
func (s *Store) StartSession(ctx context.Context, listenerID string) (string, error) {
	id := uuid.NewString()
	if s.db == nil {
		return id, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, listener_id, retention, started_at) VALUES(?, ?, ?, ?)`,
		id, listenerID, s.cfg.RetentionMode, s.clock().UTC())
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// AppendJSON records v as the payload of an eventType event about channelID.
// A zero channelID means the event is not tied to a channel.
func (s *Store) AppendJSON(ctx context.Context, sessionID, traceID, eventType string, channelID int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return s.Append(ctx, Event{
		SessionID: sessionID,
		TraceID:   traceID,
		Type:      eventType,
		ChannelID: channelID,
		Payload:   payload,
	})
}

// Append writes evt into the session's timeline.
func (s *Store) Append(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, listener_id, trace_id, event_type, channel_id, payload, retention, created_at)
		 SELECT session_id, COALESCE(NULLIF(?, ''), listener_id), ?, ?, ?, ?, retention, ?
		 FROM sessions WHERE session_id = ?`,
		evt.ListenerID, evt.TraceID, evt.Type, evt.ChannelID, evt.Payload, evt.CreatedAt, evt.SessionID)
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, evt.SessionID)
	}
	return nil
}

// ListSessionEvents returns up to limit events of a session, oldest first.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, listener_id, trace_id, event_type, channel_id, payload, retention, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ListenerID, &e.TraceID, &e.Type, &e.ChannelID, &e.Payload, &e.Retention, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListenerChannels counts a listener's channel selections across all retained
// sessions, most selected first.
func (s *Store) ListenerChannels(ctx context.Context, listenerID string, limit int) ([]ChannelCount, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, COUNT(*) AS n FROM events
		 WHERE listener_id = ? AND event_type = ? AND channel_id > 0
		 GROUP BY channel_id ORDER BY n DESC, channel_id ASC LIMIT ?`, listenerID, TypeSelect, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ChannelCount
	for rows.Next() {
		var c ChannelCount
		if err := rows.Scan(&c.ChannelID, &c.Selections); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Prune drops sessions older than retention_days and all but the newest
// max_sessions sessions. Events go with their session.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
