package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - classifications table
const currentSchemaVersion = 1

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore implements Store on a single SQLite file in WAL mode.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	logger logger.Logger
}

// Open creates or opens the archive at path and applies the schema. Use
// ":memory:" for a throwaway archive.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:        path,
		busyTimeout: defaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("archive")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive %s: %w", path, err)
	}

	// SQLite has one writer; a single connection also keeps ":memory:" on
	// one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.applyPragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	n, err := s.Count(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info(ctx, "archive opened", logger.String("path", path), logger.Int64("classifications", n))
	return s, nil
}

func (s *SQLiteStore) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("archive schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, ev model.ClassificationEvent) error {
	if ev.ID == "" {
		return ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	annotations := string(ev.Annotations)
	if annotations == "" {
		annotations = "null"
	}
	var gold sql.NullInt64
	if ev.HasGold() {
		gold = sql.NullInt64{Int64: int64(*ev.GoldLabel), Valid: true}
	}
	received := ev.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classifications (id, subject_id, user_id, annotations, gold_label, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.SubjectID, ev.UserID, annotations, gold, received.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append classification %s: %w", ev.ID, err)
	}
	return nil
}

// Replay implements Store. Rows are read fully before fn is called so fn
// may take as long as it needs without holding the connection.
func (s *SQLiteStore) Replay(ctx context.Context, fn func(model.ClassificationEvent) error) error {
	events, err := s.all(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) all(ctx context.Context) ([]model.ClassificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, user_id, annotations, gold_label, received_at
		FROM classifications
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var events []model.ClassificationEvent
	for rows.Next() {
		var (
			ev          model.ClassificationEvent
			annotations string
			gold        sql.NullInt64
			received    int64
		)
		if err := rows.Scan(&ev.ID, &ev.SubjectID, &ev.UserID, &annotations, &gold, &received); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		ev.Annotations = json.RawMessage(annotations)
		if gold.Valid {
			g := int(gold.Int64)
			ev.GoldLabel = &g
		}
		ev.ReceivedAt = time.Unix(0, received).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classifications: %w", err)
	}
	return events, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM classifications").Scan(&n); err != nil {
		return 0, fmt.Errorf("count classifications: %w", err)
	}
	return n, nil
}

// Close implements Store. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
