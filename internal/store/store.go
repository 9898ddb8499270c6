// Package store keeps a local sqlite audit index of rendered
// artifacts and relay transfers. Watermarks and the destination token
// are deliberately not persisted; a restart always re-baselines.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Transfer directions.
const (
	DirectionPush = "push" // rendered artifact delivered to the destination
	DirectionPull = "pull" // relayed file moved origin -> destination
)

type Store struct {
	db *sql.DB
}

// Artifact records one rendered feed item.
type Artifact struct {
	ID         int64
	Feed       string
	ItemID     int64
	Kind       string
	Author     string
	DocPath    string
	RenderedAt time.Time
}

// ArtifactInput is the insert form of Artifact.
type ArtifactInput struct {
	Feed       string
	ItemID     int64
	Kind       string
	Author     string
	DocPath    string
	RenderedAt time.Time
}

// Transfer records one upload attempt outcome.
type Transfer struct {
	ID          int64
	Reference   string
	Direction   string
	Status      string
	Message     string
	CompletedAt time.Time
}

// TransferInput is the insert form of Transfer.
type TransferInput struct {
	Reference   string
	Direction   string
	Status      string
	Message     string
	CompletedAt time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertArtifact records a rendered artifact. Re-rendering the same
// feed item is a no-op, keeping the index idempotent.
func (s *Store) InsertArtifact(ctx context.Context, in ArtifactInput) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(in.Feed) == "" {
		return errors.New("feed is required")
	}
	if in.ItemID == 0 {
		return errors.New("item_id is required")
	}
	if strings.TrimSpace(in.DocPath) == "" {
		return errors.New("doc_path is required")
	}
	if in.RenderedAt.IsZero() {
		in.RenderedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (feed, item_id, kind, author, doc_path, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed, item_id) DO NOTHING
	`,
		in.Feed,
		in.ItemID,
		in.Kind,
		in.Author,
		in.DocPath,
		formatTime(in.RenderedAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// RecordTransfer appends one upload attempt outcome.
func (s *Store) RecordTransfer(ctx context.Context, in TransferInput) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(in.Reference) == "" {
		return errors.New("reference is required")
	}
	if in.Direction != DirectionPush && in.Direction != DirectionPull {
		return fmt.Errorf("unknown direction %q", in.Direction)
	}
	if strings.TrimSpace(in.Status) == "" {
		return errors.New("status is required")
	}
	if in.CompletedAt.IsZero() {
		in.CompletedAt = time.Now()
	}

	var messageVal sql.NullString
	if strings.TrimSpace(in.Message) != "" {
		messageVal = sql.NullString{String: in.Message, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (reference, direction, status, message, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		in.Reference,
		in.Direction,
		in.Status,
		messageVal,
		formatTime(in.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// CountArtifacts returns the number of recorded artifacts.
func (s *Store) CountArtifacts(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// RecentTransfers returns up to limit transfers, newest first.
func (s *Store) RecentTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, direction, status, message, completed_at
		FROM transfers
		ORDER BY completed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transfers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		var messageVal sql.NullString
		var completedStr string
		if err := rows.Scan(&t.ID, &t.Reference, &t.Direction, &t.Status, &messageVal, &completedStr); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.Message = messageVal.String
		t.CompletedAt, err = parseTime(completedStr)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}

	return transfers, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
