// Package store keeps flushed report sessions in SQLite. Segment sequences
// are stored as zstd-compressed JSON.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
	"github.com/RobinCoderZhao/experience-kit/pkg/storage"
)

// Schema is the SQLite schema for flushed reports.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
    session_id    TEXT PRIMARY KEY,
    original_text TEXT NOT NULL,
    current_text  TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT '',
    attributes    TEXT NOT NULL DEFAULT '{}',
    answers       TEXT NOT NULL DEFAULT '[]',
    segments      BLOB,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_updated ON reports(updated_at);
`

// Report is one flushed session.
type Report struct {
	SessionID    string                `json:"sessionId"`
	OriginalText string                `json:"originalText"`
	CurrentText  string                `json:"currentText"`
	Category     string                `json:"category,omitempty"`
	Attributes   map[string]any        `json:"attributes,omitempty"`
	Answers      []enrich.Answer       `json:"answers,omitempty"`
	Segments     []segment.TextSegment `json:"segments"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Summary is a listing row.
type Summary struct {
	SessionID string    `json:"sessionId"`
	Category  string    `json:"category,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists reports.
type Store struct {
	db  *storage.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

// Open opens the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, Schema); err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec, now: time.Now}, nil
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}

// Save inserts or replaces the report for r.SessionID. The creation time of
// an existing row is kept.
func (s *Store) Save(ctx context.Context, r *Report) error {
	if r.SessionID == "" {
		return fmt.Errorf("save report: empty session id")
	}
	attrs, err := json.Marshal(nonNilMap(r.Attributes))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	answers, err := json.Marshal(nonNilSlice(r.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	segs, err := json.Marshal(r.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	blob := s.enc.EncodeAll(segs, nil)

	now := s.now().UTC()
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reports (session_id, original_text, current_text, category, attributes, answers, segments, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				original_text = excluded.original_text,
				current_text  = excluded.current_text,
				category      = excluded.category,
				attributes    = excluded.attributes,
				answers       = excluded.answers,
				segments      = excluded.segments,
				updated_at    = excluded.updated_at
		`, r.SessionID, r.OriginalText, r.CurrentText, r.Category, string(attrs), string(answers), blob, created, now)
		if err != nil {
			return fmt.Errorf("save report %s: %w", r.SessionID, err)
		}
		return nil
	})
}

// Get returns the report for id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	var (
		r              Report
		attrs, answers string
		blob           []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, original_text, current_text, category, attributes, answers, segments, created_at, updated_at
		FROM reports WHERE session_id = ?
	`, id).Scan(&r.SessionID, &r.OriginalText, &r.CurrentText, &r.Category, &attrs, &answers, &blob, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	if len(blob) > 0 {
		raw, err := s.dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress segments: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Segments); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}
	return &r, nil
}

// List returns the most recently updated reports first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, category, updated_at FROM reports
		ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.SessionID, &sum.Category, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a report. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice(a []enrich.Answer) []enrich.Answer {
	if a == nil {
		return []enrich.Answer{}
	}
	return a
}
