package proactive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/storage"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Store persists nudges.
type Store struct {
	db *storage.DB
}

// NewStore creates a nudge store
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Save inserts a nudge. A rule fires at most once per source, so a nudge
// for a (rule, source) pair that already exists is ignored and Save
// reports false.
func (s *Store) Save(ctx context.Context, n *Nudge) (bool, error) {
	data, err := encodeJSON(n.Data)
	if err != nil {
		return false, fmt.Errorf("encode nudge data: %w", err)
	}

	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT OR IGNORE INTO nudges
		(id, rule_id, source_id, type, urgency, title, body, data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.RuleID, n.SourceID,
		string(n.Type), string(n.Urgency),
		n.Title, n.Body, data,
		string(n.Status), n.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("store nudge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListOptions filters List
type ListOptions struct {
	Status NudgeStatus
	Limit  int
}

// List returns nudges, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Nudge, error) {
	query := `
		SELECT id, rule_id, source_id, type, urgency, title, body, data, status, created_at, dismissed_at
		FROM nudges
	`
	var args []interface{}
	if opts.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(opts.Status))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// Get returns one nudge.
func (s *Store) Get(ctx context.Context, id string) (*Nudge, error) {
	nudges, err := s.query(ctx, `
		SELECT id, rule_id, source_id, type, urgency, title, body, data, status, created_at, dismissed_at
		FROM nudges WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if len(nudges) == 0 {
		return nil, fmt.Errorf("nudge %s: %w", id, core.ErrRecordNotFound)
	}
	return &nudges[0], nil
}

// Dismiss marks a nudge as dismissed. Dismissing twice is not an error.
func (s *Store) Dismiss(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.Conn().ExecContext(ctx,
		"UPDATE nudges SET status = 'dismissed', dismissed_at = COALESCE(dismissed_at, ?) WHERE id = ?",
		at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("dismiss nudge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("nudge %s: %w", id, core.ErrRecordNotFound)
	}
	return nil
}

// ReleaseQueued moves nudges held for quiet hours to pending.
func (s *Store) ReleaseQueued(ctx context.Context) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		"UPDATE nudges SET status = 'pending' WHERE status = 'queued'")
	if err != nil {
		return 0, fmt.Errorf("release queued nudges: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns nudge counts per status.
func (s *Store) CountByStatus(ctx context.Context) (map[NudgeStatus]int, error) {
	rows, err := s.db.Conn().QueryContext(ctx, "SELECT status, COUNT(*) FROM nudges GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[NudgeStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[NudgeStatus(status)] = count
	}
	return out, rows.Err()
}

// query is a helper to scan nudge rows
func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]Nudge, error) {
	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nudges: %w", err)
	}
	defer rows.Close()

	var nudges []Nudge
	for rows.Next() {
		var (
			n           Nudge
			data        string
			createdAt   int64
			dismissedAt sql.NullInt64
		)
		err := rows.Scan(
			&n.ID, &n.RuleID, &n.SourceID,
			(*string)(&n.Type), (*string)(&n.Urgency),
			&n.Title, &n.Body, &data,
			(*string)(&n.Status), &createdAt, &dismissedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		n.CreatedAt = fromNanos(createdAt)
		if dismissedAt.Valid {
			t := fromNanos(dismissedAt.Int64)
			n.DismissedAt = &t
		}
		if err := decodeJSON(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode nudge data: %w", err)
		}
		nudges = append(nudges, n)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return nudges, nil
}
