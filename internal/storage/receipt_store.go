package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
)

// Receipt records that a command with a given idempotency key was accepted,
// together with the events it produced.
type Receipt struct {
	Key         string             `json:"key"`
	CommandType core.CommandType   `json:"commandType"`
	Events      []core.EventRecord `json:"events"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ReceiptStore handles idempotency receipt persistence
type ReceiptStore struct {
	db *DB
}

// NewReceiptStore creates a new receipt store
func NewReceiptStore(db *DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// Get returns the receipt for key, or core.ErrRecordNotFound.
func (s *ReceiptStore) Get(ctx context.Context, key string) (*Receipt, error) {
	var (
		r         Receipt
		events    string
		createdAt int64
	)

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT idempotency_key, command_type, events, created_at
		FROM command_receipts WHERE idempotency_key = ?
	`, key).Scan(&r.Key, &r.CommandType, &events, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}

	if err := json.Unmarshal([]byte(events), &r.Events); err != nil {
		return nil, fmt.Errorf("decode receipt events: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()

	return &r, nil
}

// Put stores a receipt. A second receipt for the same key fails with
// core.ErrDuplicateRecord and leaves the first untouched.
func (s *ReceiptStore) Put(ctx context.Context, r Receipt) error {
	events, err := json.Marshal(r.Events)
	if err != nil {
		return fmt.Errorf("encode receipt events: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO command_receipts (idempotency_key, command_type, events, created_at)
		VALUES (?, ?, ?, ?)
	`, r.Key, string(r.CommandType), string(events), r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put receipt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put receipt: %w", err)
	}
	if n == 0 {
		return core.ErrDuplicateRecord
	}
	return nil
}

// Delete removes the receipt for key. A missing receipt is not an error.
func (s *ReceiptStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM command_receipts WHERE idempotency_key = ?", key); err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return nil
}

// Prune deletes receipts created before the cutoff and reports how many went.
func (s *ReceiptStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM command_receipts WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune receipts: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored receipts
func (s *ReceiptStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_receipts").Scan(&n)
	return n, err
}
