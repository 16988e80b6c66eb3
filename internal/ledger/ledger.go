// Package ledger is the durable, append-only home of domain events.
// Every row is hash-chained to the previous row, making any tampering detectable.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/quantumlife/lifeops/internal/core"
)

// GenesisHash is the prev_hash of the first row.
const GenesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// timeLayout is fixed-width so occurred_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store manages the append-only event table
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Entry is a stored event with its chain metadata
type Entry struct {
	Seq      int64            `json:"seq"`
	Event    core.EventRecord `json:"event"`
	PrevHash string           `json:"prevHash"`
	Hash     string           `json:"hash"`
}

// row is the canonical, hashed form of an entry.
type row struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    string          `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	PrevHash      string          `json:"prev_hash"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Append persists an event. The event must already carry its id and
// timestamp; the event log assigns them.
func (s *Store) Append(ctx context.Context, rec core.EventRecord) (*Entry, error) {
	if rec.ID == "" || rec.Type == "" || rec.OccurredAt.IsZero() {
		return nil, fmt.Errorf("append event: %w", core.ErrMissingRequired)
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if rec.Payload == nil {
		payload = []byte("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE id = ?", rec.ID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check event id: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("append event %s: %w", rec.ID, core.ErrDuplicateRecord)
	}

	prevHash, err := s.lastHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	r := row{
		ID:            rec.ID,
		Type:          rec.Type,
		Payload:       payload,
		OccurredAt:    formatTime(rec.OccurredAt),
		CorrelationID: rec.CorrelationID,
		PrevHash:      prevHash,
	}
	hash, err := computeHash(r)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, payload, occurred_at, correlation_id, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Type, string(r.Payload), r.OccurredAt, r.CorrelationID, r.PrevHash, hash)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	seq, _ := res.LastInsertId()

	return &Entry{Seq: seq, Event: rec.Clone(), PrevHash: prevHash, Hash: hash}, nil
}

func (s *Store) lastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM events ORDER BY seq DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	return hash, err
}

// computeHash is sha256 over the RFC 8785 canonical JSON of the row.
func computeHash(r row) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize row: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

const selectColumns = `SELECT seq, id, type, payload, occurred_at, correlation_id, prev_hash, hash FROM events`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (*Entry, row, error) {
	var (
		e       Entry
		r       row
		payload string
	)
	if err := sc.Scan(&e.Seq, &r.ID, &r.Type, &payload, &r.OccurredAt, &r.CorrelationID, &r.PrevHash, &e.Hash); err != nil {
		return nil, r, err
	}
	r.Payload = json.RawMessage(payload)

	occurred, err := time.Parse(timeLayout, r.OccurredAt)
	if err != nil {
		return nil, r, fmt.Errorf("parse occurred_at of %s: %w", r.ID, err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(r.Payload, &body); err != nil {
		return nil, r, fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}

	e.Event = core.EventRecord{
		ID:            r.ID,
		Type:          r.Type,
		Payload:       body,
		OccurredAt:    occurred,
		CorrelationID: r.CorrelationID,
	}
	e.PrevHash = r.PrevHash
	return &e, r, nil
}

// Load returns every stored event in append order.
func (s *Store) Load(ctx context.Context) ([]core.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []core.EventRecord
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Event)
	}
	return out, rows.Err()
}

// VerifyChain verifies the integrity of the entire chain.
// Returns nil if valid, or a *ChainError describing the first broken link.
func (s *Store) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY seq ASC")
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	expectedPrev := GenesisHash
	n := 0

	for rows.Next() {
		n++
		e, r, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", n, err)
		}

		if e.PrevHash != expectedPrev {
			return &ChainError{EntryNum: n, EntryID: r.ID, ExpectedHash: expectedPrev, ActualHash: e.PrevHash, Type: ChainBroken}
		}

		want, err := computeHash(r)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return &ChainError{EntryNum: n, EntryID: r.ID, ExpectedHash: want, ActualHash: e.Hash, Type: HashMismatch}
		}

		expectedPrev = e.Hash
	}

	return rows.Err()
}

// Chain error types
const (
	ChainBroken  = "chain_broken"
	HashMismatch = "hash_mismatch"
)

// ChainError represents a broken chain error
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

func (e *ChainError) Error() string {
	if e.Type == ChainBroken {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
}

// QueryOptions filters a listing
type QueryOptions struct {
	Type          string
	CorrelationID string
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// Query returns entries matching the criteria, newest first.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	query := selectColumns + " WHERE 1=1"
	var args []interface{}

	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, opts.CorrelationID)
	}
	if !opts.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, formatTime(opts.Since))
	}
	if !opts.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, formatTime(opts.Until))
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetByID returns a single entry, or core.ErrRecordNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	e, _, err := scanEntry(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

// Count returns the number of stored events
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

// Summary statistics
type Summary struct {
	TotalEvents int            `json:"totalEvents"`
	FirstEvent  *time.Time     `json:"firstEvent,omitempty"`
	LastEvent   *time.Time     `json:"lastEvent,omitempty"`
	ByType      map[string]int `json:"byType"`
	HeadHash    string         `json:"headHash"`
	ChainValid  bool           `json:"chainValid"`
	ChainError  string         `json:"chainError,omitempty"`
}

// Summary returns statistics about the stored events
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{ByType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&summary.TotalEvents); err != nil {
		return nil, err
	}

	var first, last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(occurred_at), MAX(occurred_at) FROM events").Scan(&first, &last); err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeLayout, first.String); first.Valid && err == nil {
		summary.FirstEvent = &t
	}
	if t, err := time.Parse(timeLayout, last.String); last.Valid && err == nil {
		summary.LastEvent = &t
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			rows.Close()
			return nil, err
		}
		summary.ByType[typ] = count
	}
	rows.Close()

	head, err := s.lastHash(ctx)
	if err != nil {
		return nil, err
	}
	summary.HeadHash = head

	if err := s.VerifyChain(ctx); err != nil {
		summary.ChainError = err.Error()
	} else {
		summary.ChainValid = true
	}

	return summary, nil
}
