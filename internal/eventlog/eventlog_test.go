package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/storage"
)

func TestAppend_AssignsMetadata(t *testing.T) {
	log := New()

	a, err := log.Append(context.Background(), core.EventRecord{Type: core.EventBillPaid})
	require.NoError(t, err)
	b, err := log.Append(context.Background(), core.EventRecord{Type: core.EventBillPaid})
	require.NoError(t, err)

	_, err = uuid.Parse(a.ID)
	assert.NoError(t, err, "id should be a UUID")
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())

	_, err = time.Parse(time.RFC3339Nano, a.OccurredAt.Format(time.RFC3339Nano))
	assert.NoError(t, err)
	assert.NotNil(t, a.Payload)
}

func TestAppend_PreservesExplicitMetadata(t *testing.T) {
	log := New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	rec, err := log.Append(context.Background(), core.EventRecord{
		ID:         "evt-fixed",
		Type:       core.EventGoalAllocated,
		OccurredAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-fixed", rec.ID)
	assert.True(t, rec.OccurredAt.Equal(at))
}

func TestAppend_RequiresType(t *testing.T) {
	_, err := New().Append(context.Background(), core.EventRecord{})
	assert.ErrorIs(t, err, core.ErrMissingRequired)
}

func TestAppend_StoredCopyIsIsolated(t *testing.T) {
	log := New()
	payload := map[string]interface{}{"amount": 10.0}

	rec, err := log.Append(context.Background(), core.EventRecord{Type: core.EventBillPaid, Payload: payload})
	require.NoError(t, err)

	payload["amount"] = 99.0
	rec.Payload["amount"] = 42.0

	assert.Equal(t, 10.0, log.List(0)[0].Payload["amount"])
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	log := New()
	var calls []string

	unsubA := log.Subscribe(func(core.EventRecord) { calls = append(calls, "a") })
	log.Subscribe(func(core.EventRecord) { calls = append(calls, "b") })

	_, err := log.Append(context.Background(), core.EventRecord{Type: core.EventDoseTaken})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)

	unsubA()
	unsubA()
	calls = nil
	_, err = log.Append(context.Background(), core.EventRecord{Type: core.EventDoseTaken})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, calls)
}

func TestSubscribe_PanickingHandlerIsIsolated(t *testing.T) {
	log := New()
	delivered := false

	log.Subscribe(func(core.EventRecord) { panic("broken subscriber") })
	log.Subscribe(func(core.EventRecord) { delivered = true })

	_, err := log.Append(context.Background(), core.EventRecord{Type: core.EventPlayTracked})
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, 1, log.Len())
}

func TestList_Limit(t *testing.T) {
	log := New()
	for i := 0; i < 250; i++ {
		_, err := log.Append(context.Background(), core.EventRecord{ID: fmt.Sprintf("e%03d", i), Type: "x"})
		require.NoError(t, err)
	}

	def := log.List(0)
	require.Len(t, def, DefaultListLimit)
	assert.Equal(t, "e050", def[0].ID, "default list is the most recent suffix")
	assert.Equal(t, "e249", def[len(def)-1].ID)

	last := log.List(3)
	assert.Equal(t, []string{"e247", "e248", "e249"}, []string{last[0].ID, last[1].ID, last[2].ID})

	assert.Len(t, log.List(1000), 250)
}

func TestReset(t *testing.T) {
	log := New()
	log.Append(context.Background(), core.EventRecord{Type: "x"})
	log.Reset()
	assert.Equal(t, 0, log.Len())
	assert.Empty(t, log.List(0))
}

func TestAppend_Concurrent(t *testing.T) {
	log := New()
	var mu sync.Mutex
	seen := map[string]bool{}
	log.Subscribe(func(e core.EventRecord) {
		mu.Lock()
		seen[e.ID] = true
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(context.Background(), core.EventRecord{Type: core.EventBillPaid})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, log.Len())
	assert.Len(t, seen, 50)
}

type failingStore struct{}

func (failingStore) Append(context.Context, core.EventRecord) (*ledger.Entry, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Load(context.Context) ([]core.EventRecord, error) { return nil, nil }

func TestAppend_StoreFailureNotPublished(t *testing.T) {
	log := New(WithStore(failingStore{}))
	notified := false
	log.Subscribe(func(core.EventRecord) { notified = true })

	_, err := log.Append(context.Background(), core.EventRecord{Type: core.EventBillPaid})
	require.Error(t, err)
	assert.False(t, notified)
	assert.Equal(t, 0, log.Len())
}

func TestRestore_FromLedger(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	store := ledger.NewStore(db.Conn())
	clock := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	first := New(WithStore(store), WithClock(func() time.Time { return clock }))
	_, err = first.Append(ctx, core.EventRecord{Type: core.EventBillPaid, Payload: map[string]interface{}{"amount": 182.0}})
	require.NoError(t, err)
	_, err = first.Append(ctx, core.EventRecord{Type: core.EventDoseTaken})
	require.NoError(t, err)

	// a fresh process sees the same history
	second := New(WithStore(store))
	restored, err := second.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, core.EventBillPaid, restored[0].Type)
	assert.Equal(t, 182.0, restored[0].Payload["amount"])
	assert.True(t, restored[0].OccurredAt.Equal(clock))
	assert.Equal(t, 2, second.Len())

	require.NoError(t, store.VerifyChain(ctx))
}
