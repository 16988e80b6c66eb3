package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/lifeops/internal/config"
	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/scheduler"
	"github.com/quantumlife/lifeops/internal/signing"
	"github.com/quantumlife/lifeops/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestApp_RestartRebuildsProjections(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)

	pay := testutil.PayBill(182)
	pay.IdempotencyKey = "restart-1"

	res, err := a.commands.Submit(ctx, pay)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	cash := a.projection.Overview().CashOnHand.Amount
	require.NoError(t, a.close(ctx))

	b, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer b.close(ctx)

	assert.Equal(t, cash, b.projection.Overview().CashOnHand.Amount)
	_, err = b.projection.QueueItem("bill-electric")
	assert.ErrorIs(t, err, core.ErrQueueItemNotFound)
	assert.Equal(t, len(res.Events), b.events.Len())

	// The receipt survived too
	dup, err := b.commands.Submit(ctx, pay)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, len(res.Events), b.events.Len())
}

func TestApp_InMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.InMemory = true

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	_, err = os.Stat(cfg.DatabasePath())
	assert.True(t, os.IsNotExist(err), "in-memory mode must not create a database file")
}

func TestApp_RegistersBuiltinTasks(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.close(context.Background())

	var ids []string
	for _, task := range a.scheduler.ListTasks() {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{
		scheduler.TaskLedgerVerify,
		scheduler.TaskNudgesRelease,
		scheduler.TaskReceiptsPrune,
		scheduler.TaskRulesSweep,
	}, ids)

	require.NoError(t, a.scheduler.RunNow(context.Background(), scheduler.TaskLedgerVerify))
}

func TestApp_ExtraRulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.File = filepath.Join(cfg.DataDir, "rules.yaml")
	require.NoError(t, os.WriteFile(cfg.Rules.File, []byte(`
rules:
  - id: big-allocation
    name: Big allocation
    enabled: true
    event_types: [goal.allocated]
    logic: {">": [{"var": "goal.amount"}, 1000]}
    action: nudge
    params: {channel: card, priority: 2}
`), 0o600))

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	_, err = a.rules.Rule("big-allocation")
	assert.NoError(t, err)
}

func TestLoadSigning(t *testing.T) {
	kp, err := signing.Generate()
	require.NoError(t, err)
	bundle, err := kp.Seal("correct horse battery")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, bundle.Save(path))

	opt, err := loadSigning(config.SigningConfig{})
	require.NoError(t, err)
	assert.Nil(t, opt)

	opt, err = loadSigning(config.SigningConfig{KeyFile: path})
	require.NoError(t, err)
	assert.NotNil(t, opt)

	opt, err = loadSigning(config.SigningConfig{KeyFile: path, Passphrase: "correct horse battery"})
	require.NoError(t, err)
	assert.NotNil(t, opt)

	_, err = loadSigning(config.SigningConfig{KeyFile: path, Passphrase: "wrong"})
	assert.Error(t, err)
}

func TestApp_SignedPreviews(t *testing.T) {
	kp, err := signing.Generate()
	require.NoError(t, err)
	bundle, err := kp.Seal("pass-phrase-123")
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Signing.KeyFile = filepath.Join(cfg.DataDir, "keys.json")
	cfg.Signing.Passphrase = "pass-phrase-123"
	require.NoError(t, bundle.Save(cfg.Signing.KeyFile))

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	preview, err := a.commands.PreviewCommand(testutil.PayBill(182))
	require.NoError(t, err)
	require.NotNil(t, preview.Signed)

	cmd := testutil.PayBill(182)
	cmd.SignedImpactPlan = preview.Signed
	res, err := a.commands.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}
