package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantumlife/lifeops/internal/bridge"
	"github.com/quantumlife/lifeops/internal/commands"
	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/eventlog"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/proactive"
	"github.com/quantumlife/lifeops/internal/projection"
	"github.com/quantumlife/lifeops/internal/rules"
	"github.com/quantumlife/lifeops/internal/sim"
	"github.com/quantumlife/lifeops/internal/storage"
	"github.com/quantumlife/lifeops/internal/testutil"
)

type testEnv struct {
	srv    *Server
	db     *storage.DB
	hub    *bridge.Hub
	proj   *projection.Store
	ledger *ledger.Store
}

// testServer wires a full stack on an in-memory database
func testServer(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	db := testutil.TestDB(t)
	clock := testutil.NewClock(testutil.FixedNow)

	led := ledger.NewStore(db.Conn())
	log := eventlog.New(eventlog.WithStore(led), eventlog.WithClock(clock.Now))
	proj := projection.NewStore(projection.DefaultSnapshot(testutil.FixedNow))
	hub := bridge.NewHub(bridge.WithBuffer(16))
	proj.SetNotifier(hub)

	engine := rules.NewEngine(rules.WithClock(clock.Now))
	if err := engine.RegisterAll(rules.Defaults()); err != nil {
		t.Fatalf("register rules: %v", err)
	}

	nudgeCfg := proactive.NudgeConfig{QuietHoursStart: 22, QuietHoursEnd: 7, Location: time.UTC}
	nudges := proactive.NewService(proactive.NewStore(db), proactive.NewNudgeGenerator(nudgeCfg, clock.Now), hub)

	svc, err := commands.New(log, proj, engine,
		commands.WithNudges(nudges),
		commands.WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("commands.New: %v", err)
	}

	cfg := Config{
		Heartbeat:    time.Second,
		CommandRate:  100,
		CommandBurst: 100,
		Version:      "test",
		Projection:   proj,
		Hub:          hub,
		Events:       log,
		Ledger:       led,
		Rules:        engine,
		Commands:     svc,
		Nudges:       nudges,
		Ping:         db.Ping,
	}
	for _, o := range opts {
		o(&cfg)
	}

	t.Cleanup(hub.Close)
	return &testEnv{srv: New(cfg), db: db, hub: hub, proj: proj, ledger: led}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

// --- Health ---

func TestAPI_Health(t *testing.T) {
	env := testServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		rr := env.do(t, "GET", path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		resp := decodeBody[map[string]interface{}](t, rr)
		if resp["status"] != "ok" || resp["storage"] != "ok" {
			t.Errorf("%s: unexpected body %v", path, resp)
		}
	}
}

func TestAPI_Health_Degraded(t *testing.T) {
	env := testServer(t, func(c *Config) {
		c.Ping = func(context.Context) error { return context.DeadlineExceeded }
	})

	rr := env.do(t, "GET", "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

// --- Bridge ---

func TestAPI_Overview(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "GET", "/api/v1/bridge/overview", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	ov := decodeBody[projection.Overview](t, rr)
	if ov.CashOnHand.Amount != 12400 {
		t.Errorf("expected cash 12400, got %v", ov.CashOnHand.Amount)
	}
}

func TestAPI_Queue_Category(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{"", 5},
		{"?category=all", 5},
		{"?category=Bills", 1},
		{"?category=nothing", 0},
	}
	for _, tt := range tests {
		rr := env.do(t, "GET", "/api/v1/bridge/queue"+tt.query, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, rr.Code)
		}
		resp := decodeBody[struct {
			Items []projection.QueueItem `json:"items"`
			Count int                    `json:"count"`
		}](t, rr)
		if resp.Count != tt.want || len(resp.Items) != tt.want {
			t.Errorf("%q: expected %d items, got %d", tt.query, tt.want, resp.Count)
		}
	}
}

func TestAPI_Context(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "GET", "/api/v1/bridge/context/bill-electric", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/api/v1/bridge/context/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	resp := decodeBody[errorResponse](t, rr)
	if resp.Kind != core.KindNotFound {
		t.Errorf("expected kind not_found, got %q", resp.Kind)
	}
}

// --- Commands ---

func TestAPI_SubmitCommand(t *testing.T) {
	env := testServer(t)

	cmd := testutil.PayBill(182)
	rr := env.do(t, "POST", "/api/v1/commands", cmd)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	res := decodeBody[commands.Result](t, rr)
	if !res.Accepted || res.Duplicate || len(res.Events) == 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := env.proj.QueueItem("bill-electric"); err == nil {
		t.Error("paid bill should leave the queue")
	}
	if got := env.proj.Overview().CashOnHand.Amount; got != 12400-182 {
		t.Errorf("expected cash %v, got %v", 12400-182, got)
	}

	// Same key again
	rr = env.do(t, "POST", "/api/v1/commands", cmd)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rr.Code)
	}
	dup := decodeBody[commands.Result](t, rr)
	if !dup.Duplicate || len(dup.Events) != len(res.Events) || dup.Events[0].ID != res.Events[0].ID {
		t.Errorf("duplicate should return the original events, got %+v", dup)
	}
	if got := env.proj.Overview().CashOnHand.Amount; got != 12400-182 {
		t.Errorf("duplicate must not apply twice, cash %v", got)
	}
}

func TestAPI_SubmitCommand_HeaderKey(t *testing.T) {
	env := testServer(t)

	cmd := testutil.PayBill(50)
	cmd.IdempotencyKey = ""
	body, _ := json.Marshal(cmd)

	req := httptest.NewRequest("POST", "/api/v1/commands", bytes.NewReader(body))
	req.Header.Set("Idempotency-Key", "header-key-1")
	rr := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_SubmitCommand_WithoutKey(t *testing.T) {
	env := testServer(t)

	body := `{"type":"goal.allocate","payload":{"goalId":"goal-emergency","amount":300}}`
	var keys []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/v1/commands", strings.NewReader(body))
		rr := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		res := decodeBody[commands.Result](t, rr)
		if res.Duplicate || res.IdempotencyKey == "" {
			t.Fatalf("expected a fresh server-assigned key, got %+v", res)
		}
		keys = append(keys, res.IdempotencyKey)
	}
	if keys[0] == keys[1] {
		t.Errorf("each keyless command should get its own key, got %q twice", keys[0])
	}
}

func TestAPI_SubmitCommand_Errors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"schema violation", `{"type":"bill.markPaid","idempotencyKey":"k1","payload":{"amount":1}}`, http.StatusBadRequest},
		{"negative amount", `{"type":"goal.allocate","idempotencyKey":"k2","payload":{"goalId":"goal-emergency","amount":-5}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/commands", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			resp := decodeBody[errorResponse](t, rr)
			if resp.Kind != core.KindInvalid || resp.Error == "" {
				t.Errorf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestAPI_SubmitCommand_RateLimited(t *testing.T) {
	env := testServer(t, func(c *Config) {
		c.CommandRate = 0.001
		c.CommandBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		cmd := testutil.NewCommand(core.CommandEventCreate).With("title", "Dentist").Build()
		codes[i] = env.do(t, "POST", "/api/v1/commands", cmd).Code
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted {
		t.Fatalf("expected the burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the burst, got %d", codes[2])
	}
}

func TestAPI_Preview(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "POST", "/api/v1/impact/preview", map[string]interface{}{
		"intent":   "bill.pay",
		"entityId": "bill-electric",
		"amount":   182,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	preview := decodeBody[commands.Preview](t, rr)
	if preview.Plan.KPIDelta["cashOnHand"] != -182 {
		t.Errorf("expected cashOnHand delta -182, got %v", preview.Plan.KPIDelta)
	}
	if preview.Signed != nil {
		t.Error("no signer configured, plan should be unsigned")
	}

	// Previews never write
	if env.srv.events.Len() != 0 {
		t.Errorf("preview appended %d events", env.srv.events.Len())
	}

	rr = env.do(t, "POST", "/api/v1/impact/preview", map[string]interface{}{
		"command": testutil.Allocate("goal-emergency", 300),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("command preview: expected 200, got %d", rr.Code)
	}
	preview = decodeBody[commands.Preview](t, rr)
	if preview.Plan.Intent != "goal.allocate" {
		t.Errorf("expected goal.allocate, got %q", preview.Plan.Intent)
	}

	rr = env.do(t, "POST", "/api/v1/impact/preview", map[string]interface{}{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty preview: expected 400, got %d", rr.Code)
	}
}

// --- Events ---

func TestAPI_Events(t *testing.T) {
	env := testServer(t)

	for i := 0; i < 3; i++ {
		cmd := testutil.NewCommand(core.CommandEventCreate).With("title", "Standup").Build()
		if rr := env.do(t, "POST", "/api/v1/commands", cmd); rr.Code != http.StatusAccepted {
			t.Fatalf("submit: %d", rr.Code)
		}
	}
	if rr := env.do(t, "POST", "/api/v1/commands", testutil.PayBill(182)); rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d", rr.Code)
	}
	total := env.srv.events.Len()

	type listResp struct {
		Events []core.EventRecord `json:"events"`
		Count  int                `json:"count"`
		Total  int                `json:"total"`
	}

	resp := decodeBody[listResp](t, env.do(t, "GET", "/api/v1/events", nil))
	if resp.Count != total || resp.Total != total {
		t.Errorf("expected %d events, got %d/%d", total, resp.Count, resp.Total)
	}

	resp = decodeBody[listResp](t, env.do(t, "GET", "/api/v1/events?limit=2", nil))
	if resp.Count != 2 {
		t.Errorf("expected 2 events, got %d", resp.Count)
	}

	resp = decodeBody[listResp](t, env.do(t, "GET", "/api/v1/events?type=bill.paid", nil))
	if resp.Count != 1 || resp.Events[0].Type != core.EventBillPaid {
		t.Errorf("expected one bill.paid event, got %+v", resp.Events)
	}

	if rr := env.do(t, "GET", "/api/v1/events?limit=abc", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rr.Code)
	}

	verify := decodeBody[verifyResponse](t, env.do(t, "GET", "/api/v1/events/verify", nil))
	if !verify.Valid || !verify.Durable || verify.Entries != total {
		t.Errorf("unexpected verify result %+v", verify)
	}

	summary := decodeBody[ledger.Summary](t, env.do(t, "GET", "/api/v1/events/summary", nil))
	if summary.TotalEvents != total || summary.ByType[core.EventBillPaid] != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestAPI_Events_InMemory(t *testing.T) {
	log := eventlog.New()
	srv := New(Config{Events: log, Hub: bridge.NewHub()})

	if _, err := log.Append(context.Background(), testutil.Event(core.EventDoseTaken, map[string]interface{}{"doseId": "d1"})); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/verify", nil))
	verify := decodeBody[verifyResponse](t, rr)
	if !verify.Valid || verify.Durable || verify.Entries != 1 {
		t.Errorf("unexpected verify result %+v", verify)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/events/summary", nil))
	summary := decodeBody[ledger.Summary](t, rr)
	if summary.TotalEvents != 1 || summary.ByType[core.EventDoseTaken] != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestAPI_Events_TamperedLedger(t *testing.T) {
	env := testServer(t)

	if rr := env.do(t, "POST", "/api/v1/commands", testutil.PayBill(182)); rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d", rr.Code)
	}
	if err := tamper(env); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	rr := env.do(t, "GET", "/api/v1/events/verify", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	verify := decodeBody[verifyResponse](t, rr)
	if verify.Valid || verify.Error == "" || verify.EntryID == "" {
		t.Errorf("expected a broken chain, got %+v", verify)
	}
}

// --- Rules ---

func TestAPI_Rules(t *testing.T) {
	env := testServer(t)

	resp := decodeBody[struct {
		Rules      []rules.RuleDefinition `json:"rules"`
		Count      int                    `json:"count"`
		EventTypes []string               `json:"eventTypes"`
	}](t, env.do(t, "GET", "/api/v1/rules", nil))
	if resp.Count != len(rules.Defaults()) {
		t.Errorf("expected %d rules, got %d", len(rules.Defaults()), resp.Count)
	}

	rr := env.do(t, "POST", "/api/v1/rules/dose-overdue/dry-run", map[string]interface{}{
		"samples": []map[string]interface{}{
			{"dose": map[string]interface{}{"minutesOverdue": 45}},
			{"dose": map[string]interface{}{"minutesOverdue": 10}},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	dry := decodeBody[dryRunResponse](t, rr)
	if len(dry.Results) != 2 || !dry.Results[0] || dry.Results[1] || dry.Matched != 1 {
		t.Errorf("unexpected dry run %+v", dry)
	}

	if rr := env.do(t, "POST", "/api/v1/rules/missing/dry-run", map[string]interface{}{"samples": []interface{}{map[string]interface{}{}}}); rr.Code != http.StatusNotFound {
		t.Errorf("unknown rule: expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, "POST", "/api/v1/rules/dose-overdue/dry-run", map[string]interface{}{}); rr.Code != http.StatusBadRequest {
		t.Errorf("no samples: expected 400, got %d", rr.Code)
	}
}

// --- Nudges ---

func TestAPI_Nudges(t *testing.T) {
	env := testServer(t)

	cmd := testutil.NewCommand(core.CommandDoseMarkTaken).
		With("doseId", "dose-levothyroxine").
		With("minutesOverdue", 45).
		Build()
	rr := env.do(t, "POST", "/api/v1/commands", cmd)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}

	type listResp struct {
		Nudges []proactive.Nudge `json:"nudges"`
		Count  int               `json:"count"`
	}
	list := decodeBody[listResp](t, env.do(t, "GET", "/api/v1/nudges", nil))
	if list.Count != 1 || list.Nudges[0].RuleID != "dose-overdue" {
		t.Fatalf("expected one dose-overdue nudge, got %+v", list.Nudges)
	}
	id := list.Nudges[0].ID

	if rr := env.do(t, "POST", "/api/v1/nudges/"+id+"/dismiss", nil); rr.Code != http.StatusOK {
		t.Fatalf("dismiss: expected 200, got %d", rr.Code)
	}
	list = decodeBody[listResp](t, env.do(t, "GET", "/api/v1/nudges?status=pending", nil))
	if list.Count != 0 {
		t.Errorf("expected no pending nudges, got %d", list.Count)
	}
	list = decodeBody[listResp](t, env.do(t, "GET", "/api/v1/nudges?status=dismissed", nil))
	if list.Count != 1 {
		t.Errorf("expected one dismissed nudge, got %d", list.Count)
	}

	if rr := env.do(t, "POST", "/api/v1/nudges/nope/dismiss", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown nudge: expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, "GET", "/api/v1/nudges?limit=-1", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rr.Code)
	}
}

// --- Simulation ---

func simParams() sim.Params {
	return sim.Params{
		Start:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		HorizonMonths:   12,
		StartingBalance: 5000,
		MonthlyIncome:   4000,
		MonthlyExpenses: 3000,
	}
}

func TestAPI_SimRun(t *testing.T) {
	env := testServer(t)

	base := simParams()
	better := simParams()
	better.MonthlyIncome = 4500

	rr := env.do(t, "POST", "/api/v1/sim/run", map[string]interface{}{"params": better, "baseline": base})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[simRunResponse](t, rr)
	if len(resp.Result.Months) != 12 || len(resp.Deltas) != 12 {
		t.Fatalf("expected 12 months and deltas, got %d/%d", len(resp.Result.Months), len(resp.Deltas))
	}
	if resp.Deltas[11].Balance != 6000 {
		t.Errorf("expected final delta 6000, got %v", resp.Deltas[11].Balance)
	}

	bad := simParams()
	bad.HorizonMonths = 0
	rr = env.do(t, "POST", "/api/v1/sim/run", map[string]interface{}{"params": bad})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid params: expected 400, got %d", rr.Code)
	}

	short := simParams()
	short.HorizonMonths = 6
	rr = env.do(t, "POST", "/api/v1/sim/run", map[string]interface{}{"params": better, "baseline": short})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("mismatched horizons: expected 400, got %d", rr.Code)
	}
}

func TestAPI_MonteCarlo(t *testing.T) {
	env := testServer(t)

	req := map[string]interface{}{
		"params":  simParams(),
		"options": map[string]interface{}{"trials": 100, "seed": 42},
	}
	first := env.do(t, "POST", "/api/v1/sim/montecarlo", req)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := env.do(t, "POST", "/api/v1/sim/montecarlo", req)
	if first.Body.String() != second.Body.String() {
		t.Error("same seed should give identical results")
	}

	res := decodeBody[sim.MonteCarloResult](t, first)
	if res.Trials != 100 || len(res.Bands) != 12 {
		t.Errorf("unexpected result: trials=%d bands=%d", res.Trials, len(res.Bands))
	}

	req["options"] = map[string]interface{}{"trials": 7}
	if rr := env.do(t, "POST", "/api/v1/sim/montecarlo", req); rr.Code != http.StatusBadRequest {
		t.Errorf("bad trials: expected 400, got %d", rr.Code)
	}
}

func TestAPI_SensitivityAndApply(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "POST", "/api/v1/sim/sensitivity", map[string]interface{}{"params": simParams()})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rows := decodeBody[struct {
		Rows []sim.SensitivityRow `json:"rows"`
	}](t, rr).Rows
	if len(rows) == 0 {
		t.Fatal("expected sensitivity rows")
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].RunwaySwing > rows[i-1].RunwaySwing {
			t.Errorf("rows not sorted by swing at %d", i)
		}
	}

	rr = env.do(t, "POST", "/api/v1/sim/apply", map[string]interface{}{
		"params":       simParams(),
		"perturbation": rows[0].High,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/sim/apply", map[string]interface{}{
		"params":       simParams(),
		"perturbation": sim.Perturbation{Parameter: "weather", Delta: 1},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown parameter: expected 400, got %d", rr.Code)
	}
}

// --- Streams ---

func TestAPI_Stream(t *testing.T) {
	env := testServer(t)

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/bridge/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return env.hub.Clients() == 1 }, "stream client registered")

	body, _ := json.Marshal(testutil.PayBill(182))
	post, err := http.Post(ts.URL+"/api/v1/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	post.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame bridge.Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		for _, k := range frame.Keys {
			if k == core.KeyQueue {
				return
			}
		}
	}
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	clock := testutil.NewClock(testutil.FixedNow)
	rl.now = clock.Now

	rl.visitorFor("10.0.0.1")
	rl.visitorFor("10.0.0.2")
	if rl.Visitors() != 2 {
		t.Fatalf("expected 2 visitors, got %d", rl.Visitors())
	}

	clock.Advance(visitorTTL + sweepEvery + time.Second)
	rl.visitorFor("10.0.0.3")
	if rl.Visitors() != 1 {
		t.Errorf("expected idle visitors to be swept, got %d", rl.Visitors())
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[core.Kind]int{
		core.KindInvalid:      http.StatusBadRequest,
		core.KindNotFound:     http.StatusNotFound,
		core.KindConflict:     http.StatusConflict,
		core.KindUnauthorized: http.StatusUnauthorized,
		core.KindRateLimited:  http.StatusTooManyRequests,
		core.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

// tamper rewrites the payload of the oldest stored event
func tamper(env *testEnv) error {
	_, err := env.db.Conn().Exec(`UPDATE events SET payload = '{"amount":1}' WHERE seq = 1`)
	return err
}
