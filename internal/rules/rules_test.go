package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/lifeops/internal/core"
)

var today = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(WithClock(func() time.Time { return today }))
	require.NoError(t, e.RegisterAll(Defaults()))
	return e
}

func op(name string, args ...interface{}) map[string]interface{} {
	return map[string]interface{}{name: args}
}

func v(path string) map[string]interface{} {
	return map[string]interface{}{"var": path}
}

func TestCompile_UnknownOperator(t *testing.T) {
	_, err := Compile(op("regex", v("bill.name"), "^elec"))
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = Compile(op("and", op(">", v("a"), 1.0), op("frobnicate", 1.0)))
	assert.ErrorIs(t, err, ErrUnsupportedOperator, "nested unknown operator is rejected too")
}

func TestCompile_Malformed(t *testing.T) {
	_, err := Compile(map[string]interface{}{">": []interface{}{1.0, 2.0}, "<": []interface{}{1.0, 2.0}})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Compile(op(">", 1.0))
	assert.ErrorIs(t, err, ErrArity)

	_, err = Compile(op("!", true, false))
	assert.ErrorIs(t, err, ErrArity)
}

func TestEvaluateRule_UnsupportedOperatorFailsClosed(t *testing.T) {
	e := newEngine(t)
	def := RuleDefinition{ID: "x", Enabled: true, Logic: op("matches", v("bill.amount"), 1.0)}

	var ok bool
	var err error
	assert.NotPanics(t, func() { ok, err = e.EvaluateRule(def, map[string]interface{}{}) })
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestEval_Operators(t *testing.T) {
	ctx := map[string]interface{}{
		"bill": map[string]interface{}{
			"amount":  182.0,
			"name":    "Electric",
			"tags":    []interface{}{"utility", "monthly"},
			"dueDate": "2026-10-18",
			"paid":    false,
		},
		"count": "3",
	}

	tests := []struct {
		name  string
		logic interface{}
		want  interface{}
	}{
		{"literal", 5.0, 5.0},
		{"var", v("bill.amount"), 182.0},
		{"var list index", v("bill.tags.1"), "monthly"},
		{"var missing", v("bill.nope"), nil},
		{"var default", op("var", "bill.nope", 7.0), 7.0},
		{"plus", op("+", v("bill.amount"), 18.0), 200.0},
		{"plus coerces string", op("+", v("count"), 1.0), 4.0},
		{"minus", op("-", 10.0, 4.0), 6.0},
		{"negate", op("-", 3.0), -3.0},
		{"gt", op(">", v("bill.amount"), 100.0), true},
		{"lt", op("<", v("bill.amount"), 100.0), false},
		{"gte equal", op(">=", 3.0, v("count")), true},
		{"lte", op("<=", 2.0, 3.0), true},
		{"between", op("<", 100.0, v("bill.amount"), 200.0), true},
		{"between outside", op("<=", 0.0, v("bill.amount"), 100.0), false},
		{"eq strings", op("==", v("bill.name"), "Electric"), true},
		{"eq loose number", op("==", v("count"), 3.0), true},
		{"neq", op("!=", v("bill.name"), "Water"), true},
		{"and short circuits", op("and", false, op(">", "x", 1.0)), false},
		{"or", op("or", v("bill.paid"), v("bill.amount")), 182.0},
		{"not", op("!", v("bill.paid")), true},
		{"not missing", op("!", v("bill.nope")), true},
		{"due in days", op("dueInDays", v("bill.dueDate")), 2.0},
		{"due in days rfc3339", op("dueInDays", "2026-10-15T23:59:00Z"), -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Compile(tt.logic)
			require.NoError(t, err)
			got, err := Eval(node, ctx, today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_TypeMismatch(t *testing.T) {
	ctx := map[string]interface{}{"bill": map[string]interface{}{"amount": "a lot", "meta": map[string]interface{}{}}}

	for _, logic := range []interface{}{
		op(">", v("bill.amount"), 1.0),
		op("+", v("bill.meta"), 1.0),
		op("dueInDays", "next tuesday"),
	} {
		node, err := Compile(logic)
		require.NoError(t, err)
		_, err = Eval(node, ctx, today)
		assert.ErrorIs(t, err, ErrTypeMismatch, "%s", node)
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		in   interface{}
		want float64
	}{
		{nil, 0},
		{true, 1},
		{false, 0},
		{"", 0},
		{" 12.5 ", 12.5},
		{42, 42},
		{int64(7), 7},
	}
	for _, tt := range tests {
		got, err := toNumber(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]interface{}{}))
	assert.True(t, Truthy("0"))
	assert.True(t, Truthy(0.1))
	assert.True(t, Truthy(map[string]interface{}{}))
}

func TestRun_BillDueSoon(t *testing.T) {
	e := newEngine(t)

	soon := map[string]interface{}{"bill": map[string]interface{}{"amount": 182.0, "dueDate": "2026-10-18"}}
	later := map[string]interface{}{"bill": map[string]interface{}{"amount": 182.0, "dueDate": "2026-10-25"}}
	paid := map[string]interface{}{"bill": map[string]interface{}{"amount": 0.0, "dueDate": "2026-10-17"}}

	actions := e.Run(core.EventBillDue, soon)
	require.Len(t, actions, 1)
	assert.Equal(t, "bill-due-soon", actions[0].RuleID)
	assert.Equal(t, "nudge", actions[0].Action)
	assert.Equal(t, "push", actions[0].Params["channel"])

	assert.Empty(t, e.Run(core.EventBillDue, later))
	assert.Empty(t, e.Run(core.EventBillDue, paid))
}

func TestHandleEvents_OnlyMatchingType(t *testing.T) {
	e := newEngine(t)
	events := []core.EventRecord{
		{ID: "e1", Type: core.EventBillPaid, Payload: map[string]interface{}{"minutesOverdue": 90.0}},
		{ID: "e2", Type: core.EventDoseTaken, Payload: map[string]interface{}{"minutesOverdue": 45.0}},
		{ID: "e3", Type: core.EventDoseTaken, Payload: map[string]interface{}{"minutesOverdue": 10.0}},
	}

	actions := e.HandleEvents(events)
	require.Len(t, actions, 1)
	assert.Equal(t, "dose-overdue", actions[0].RuleID)
	assert.Equal(t, "e2", actions[0].EventID)
	assert.Equal(t, core.EventDoseTaken, actions[0].EventType)
	assert.Equal(t, 45.0, actions[0].Payload["minutesOverdue"])
}

func TestHandleEvents_EvaluationErrorProducesNoAction(t *testing.T) {
	e := newEngine(t)
	actions := e.HandleEvents([]core.EventRecord{
		{ID: "e1", Type: core.EventDoseTaken, Payload: map[string]interface{}{"minutesOverdue": "late"}},
	})
	assert.Empty(t, actions)
}

func TestEventContext(t *testing.T) {
	at := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	ctx := EventContext(core.EventRecord{
		ID: "e1", Type: core.EventGoalAllocated, OccurredAt: at, CorrelationID: "k1",
		Payload: map[string]interface{}{"goalId": "goal-emergency"},
	})

	assert.Equal(t, "goal-emergency", ctx["goal"].(map[string]interface{})["goalId"])
	assert.NotContains(t, ctx, "bill")
	assert.NotContains(t, ctx, "dose")

	envelope := ctx["event"].(map[string]interface{})
	assert.Equal(t, "e1", envelope["id"])
	assert.Equal(t, "k1", envelope["correlationId"])
}

func TestRegister(t *testing.T) {
	e := NewEngine()

	assert.ErrorIs(t, e.Register(RuleDefinition{Action: "nudge", EventTypes: []string{"x"}}), core.ErrMissingRequired)
	assert.ErrorIs(t, e.Register(RuleDefinition{ID: "a", Action: "nudge"}), core.ErrMissingRequired)
	assert.ErrorIs(t, e.Register(RuleDefinition{ID: "a", Action: "nudge", EventTypes: []string{"x"}, Logic: op("nope")}), ErrUnsupportedOperator)

	require.NoError(t, e.Register(RuleDefinition{ID: "a", Enabled: true, Action: "nudge", EventTypes: []string{"x"}, Logic: true}))
	require.NoError(t, e.Register(RuleDefinition{ID: "b", Enabled: true, Action: "log", EventTypes: []string{"x"}, Logic: true}))
	require.NoError(t, e.Register(RuleDefinition{ID: "a", Enabled: true, Action: "nudge", EventTypes: []string{"y"}, Logic: true}))

	ids := []string{}
	for _, r := range e.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids, "re-registering keeps position")

	assert.Len(t, e.Run("x", nil), 1, "replaced rule no longer listens on x")
	assert.Len(t, e.Run("y", nil), 1)
	assert.Equal(t, []string{"x", "y"}, e.EventTypes())

	_, err := e.Rule("missing")
	assert.ErrorIs(t, err, core.ErrRuleNotFound)
}

func TestRun_DisabledRuleSkipped(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(RuleDefinition{ID: "off", Action: "nudge", EventTypes: []string{"x"}, Logic: true}))
	assert.Empty(t, e.Run("x", nil))
}

func TestDryRun(t *testing.T) {
	e := newEngine(t)
	def, err := e.Rule("dose-overdue")
	require.NoError(t, err)

	results, err := e.DryRun(def, []map[string]interface{}{
		{"dose": map[string]interface{}{"minutesOverdue": 31.0}},
		{"dose": map[string]interface{}{"minutesOverdue": 30.0}},
		{},
		{"dose": map[string]interface{}{"minutesOverdue": []interface{}{1.0}}},
	})
	assert.Equal(t, []bool{true, false, false, false}, results)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = e.DryRun(RuleDefinition{Logic: op("bogus")}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(`
rules:
  - id: mail-refill
    name: Mail-order refill
    enabled: true
    event_types: [refill.requested]
    logic: {"==": [{"var": "refill.pharmacy"}, "mail"]}
    action: nudge
    params:
      channel: email
      priority: 2
`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, []string{core.EventRefillRequested}, defs[0].EventTypes)

	e := NewEngine()
	require.NoError(t, e.RegisterAll(defs))
	actions := e.HandleEvents([]core.EventRecord{
		{ID: "r1", Type: core.EventRefillRequested, Payload: map[string]interface{}{"pharmacy": "mail"}},
	})
	require.Len(t, actions, 1)
	assert.Equal(t, "email", actions[0].Params["channel"])

	_, err = Parse([]byte("rules:\n  - id: bad\n    logic: {\"~\": [1, 2]}\n"))
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}
