package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type env struct {
	data  map[string]interface{}
	today time.Time // midnight UTC
}

func (n Literal) eval(*env) (interface{}, error) { return n.Value, nil }

func (n Var) eval(e *env) (interface{}, error) {
	v, ok := lookup(e.data, n.Path)
	if ok && v != nil {
		return v, nil
	}
	if n.Default != nil {
		return n.Default.eval(e)
	}
	return nil, nil
}

func (n Arith) eval(e *env) (interface{}, error) {
	nums := make([]float64, len(n.Args))
	for i, a := range n.Args {
		v, err := a.eval(e)
		if err != nil {
			return nil, err
		}
		if nums[i], err = toNumber(v); err != nil {
			return nil, fmt.Errorf("%s: %w", n.Op, err)
		}
	}

	if n.Op == "-" {
		if len(nums) == 1 {
			return -nums[0], nil
		}
		return nums[0] - nums[1], nil
	}
	sum := 0.0
	for _, x := range nums {
		sum += x
	}
	return sum, nil
}

func (n Compare) eval(e *env) (interface{}, error) {
	vals := make([]interface{}, len(n.Args))
	for i, a := range n.Args {
		v, err := a.eval(e)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	switch n.Op {
	case "==":
		return looseEqual(vals[0], vals[1]), nil
	case "!=":
		return !looseEqual(vals[0], vals[1]), nil
	}

	nums := make([]float64, len(vals))
	for i, v := range vals {
		f, err := toNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Op, err)
		}
		nums[i] = f
	}

	holds := func(a, b float64) bool {
		switch n.Op {
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "<":
			return a < b
		default: // "<="
			return a <= b
		}
	}

	for i := 0; i+1 < len(nums); i++ {
		if !holds(nums[i], nums[i+1]) {
			return false, nil
		}
	}
	return true, nil
}

func (n Logic) eval(e *env) (interface{}, error) {
	var last interface{}
	for _, a := range n.Args {
		v, err := a.eval(e)
		if err != nil {
			return nil, err
		}
		last = v
		t := Truthy(v)
		if n.Op == "and" && !t {
			return v, nil
		}
		if n.Op == "or" && t {
			return v, nil
		}
	}
	return last, nil
}

func (n Not) eval(e *env) (interface{}, error) {
	v, err := n.Arg.eval(e)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

func (n DueInDays) eval(e *env) (interface{}, error) {
	v, err := n.Arg.eval(e)
	if err != nil {
		return nil, err
	}
	due, err := toDate(v)
	if err != nil {
		return nil, fmt.Errorf("dueInDays: %w", err)
	}
	return math.Round(due.Sub(e.today).Hours() / 24), nil
}

// lookup resolves a dotted path through maps and lists. The empty path is
// the whole context.
func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}
	var cur interface{} = data
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// toNumber coerces nil to 0, booleans to 0/1 and numeric strings to their
// value. Anything else is a type mismatch.
func toNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
}

func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	fa, errA := toNumber(a)
	fb, errB := toNumber(b)
	if errA != nil || errB != nil {
		return false
	}
	return fa == fb
}

// Truthy is JsonLogic truthiness: nil, false, 0, "" and empty lists are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	}
	if f, err := toNumber(v); err == nil {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func toDate(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return midnight(t), nil
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return midnight(ts), nil
		}
		if ts, err := time.Parse("2006-01-02", t); err == nil {
			return ts, nil
		}
		return time.Time{}, fmt.Errorf("%w: %q is not a date", ErrTypeMismatch, t)
	}
	return time.Time{}, fmt.Errorf("%w: %T is not a date", ErrTypeMismatch, v)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Eval evaluates a compiled node against ctx with the given clock time.
func Eval(n Node, ctx map[string]interface{}, now time.Time) (interface{}, error) {
	return n.eval(&env{data: ctx, today: midnight(now)})
}
