// Package rules evaluates JsonLogic-style conditions against event contexts
// and turns matches into actions such as nudges.
//
// Logic trees are compiled into a small typed AST before evaluation, so an
// unknown operator is rejected at registration instead of silently
// evaluating to a garbage value.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors
var (
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrArity               = errors.New("wrong number of arguments")
	ErrMalformed           = errors.New("malformed logic")
)

// Node is a compiled logic expression.
type Node interface {
	eval(env *env) (interface{}, error)
	String() string
}

// Literal is a constant value
type Literal struct {
	Value interface{}
}

// Var looks up a dotted path in the evaluation context
type Var struct {
	Path    string
	Default Node // optional
}

// Arith is + or -
type Arith struct {
	Op   string
	Args []Node
}

// Compare is a binary comparison, or the three-argument "between" form of
// < and <=.
type Compare struct {
	Op   string
	Args []Node
}

// Logic is a short-circuiting and/or
type Logic struct {
	Op   string
	Args []Node
}

// Not negates the truthiness of its argument
type Not struct {
	Arg Node
}

// DueInDays is the whole-day distance from today to a date
type DueInDays struct {
	Arg Node
}

func (n Literal) String() string {
	b, _ := json.Marshal(n.Value)
	return string(b)
}

func (n Var) String() string {
	if n.Default != nil {
		return fmt.Sprintf("var(%s, %s)", n.Path, n.Default)
	}
	return fmt.Sprintf("var(%s)", n.Path)
}

func (n Arith) String() string     { return opString(n.Op, n.Args) }
func (n Compare) String() string   { return opString(n.Op, n.Args) }
func (n Logic) String() string     { return opString(n.Op, n.Args) }
func (n Not) String() string       { return fmt.Sprintf("!(%s)", n.Arg) }
func (n DueInDays) String() string { return fmt.Sprintf("dueInDays(%s)", n.Arg) }

func opString(op string, args []Node) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// Operators lists every operator Compile accepts
func Operators() []string {
	ops := make([]string, 0, len(compilers))
	for op := range compilers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

type compileFunc func(op string, args []Node) (Node, error)

var compilers map[string]compileFunc

func init() {
	compilers = map[string]compileFunc{
		"var":       compileVar,
		"+":         compileArith,
		"-":         compileArith,
		">":         compileCompare(2, 2),
		">=":        compileCompare(2, 2),
		"<":         compileCompare(2, 3),
		"<=":        compileCompare(2, 3),
		"==":        compileCompare(2, 2),
		"!=":        compileCompare(2, 2),
		"and":       compileLogic,
		"or":        compileLogic,
		"!":         compileNot,
		"dueInDays": compileDueInDays,
	}
}

// Compile turns a decoded JSON (or YAML) logic tree into a Node.
func Compile(logic interface{}) (Node, error) {
	switch v := logic.(type) {
	case map[string]interface{}:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: operator object must have exactly one key, got %d", ErrMalformed, len(v))
		}
		for op, raw := range v {
			return compileOp(op, raw)
		}
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			lit, err := literalValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = lit
		}
		return Literal{Value: out}, nil
	}
	lit, err := literalValue(logic)
	if err != nil {
		return nil, err
	}
	return Literal{Value: lit}, nil
}

func compileOp(op string, raw interface{}) (Node, error) {
	compile, ok := compilers[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
	}

	var rawArgs []interface{}
	if list, isList := raw.([]interface{}); isList {
		rawArgs = list
	} else {
		rawArgs = []interface{}{raw}
	}

	args := make([]Node, len(rawArgs))
	for i, a := range rawArgs {
		n, err := Compile(a)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", op, i, err)
		}
		args[i] = n
	}
	return compile(op, args)
}

func compileVar(op string, args []Node) (Node, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("%w: var takes a path and an optional default", ErrArity)
	}
	lit, ok := args[0].(Literal)
	if !ok {
		return nil, fmt.Errorf("%w: var path must be a literal", ErrMalformed)
	}
	var path string
	switch p := lit.Value.(type) {
	case string:
		path = p
	case float64:
		path = fmt.Sprintf("%g", p)
	case nil:
		path = ""
	default:
		return nil, fmt.Errorf("%w: var path %v", ErrTypeMismatch, p)
	}
	v := Var{Path: path}
	if len(args) == 2 {
		v.Default = args[1]
	}
	return v, nil
}

func compileArith(op string, args []Node) (Node, error) {
	if op == "-" && (len(args) < 1 || len(args) > 2) {
		return nil, fmt.Errorf("%w: - takes one or two arguments", ErrArity)
	}
	return Arith{Op: op, Args: args}, nil
}

func compileCompare(minArgs, maxArgs int) compileFunc {
	return func(op string, args []Node) (Node, error) {
		if len(args) < minArgs || len(args) > maxArgs {
			return nil, fmt.Errorf("%w: %s takes %d to %d arguments, got %d", ErrArity, op, minArgs, maxArgs, len(args))
		}
		return Compare{Op: op, Args: args}, nil
	}
}

func compileLogic(op string, args []Node) (Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one argument", ErrArity, op)
	}
	return Logic{Op: op, Args: args}, nil
}

func compileNot(op string, args []Node) (Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: ! takes one argument", ErrArity)
	}
	return Not{Arg: args[0]}, nil
}

func compileDueInDays(op string, args []Node) (Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: dueInDays takes one argument", ErrArity)
	}
	return DueInDays{Arg: args[0]}, nil
}

// literalValue normalizes decoded scalars; YAML yields ints where JSON
// yields float64.
func literalValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return f, nil
	case map[string]interface{}:
		return nil, fmt.Errorf("%w: nested object inside a literal list", ErrMalformed)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			lv, err := literalValue(t[i])
			if err != nil {
				return nil, err
			}
			out[i] = lv
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported literal %T", ErrMalformed, v)
}
