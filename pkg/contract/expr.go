package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownReference marks an expression operand that resolved to nothing
// in the scope. Callers filtering heterogeneous values branch on it to
// treat an absent field as "not satisfied" instead of a hard error.
var ErrUnknownReference = errors.New("unknown reference")

// Eval evaluates a boolean condition expression against a scope of named
// values. The grammar is deliberately small — one comparison per
// expression, the shape gate conditions and iterate exit conditions need:
//
//	score > 0.5
//	stepA.status == "ok"
//	exists(stepB.findings)
//	len(items) >= 3
//	true
//
// Paths descend dot-separated into nested map[string]any values.
func Eval(expr string, scope map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty expression")
	}

	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if inner, ok := unwrapCall(expr, "exists"); ok {
		_, found := lookup(scope, inner)
		return found, nil
	}

	lhs, op, rhs, err := splitComparison(expr)
	if err != nil {
		return false, err
	}

	left, err := operand(lhs, scope)
	if err != nil {
		return false, err
	}
	right, err := operand(rhs, scope)
	if err != nil {
		return false, err
	}

	return compare(left, op, right)
}

// splitComparison finds the comparison operator outside of quotes.
// Two-character operators are matched before their one-character prefixes.
func splitComparison(expr string) (lhs, op, rhs string, err error) {
	ops := []string{"==", "!=", ">=", "<=", ">", "<"}

	inQuote := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c == '\'' || c == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		for _, candidate := range ops {
			if strings.HasPrefix(expr[i:], candidate) {
				return strings.TrimSpace(expr[:i]), candidate, strings.TrimSpace(expr[i+len(candidate):]), nil
			}
		}
	}
	return "", "", "", fmt.Errorf("no comparison operator in %q", expr)
}

// operand resolves one side of a comparison: a literal, a len() call, or a
// path into the scope.
func operand(s string, scope map[string]any) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty operand")
	}

	if inner, ok := unwrapCall(s, "len"); ok {
		v, found := lookup(scope, inner)
		if !found {
			return float64(0), nil
		}
		switch t := v.(type) {
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		case string:
			return float64(len(t)), nil
		default:
			return nil, fmt.Errorf("len() of non-collection %T", v)
		}
	}

	// Quoted string literal.
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}

	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "nil":
		return nil, nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	v, found := lookup(scope, s)
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownReference, s)
	}
	return v, nil
}

func unwrapCall(s, fn string) (string, bool) {
	prefix := fn + "("
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ")") {
		return strings.TrimSpace(s[len(prefix) : len(s)-1]), true
	}
	return "", false
}

// lookup descends a dot path into nested maps.
func lookup(scope map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = scope
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compare(left any, op string, right any) (bool, error) {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}

	switch op {
	case "==":
		return equalLoose(left, right), nil
	case "!=":
		return !equalLoose(left, right), nil
	}

	ls, lok2 := left.(string)
	rs, rok2 := right.(string)
	if lok2 && rok2 {
		switch op {
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}

	return false, fmt.Errorf("cannot compare %T %s %T", left, op, right)
}

func equalLoose(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// asFloat widens any numeric Go or JSON-decoded value to float64.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
