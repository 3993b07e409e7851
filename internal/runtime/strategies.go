package runtime

import (
	"errors"
	"fmt"

	"github.com/aretw0/lattice/pkg/contract"
)

// Strategy is a pure reducer used by the aggregate operator: it merges the
// outputs of prior steps into one value with no side effects.
type Strategy func(inputs []map[string]any) (map[string]any, error)

// Predicate is a pure selector used by the filter operator.
type Predicate func(item any, index int) (bool, error)

func builtinStrategies() map[string]Strategy {
	return map[string]Strategy{
		"concat":             concatStrategy,
		"merge_findings":     mergeFieldStrategy("findings"),
		"extract_weaknesses": mergeFieldStrategy("weaknesses"),
		"collect_errors":     collectErrorsStrategy,
	}
}

// concatStrategy merges all input maps field-wise; list-valued fields are
// concatenated, scalar fields keep the last writer.
func concatStrategy(inputs []map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, in := range inputs {
		for k, v := range in {
			if existing, ok := out[k].([]any); ok {
				if items, ok := v.([]any); ok {
					out[k] = append(existing, items...)
					continue
				}
				out[k] = append(existing, v)
				continue
			}
			out[k] = v
		}
	}
	return out, nil
}

// mergeFieldStrategy collects one named list field across all inputs.
func mergeFieldStrategy(field string) Strategy {
	return func(inputs []map[string]any) (map[string]any, error) {
		var merged []any
		for _, in := range inputs {
			switch v := in[field].(type) {
			case nil:
				// Input without the field contributes nothing.
			case []any:
				merged = append(merged, v...)
			default:
				merged = append(merged, v)
			}
		}
		return map[string]any{field: merged, "count": len(merged)}, nil
	}
}

// collectErrorsStrategy gathers the "error" field of every input that has one.
func collectErrorsStrategy(inputs []map[string]any) (map[string]any, error) {
	var errs []any
	for _, in := range inputs {
		if e, ok := in["error"]; ok && e != nil && e != "" {
			errs = append(errs, e)
		}
	}
	return map[string]any{"errors": errs, "count": len(errs)}, nil
}

func builtinPredicates() map[string]Predicate {
	return map[string]Predicate{
		"non_empty": func(item any, _ int) (bool, error) {
			switch t := item.(type) {
			case nil:
				return false, nil
			case string:
				return t != "", nil
			case []any:
				return len(t) > 0, nil
			case map[string]any:
				return len(t) > 0, nil
			default:
				return true, nil
			}
		},
		"is_error": func(item any, _ int) (bool, error) {
			m, ok := item.(map[string]any)
			if !ok {
				return false, nil
			}
			e, present := m["error"]
			return present && e != nil && e != "", nil
		},
	}
}

// exprPredicate compiles a condition expression into a Predicate. Each
// element is bound as "item" (and its fields at the top level when it is
// an object) plus its "index".
func exprPredicate(expr string) Predicate {
	return func(item any, index int) (bool, error) {
		scope := map[string]any{"item": item, "index": float64(index)}
		if m, ok := item.(map[string]any); ok {
			for k, v := range m {
				if _, taken := scope[k]; !taken {
					scope[k] = v
				}
			}
		}
		ok, err := contract.Eval(expr, scope)
		if errors.Is(err, contract.ErrUnknownReference) {
			// An element without the referenced field is simply not selected.
			return false, nil
		}
		return ok, err
	}
}

func (e *Executor) strategy(name string) (Strategy, error) {
	if s, ok := e.strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown aggregate strategy %q", name)
}

func (e *Executor) predicate(name string) Predicate {
	if p, ok := e.predicates[name]; ok {
		return p
	}
	// Anything that is not a registered name is treated as an expression.
	return exprPredicate(name)
}
