package contract_test

import (
	"testing"

	"github.com/aretw0/lattice/pkg/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Comparisons(t *testing.T) {
	scope := map[string]any{
		"x":     7.0,
		"count": 3,
		"label": "ok",
		"ready": true,
		"stepA": map[string]any{"score": 0.3},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"x > 5", true},
		{"x > 10", false},
		{"x >= 7", true},
		{"x <= 7", true},
		{"x < 7", false},
		{"x == 7", true},
		{"x != 7", false},
		{"count > 2", true},
		{"stepA.score > 0.5", false},
		{"stepA.score <= 0.3", true},
		{"label == 'ok'", true},
		{"label == \"ok\"", true},
		{"label != 'bad'", true},
		{"ready == true", true},
		{"true", true},
		{"false", false},
	}

	for _, tc := range cases {
		got, err := contract.Eval(tc.expr, scope)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEval_ExistsAndLen(t *testing.T) {
	scope := map[string]any{
		"items": []any{1, 2, 3},
		"name":  "lattice",
		"obj":   map[string]any{"a": 1},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"exists(items)", true},
		{"exists(missing)", false},
		{"exists(obj.a)", true},
		{"exists(obj.b)", false},
		{"len(items) == 3", true},
		{"len(items) >= 4", false},
		{"len(name) == 7", true},
		{"len(obj) == 1", true},
		{"len(missing) == 0", true},
	}

	for _, tc := range cases {
		got, err := contract.Eval(tc.expr, scope)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEval_Errors(t *testing.T) {
	scope := map[string]any{"x": 1}

	_, err := contract.Eval("", scope)
	assert.Error(t, err, "empty expression")

	_, err = contract.Eval("x", scope)
	assert.Error(t, err, "no operator")

	_, err = contract.Eval("ghost > 1", scope)
	assert.Error(t, err, "unknown reference")

	_, err = contract.Eval("len(x) > 0", scope)
	assert.Error(t, err, "len of scalar")
}

func TestEval_QuotedOperatorIsNotAnOperator(t *testing.T) {
	got, err := contract.Eval("label == 'a > b'", map[string]any{"label": "a > b"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_NegativeNumbers(t *testing.T) {
	got, err := contract.Eval("delta > -1", map[string]any{"delta": -0.5})
	require.NoError(t, err)
	assert.True(t, got)
}
