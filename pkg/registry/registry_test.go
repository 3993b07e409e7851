package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(_ context.Context, _ domain.Invocation) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegister_RejectsInvalid(t *testing.T) {
	r := registry.New()

	assert.Error(t, r.Register(domain.Primitive{Body: noop}), "missing id")
	assert.Error(t, r.Register(domain.Primitive{ID: "p"}), "missing body")
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.Register(domain.Primitive{ID: "p", Body: noop}))
	assert.Error(t, r.Register(domain.Primitive{ID: "p", Body: noop}))
}

func TestPrimitive_LookupIsIsolated(t *testing.T) {
	r := registry.New()

	p := domain.Primitive{
		ID:            "check",
		Body:          noop,
		Preconditions: []domain.Condition{{ID: "c1", Kind: domain.CheckValue, Severity: domain.SeverityError}},
	}
	require.NoError(t, r.Register(p))

	// Mutating the caller's copy after registration must not leak in.
	p.Preconditions[0].ID = "mutated"

	got, err := r.Primitive("check")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Preconditions[0].ID)

	// Mutating the looked-up copy must not leak back either.
	got.Preconditions[0].ID = "mutated-again"
	again, err := r.Primitive("check")
	require.NoError(t, err)
	assert.Equal(t, "c1", again.Preconditions[0].ID)
}

func TestPrimitive_NotFound(t *testing.T) {
	r := registry.New()
	_, err := r.Primitive("ghost")
	assert.ErrorIs(t, err, domain.ErrPrimitiveNotFound)
}

func TestCompositions(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.RegisterComposition(domain.Composition{ID: "b"}))
	require.NoError(t, r.RegisterComposition(domain.Composition{ID: "a"}))
	assert.Error(t, r.RegisterComposition(domain.Composition{ID: "a"}), "duplicate")

	assert.Equal(t, []string{"a", "b"}, r.Compositions())

	_, err := r.Composition("missing")
	assert.ErrorIs(t, err, domain.ErrCompositionNotFound)
}
