// Package registry is the static catalog mapping primitive ids to their
// contracts and callable implementations. Pure lookup; no execution state.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
)

// Registry holds registered primitives and compositions.
// Registration happens at configuration time; lookups during execution are
// read-only and safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	primitives   map[string]domain.Primitive
	compositions map[string]domain.Composition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		primitives:   make(map[string]domain.Primitive),
		compositions: make(map[string]domain.Composition),
	}
}

// Register adds a primitive to the catalog. The primitive is copied on the
// way in so later mutation by the caller cannot alter the registered contract.
func (r *Registry) Register(p domain.Primitive) error {
	if p.ID == "" {
		return fmt.Errorf("primitive missing id")
	}
	if p.Body == nil {
		return fmt.Errorf("primitive %q has no body", p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.primitives[p.ID]; exists {
		return fmt.Errorf("primitive %q already registered", p.ID)
	}
	r.primitives[p.ID] = p.Clone()
	return nil
}

// Primitive looks up a primitive by id, returning a copy.
// Returns domain.ErrPrimitiveNotFound if the id is unknown.
func (r *Registry) Primitive(id string) (domain.Primitive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.primitives[id]
	if !ok {
		return domain.Primitive{}, fmt.Errorf("%w: %s", domain.ErrPrimitiveNotFound, id)
	}
	return p.Clone(), nil
}

// Primitives returns all registered primitive ids, sorted.
func (r *Registry) Primitives() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.primitives))
	for id := range r.primitives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterComposition adds a composition definition to the catalog.
func (r *Registry) RegisterComposition(c domain.Composition) error {
	if c.ID == "" {
		return fmt.Errorf("composition missing id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.compositions[c.ID]; exists {
		return fmt.Errorf("composition %q already registered", c.ID)
	}
	r.compositions[c.ID] = c
	return nil
}

// Composition looks up a composition by id.
// Returns domain.ErrCompositionNotFound if the id is unknown.
func (r *Registry) Composition(id string) (domain.Composition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.compositions[id]
	if !ok {
		return domain.Composition{}, fmt.Errorf("%w: %s", domain.ErrCompositionNotFound, id)
	}
	return c, nil
}

// Compositions returns all registered composition ids, sorted.
func (r *Registry) Compositions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.compositions))
	for id := range r.compositions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
