package integrations

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry keeps integrations in registration order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Integration
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:  map[string]Integration{},
		order: []string{},
	}
}

func (r *Registry) Register(in Integration) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if in == nil {
		return errors.New("integration is nil")
	}
	id := strings.TrimSpace(in.ID())
	if id == "" {
		return errors.New("integration id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("integration %q already registered", id)
	}
	r.byID[id] = in
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) MustRegister(in Integration) {
	if err := r.Register(in); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(id string) (Integration, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byID[strings.TrimSpace(id)]
	return in, ok
}

// Lookup finds an integration by id or display name, ignoring case and
// spaces, so "Roo Code", "roo code" and "roocode" are equivalent.
func (r *Registry) Lookup(name string) (Integration, bool) {
	if r == nil {
		return nil, false
	}
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		in := r.byID[id]
		if normalizeName(in.ID()) == key || normalizeName(in.Name()) == key {
			return in, true
		}
	}
	return nil, false
}

func (r *Registry) List() []Integration {
	if r == nil {
		return []Integration{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Integration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ByKind lists integrations of kind in registration order.
func (r *Registry) ByKind(kind Kind) []Integration {
	out := make([]Integration, 0)
	for _, in := range r.List() {
		if in.Kind() == kind {
			out = append(out, in)
		}
	}
	return out
}

func normalizeName(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "")
}
