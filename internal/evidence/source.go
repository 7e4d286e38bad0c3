// Package evidence gathers corroborating records for a market question from
// a registry of independent sources.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Source is one data provider. Fetch either returns a record or fails
// independently of every other source.
type Source interface {
	Name() string
	Fetch(ctx context.Context, question string) (domain.EvidenceRecord, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, question string) (domain.EvidenceRecord, error)
}

// Name implements Source.
func (f SourceFunc) Name() string { return f.SourceName }

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, question string) (domain.EvidenceRecord, error) {
	return f.Fn(ctx, question)
}

// Registry maps a category to the ordered list of sources consulted for it.
// Categories without an entry fall back to the general list.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.Category][]Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[domain.Category][]Source)}
}

// Register appends sources to a category, preserving call order.
func (r *Registry) Register(category domain.Category, sources ...Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[category] = append(r.sources[category], sources...)
}

// Sources returns a copy of the sources for category, or of the general set
// when category has none.
func (r *Registry) Sources(category domain.Category) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.sources[category]
	if !ok {
		list = r.sources[domain.CategoryGeneral]
	}
	return append([]Source(nil), list...)
}

// Resolve reports which category's set is used for category.
func (r *Registry) Resolve(category domain.Category) domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sources[category]; ok {
		return category
	}
	return domain.CategoryGeneral
}

// Categories lists the registered categories alphabetically.
func (r *Registry) Categories() []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Category, 0, len(r.sources))
	for c := range r.sources {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate returns an error when the fallback set is missing.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sources[domain.CategoryGeneral]) == 0 {
		return fmt.Errorf("evidence: no sources registered for %q fallback", domain.CategoryGeneral)
	}
	return nil
}
