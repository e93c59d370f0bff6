package categories

import (
	"context"
	"sort"
	"sync"

	"github.com/congo-pay/moneyledger/internal/ledger"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]ledger.Category
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]ledger.Category)}
}

func (r *memoryRepository) Create(_ context.Context, c ledger.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.storage {
		if existing.Scope == c.Scope && existing.Name == c.Name {
			return ErrDuplicateName
		}
	}
	r.storage[c.ID] = c
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (ledger.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.storage[id]
	if !ok {
		return ledger.Category{}, &ledger.NotFoundError{Resource: "category", ID: id}
	}
	return c, nil
}

func (r *memoryRepository) List(_ context.Context, scope ledger.OwnerScope) ([]ledger.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []ledger.Category{}
	for _, c := range r.storage {
		if c.Scope == scope {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
