// Package categories owns the per-scope category list that movements may
// reference.
package categories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/congo-pay/moneyledger/internal/ledger"
)

// Service creates and resolves categories. It satisfies ledger.CategoryLookup.
type Service struct {
	repo  Repository
	clock ledger.Clock
}

// NewService builds a category service.
func NewService(repo Repository, clock ledger.Clock) *Service {
	if clock == nil {
		clock = ledger.NewMonotonicClock()
	}
	return &Service{repo: repo, clock: clock}
}

// Create adds a category to scope. Names are unique per scope.
func (s *Service) Create(ctx context.Context, scope ledger.OwnerScope, name string) (ledger.Category, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Category{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}
	c := ledger.Category{ID: uuid.NewString(), Scope: scope, Name: name, CreatedAt: s.clock.Now()}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return ledger.Category{}, &ledger.ValidationError{Field: "name", Message: "category " + name + " already exists"}
		}
		return ledger.Category{}, err
	}
	return c, nil
}

// List returns the categories of scope.
func (s *Service) List(ctx context.Context, scope ledger.OwnerScope) ([]ledger.Category, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope)
}

// Lookup returns the category when it exists inside scope. Categories of
// other scopes are reported as missing.
func (s *Service) Lookup(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Category, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return ledger.Category{}, err
	}
	if c.Scope != scope {
		return ledger.Category{}, &ledger.NotFoundError{Resource: "category", ID: id}
	}
	return c, nil
}
