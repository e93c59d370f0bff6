// Package saga runs an ordered list of steps and, when one fails, undoes the
// completed ones in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step is one forward action with its compensation. Undo may be nil for steps
// that leave nothing to clean up.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga is an ordered sequence of steps.
type Saga struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// New creates an empty saga. A nil logger discards compensation failures.
func New(name string, logger *slog.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

// Add appends a step and returns the saga for chaining.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Len reports the number of steps.
func (s *Saga) Len() int { return len(s.steps) }

// CompensationError reports undo steps that failed while unwinding.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Run executes every step in order. When a step fails the completed steps are
// undone newest first and the original error is returned, joined with any
// compensation failures. Undo runs on a context detached from cancellation so
// an aborted request still unwinds.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			return s.compensate(ctx, done, err)
		}
		done = append(done, step)
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step, cause error) error {
	undoCtx := context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(undoCtx); err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(undoCtx, "saga compensation failed", "saga", s.name, "step", step.Name, "error", err)
			}
			errs = append(errs, &CompensationError{Step: step.Name, Err: err})
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

// Exec runs the steps without compensation. Used when the surrounding store
// transaction already guarantees all-or-nothing.
func (s *Saga) Exec(ctx context.Context) error {
	for _, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			return err
		}
	}
	return nil
}
