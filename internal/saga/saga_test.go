package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(log *[]string, name string, fail error) Step {
	return Step{
		Name: name,
		Do: func(context.Context) error {
			if fail != nil {
				return fail
			}
			*log = append(*log, "do:"+name)
			return nil
		},
		Undo: func(context.Context) error {
			*log = append(*log, "undo:"+name)
			return nil
		},
	}
}

func TestRunCompletes(t *testing.T) {
	var log []string
	s := New("ok", nil).
		Add(recorder(&log, "a", nil)).
		Add(recorder(&log, "b", nil))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"do:a", "do:b"}, log)
}

func TestRunCompensatesInReverse(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	s := New("fail", nil).
		Add(recorder(&log, "a", nil)).
		Add(recorder(&log, "b", nil)).
		Add(recorder(&log, "c", boom)).
		Add(recorder(&log, "d", nil))

	err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"do:a", "do:b", "undo:b", "undo:a"}, log)
}

func TestRunCompensatesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoCtxErr error
	s := New("cancel", nil).
		Add(Step{
			Name: "a",
			Do:   func(context.Context) error { return nil },
			Undo: func(ctx context.Context) error {
				undoCtxErr = ctx.Err()
				return nil
			},
		}).
		Add(Step{
			Name: "b",
			Do: func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			},
		})

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, undoCtxErr)
}

func TestRunReportsCompensationFailures(t *testing.T) {
	boom := errors.New("boom")
	undoErr := errors.New("undo failed")
	s := New("partial", nil).
		Add(Step{
			Name: "a",
			Do:   func(context.Context) error { return nil },
			Undo: func(context.Context) error { return undoErr },
		}).
		Add(Step{Name: "b", Do: func(context.Context) error { return boom }})

	err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, undoErr)

	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "a", ce.Step)
}

func TestExecDoesNotCompensate(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	s := New("tx", nil).
		Add(recorder(&log, "a", nil)).
		Add(recorder(&log, "b", boom))

	require.ErrorIs(t, s.Exec(context.Background()), boom)
	assert.Equal(t, []string{"do:a"}, log)
}
