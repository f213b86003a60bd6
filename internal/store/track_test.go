package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_Complete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := Track(ctx, st, NewRun{Mode: "discrete", Variable: "pop"}, func(context.Context) (Outcome, error) {
		return Outcome{Breaks: []float64{1, 2}, Stats: map[string]int{"known": 4}}, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.Equal(t, []float64{1, 2}, run.Breaks)
	assert.JSONEq(t, `{"known":4}`, string(run.Stats))
}

func TestTrack_Failed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := Track(ctx, st, NewRun{Mode: "raster", Variable: "pop"}, func(context.Context) (Outcome, error) {
		return Outcome{}, errors.New("grid: too many cells")
	})
	require.EqualError(t, err, "grid: too many cells")

	run, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "grid: too many cells", run.Error)
}

func TestTrack_NilStore(t *testing.T) {
	called := false
	id, err := Track(context.Background(), nil, NewRun{}, func(context.Context) (Outcome, error) {
		called = true
		return Outcome{}, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, id)
}
