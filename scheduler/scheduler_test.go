package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRunsJobs(t *testing.T) {
	t.Parallel()
	r := New(context.Background(), time.UTC, nil)

	var runs atomic.Int32
	_, err := r.Add("tick", "* * * * * *", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	t.Parallel()
	r := New(context.Background(), nil, nil)
	_, err := r.Add("bad", "0 0 * * *", func(context.Context) error { return nil })
	assert.Error(t, err, "five-field specs are not accepted")
}

func TestRunnerNextUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("EST", -5*3600)
	r := New(context.Background(), loc, nil)
	id, err := r.Add("rollover", "0 0 0 * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	r.Start()
	defer r.Stop()
	next := r.Next(id).In(loc)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestRunnerSkipsAfterCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(ctx, time.UTC, nil)

	var runs atomic.Int32
	_, err := r.Add("tick", "* * * * * *", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)
	r.Start()
	time.Sleep(1200 * time.Millisecond)
	r.Stop()
	assert.Zero(t, runs.Load())
}
