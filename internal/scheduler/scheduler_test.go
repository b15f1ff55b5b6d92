package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())

	err := s.AddJob("not a cron expression", JobFunc{
		JobName: "noop",
		Fn:      func(context.Context) error { return nil },
	})
	assert.Error(t, err)
}

func TestRunNowExecutesJob(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())

	ran := false
	err := s.RunNow(JobFunc{
		JobName: "mark",
		Fn: func(context.Context) error {
			ran = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunNowPropagatesError(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())

	err := s.RunNow(JobFunc{
		JobName: "fail",
		Fn:      func(context.Context) error { return fmt.Errorf("boom") },
	})
	assert.EqualError(t, err, "boom")
}

func TestJobReceivesSchedulerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(ctx, zerolog.Nop())
	err := s.RunNow(JobFunc{
		JobName: "ctx",
		Fn:      func(ctx context.Context) error { return ctx.Err() },
	})
	assert.ErrorIs(t, err, context.Canceled)
}
