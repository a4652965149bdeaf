package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name  string
	runs  int32
	errFn func(n int32) error
}

func (j *fakeJob) Name() string { return j.name }
func (j *fakeJob) Run() error {
	n := atomic.AddInt32(&j.runs, 1)
	if j.errFn != nil {
		return j.errFn(n)
	}
	return nil
}

func TestAddJobRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "test_job"}
	require.NoError(t, s.AddJob("* * * * * *", job)) // every second, WithSeconds enabled

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&job.runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &fakeJob{name: "bad"})
	assert.Error(t, err)
}

func TestRunNowExecutesImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "immediate"}
	require.NoError(t, s.RunNow(job))
	assert.EqualValues(t, 1, atomic.LoadInt32(&job.runs))
}

func TestRunNowPropagatesJobError(t *testing.T) {
	s := New(zerolog.Nop())
	wantErr := errors.New("boom")
	job := &fakeJob{name: "failing", errFn: func(int32) error { return wantErr }}
	err := s.RunNow(job)
	assert.ErrorIs(t, err, wantErr)
}

func TestStopReturnsPromptlyWithNoJobs(t *testing.T) {
	s := New(zerolog.Nop())
	s.Start()
	s.Stop() // no jobs registered; should return promptly
}
