package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs  atomic.Int32
	block chan struct{}
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return nil
}

func TestOverrunSkipsTick(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{block: make(chan struct{})}
	require.NoError(t, s.AddJob("@every 100ms", job))

	s.Start()
	defer s.Stop()

	// first run starts and blocks; at least two further ticks fire and
	// must be skipped
	require.Eventually(t, func() bool {
		return job.runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load(), "overlapping ticks must be skipped")

	close(job.block)
	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}
