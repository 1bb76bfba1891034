package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

type fakeSubmitter struct {
	reqs   []jobs.Request
	result jobs.Result
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobs.Request, _ string) (string, <-chan jobs.Result) {
	f.reqs = append(f.reqs, req)
	ch := make(chan jobs.Result, 1)
	res := f.result
	res.Request = req
	ch <- res
	close(ch)
	return "job-1", ch
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
	assert.NoError(t, s.AddJob("0 15 * * 1-5", &countingJob{}))
	assert.NoError(t, s.AddJob("@daily", &countingJob{}))
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("ignored")}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop(context.Background())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestMarketReviewJob(t *testing.T) {
	tests := []struct {
		name    string
		result  jobs.Result
		wantErr bool
	}{
		{"success", jobs.Result{}, false},
		{"reported false", func() jobs.Result {
			err := &classify.CollaboratorError{Op: "大盘复盘"}
			kind, msg := classify.Classify(err)
			return jobs.Result{Err: err, ErrorKind: kind, Message: msg}
		}(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := events.NewBus(zerolog.Nop())
			var got *events.Event
			bus.Subscribe(events.ScheduledReviewRun, func(e *events.Event) { got = e })

			sub := &fakeSubmitter{result: tt.result}
			job := NewMarketReviewJob(sub, events.NewManager(bus, zerolog.Nop()), time.Minute, zerolog.Nop())

			err := job.Run()

			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, []jobs.Request{{Kind: jobs.MarketReview}}, sub.reqs)
			require.NotNil(t, got)
			assert.Equal(t, !tt.wantErr, got.Data["success"])
			assert.Equal(t, "job-1", got.Data["job_id"])
		})
	}
}
