package scheduler

import (
	"context"
	"time"

	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/rs/zerolog"
)

// JobSubmitter starts a job and returns a channel yielding its single result.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.Request, interactionID string) (string, <-chan jobs.Result)
}

// MarketReviewJob runs an unattended market review through the job executor.
// The review notifies its channels itself; there is no interaction to answer.
type MarketReviewJob struct {
	jobs    JobSubmitter
	events  *events.Manager
	timeout time.Duration
	log     zerolog.Logger
}

// NewMarketReviewJob creates the scheduled review. timeout <= 0 waits indefinitely.
func NewMarketReviewJob(j JobSubmitter, em *events.Manager, timeout time.Duration, log zerolog.Logger) *MarketReviewJob {
	return &MarketReviewJob{
		jobs:    j,
		events:  em,
		timeout: timeout,
		log:     log.With().Str("job", "scheduled_market_review").Logger(),
	}
}

// Run submits the review and waits for its result.
func (j *MarketReviewJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	jobID, results := j.jobs.Submit(ctx, jobs.Request{Kind: jobs.MarketReview}, "")
	res := <-results

	j.events.EmitTyped("scheduler", &events.ScheduledReviewData{
		JobID:     jobID,
		Success:   res.Succeeded(),
		ErrorKind: string(res.ErrorKind),
		Message:   res.Message,
	})

	if !res.Succeeded() {
		j.log.Warn().Str("job_id", jobID).Str("error_kind", string(res.ErrorKind)).Msg(res.Message)
		return res.Err
	}
	j.log.Info().Str("job_id", jobID).Dur("duration", res.Duration).Msg("Scheduled market review completed")
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *MarketReviewJob) Name() string {
	return "scheduled_market_review"
}
