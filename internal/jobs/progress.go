package jobs

import (
	"time"

	"github.com/aristath/stockbot/internal/events"
)

// progressReporter emits lifecycle events for one job.
type progressReporter struct {
	events        *events.Manager
	jobID         string
	kind          Kind
	symbol        string
	interactionID string
}

func newProgressReporter(em *events.Manager, jobID string, req Request, interactionID string) *progressReporter {
	return &progressReporter{
		events:        em,
		jobID:         jobID,
		kind:          req.Kind,
		symbol:        req.Symbol,
		interactionID: interactionID,
	}
}

func (r *progressReporter) data(t events.EventType) *events.JobData {
	return &events.JobData{
		Type:          t,
		JobID:         r.jobID,
		Kind:          string(r.kind),
		Symbol:        r.symbol,
		InteractionID: r.interactionID,
	}
}

func (r *progressReporter) emitStarted() {
	r.events.EmitTyped("jobs", r.data(events.JobStarted))
}

func (r *progressReporter) emitCompleted(duration time.Duration) {
	d := r.data(events.JobCompleted)
	d.DurationMs = duration.Milliseconds()
	r.events.EmitTyped("jobs", d)
}

func (r *progressReporter) emitFailed(err error, duration time.Duration) {
	d := r.data(events.JobFailed)
	d.DurationMs = duration.Milliseconds()
	if err != nil {
		d.Error = err.Error()
	}
	r.events.EmitTyped("jobs", d)
}
