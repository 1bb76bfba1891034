package jobs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// SnapshotSource hands out a fresh configuration snapshot per job.
type SnapshotSource interface {
	Snapshot() (*config.Snapshot, error)
}

// Running describes an in-flight job.
type Running struct {
	JobID         string    `json:"job_id"`
	Kind          Kind      `json:"kind"`
	Symbol        string    `json:"symbol,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Executor runs jobs on their own goroutines. Jobs share nothing but the optional
// concurrency limit; each one reads only its own snapshot.
type Executor struct {
	registry *Registry
	source   SnapshotSource
	events   *events.Manager
	sem      *semaphore.Weighted // nil means unbounded
	symbol   *regexp.Regexp
	log      zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]*Running
	wg       sync.WaitGroup
}

// NewExecutor creates an executor. maxConcurrent <= 0 leaves concurrency unbounded.
func NewExecutor(registry *Registry, source SnapshotSource, em *events.Manager, maxConcurrent int, log zerolog.Logger) *Executor {
	e := &Executor{
		registry: registry,
		source:   source,
		events:   em,
		log:      log.With().Str("component", "job_executor").Logger(),
		inFlight: make(map[string]*Running),
	}
	if maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return e
}

// SetSymbolPattern makes the executor reject single-symbol requests whose symbol
// does not match pattern. Call it before the first Submit.
func (e *Executor) SetSymbolPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid symbol pattern %q: %w", pattern, err)
	}
	e.symbol = re
	return nil
}

// Submit starts req on a new goroutine with a fresh snapshot and returns the job ID
// and a channel that receives exactly one Result. The channel is buffered, so the
// job never blocks if the caller has stopped listening.
func (e *Executor) Submit(ctx context.Context, req Request, interactionID string) (string, <-chan Result) {
	jobID := uuid.New().String()
	results := make(chan Result, 1)

	e.track(&Running{
		JobID:         jobID,
		Kind:          req.Kind,
		Symbol:        req.Symbol,
		InteractionID: interactionID,
		StartedAt:     time.Now(),
	})
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.untrack(jobID)
		results <- e.run(ctx, jobID, req, interactionID)
		close(results)
	}()

	return jobID, results
}

func (e *Executor) run(ctx context.Context, jobID string, req Request, interactionID string) Result {
	started := time.Now()

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return failure(jobID, req, &classify.CollaboratorError{Op: req.Kind.opLabel(), Err: err}, started)
		}
		defer e.sem.Release(1)
	}

	snap, err := e.source.Snapshot()
	if err != nil {
		return failure(jobID, req, &classify.CollaboratorError{Op: req.Kind.opLabel(), Err: err}, started)
	}

	return e.Execute(ctx, jobID, req, snap, interactionID)
}

// Execute runs req synchronously against snap. It never panics; collaborator
// panics and errors come back as a classified failure Result.
func (e *Executor) Execute(ctx context.Context, jobID string, req Request, snap *config.Snapshot, interactionID string) (res Result) {
	started := time.Now()
	reporter := newProgressReporter(e.events, jobID, req, interactionID)
	reporter.emitStarted()

	log := e.log.With().Str("job_id", jobID).Str("kind", string(req.Kind)).Logger()
	if req.Symbol != "" {
		log = log.With().Str("symbol", req.Symbol).Logger()
	}
	log.Info().Msg("Job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Job panicked")
			res = failure(jobID, req, &classify.CollaboratorError{Op: req.Kind.opLabel(), Err: fmt.Errorf("panic: %v", r)}, started)
		}
		if res.Succeeded() {
			log.Info().Dur("duration", res.Duration).Msg("Job completed")
			reporter.emitCompleted(res.Duration)
		} else {
			log.Error().Err(res.Err).Str("error_kind", string(res.ErrorKind)).Dur("duration", res.Duration).Msg("Job failed")
			reporter.emitFailed(res.Err, res.Duration)
		}
	}()

	if err := req.Validate(e.symbol); err != nil {
		return failure(jobID, req, err, started)
	}

	jt := e.registry.Get(req.Kind)
	if jt == nil {
		return failure(jobID, req, fmt.Errorf("no job type registered for %q", req.Kind), started)
	}

	report, err := jt.Run(ctx, req, snap)
	if err != nil {
		return failure(jobID, req, err, started)
	}
	return success(jobID, req, report, started)
}

// InFlight returns the running jobs, oldest first.
func (e *Executor) InFlight() []Running {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Running, 0, len(e.inFlight))
	for _, r := range e.inFlight {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until every submitted job has finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) track(r *Running) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight[r.JobID] = r
}

func (e *Executor) untrack(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, jobID)
}
