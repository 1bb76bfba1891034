package interaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/commands"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/rs/zerolog"
)

const (
	ackTimeout      = 3 * time.Second
	followUpTimeout = 30 * time.Second

	// History writes are queued so a slow store never delays the gateway loop.
	recordQueueSize    = 1024
	recordSaveTimeout  = 5 * time.Second
	recordFlushTimeout = 10 * time.Second
)

// Validator turns a raw command call into an invocation.
type Validator interface {
	Validate(name string, raw map[string]any) (*commands.Invocation, error)
}

// ReadinessChecker rejects commands until startup has finished.
type ReadinessChecker interface {
	CheckReady() error
}

// JobSubmitter starts a job and returns a channel that yields its single result.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.Request, interactionID string) (string, <-chan jobs.Result)
}

// Recorder persists interaction records. Save is an upsert keyed by Record.ID.
type Recorder interface {
	Save(ctx context.Context, rec Record) error
}

// Options configures a Controller.
type Options struct {
	// SoftDeadline only logs and emits JobSlow; the handle stays open.
	SoftDeadline time.Duration
	// Timeout sends a TimeoutError follow-up once exceeded. Zero disables it.
	Timeout time.Duration
}

// Controller owns every interaction from receipt to its final follow-up.
type Controller struct {
	validator Validator
	readiness ReadinessChecker
	jobs      JobSubmitter
	recorder  Recorder
	events    *events.Manager
	opts      Options
	log       zerolog.Logger

	// jobCtx outlives any single gateway event; it is cancelled only on forced shutdown.
	jobCtx    context.Context
	cancelJob context.CancelFunc

	mu       sync.Mutex
	pending  map[string]*Handle
	draining bool
	wg       sync.WaitGroup

	records       chan Record
	recordsClosed bool
	writerDone    chan struct{}
}

// NewController creates a controller. recorder may be nil. Records are written by a
// single background writer in the order they were queued; Drain flushes it.
func NewController(v Validator, r ReadinessChecker, j JobSubmitter, recorder Recorder, em *events.Manager, opts Options, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		validator: v,
		readiness: r,
		jobs:      j,
		recorder:  recorder,
		events:    em,
		opts:      opts,
		log:       log.With().Str("component", "interaction_controller").Logger(),
		jobCtx:    ctx,
		cancelJob: cancel,
		pending:   make(map[string]*Handle),
	}
	if recorder != nil {
		c.records = make(chan Record, recordQueueSize)
		c.writerDone = make(chan struct{})
		go c.writeRecords()
	}
	return c
}

// Dispatch runs the full protocol for one interaction. It returns once the
// acknowledgment is sent and the job (if any) has been handed off; it never
// waits for a job result.
func (c *Controller) Dispatch(ctx context.Context, in *Interaction, r Responder) {
	log := c.log.With().
		Str("interaction_id", in.ID).
		Str("command", in.Command).
		Str("caller", in.Caller).
		Logger()
	log.Info().Interface("params", in.Params).Msg("Interaction received")
	c.emit(events.InteractionReceived, in)

	h, err := c.Begin(ctx, in, r)
	if err != nil {
		log.Error().Err(err).Msg("Failed to acknowledge interaction")
		return
	}

	if err := c.readiness.CheckReady(); err != nil {
		_ = c.Fail(h, err)
		return
	}

	inv, err := c.validator.Validate(in.Command, in.Params)
	if err != nil {
		_ = c.Fail(h, err)
		return
	}

	if inv.Command.Static() {
		_ = c.Reply(h, inv.Command.Reply)
		return
	}

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		_ = c.Fail(h, &classify.NotReadyError{State: "shutting_down"})
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	jobID, results := c.jobs.Submit(c.jobCtx, inv.Request, in.ID)
	in.setJob(jobID)
	c.save(in.Record())
	log.Info().Str("job_id", jobID).Msg("Job handed off")

	go c.await(h, inv.Request, jobID, results)
}

// Begin acknowledges the interaction and returns the single-use handle for its follow-up.
func (c *Controller) Begin(ctx context.Context, in *Interaction, r Responder) (*Handle, error) {
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	if err := r.Acknowledge(ackCtx); err != nil {
		in.finish(Failed, classify.KindNone, "acknowledgment failed: "+err.Error())
		c.emit(events.InteractionFailed, in)
		c.save(in.Record())
		return nil, err
	}

	in.acknowledge()
	c.emit(events.InteractionAcknowledged, in)
	c.save(in.Record())

	h := &Handle{in: in, responder: r}
	c.mu.Lock()
	c.pending[in.ID] = h
	c.mu.Unlock()
	return h, nil
}

// Complete sends the follow-up for a job result.
func (c *Controller) Complete(h *Handle, res jobs.Result) error {
	if res.Succeeded() {
		return c.finish(h, Completed, classify.KindNone, successMessage(res.Request), res.Duration)
	}
	return c.finish(h, Failed, res.ErrorKind, res.Message, res.Duration)
}

// Reply sends a successful follow-up with fixed text.
func (c *Controller) Reply(h *Handle, text string) error {
	return c.finish(h, Completed, classify.KindNone, text, 0)
}

// Fail sends the classified error as the follow-up.
func (c *Controller) Fail(h *Handle, err error) error {
	kind, msg := classify.Classify(err)
	return c.finish(h, Failed, kind, msg, 0)
}

func (c *Controller) finish(h *Handle, phase Phase, kind classify.Kind, text string, took time.Duration) error {
	if !h.consume() {
		c.log.Error().Str("interaction_id", h.in.ID).Msg("Follow-up attempted on a consumed handle")
		return ErrHandleConsumed
	}

	c.mu.Lock()
	delete(c.pending, h.in.ID)
	c.mu.Unlock()

	h.in.finish(phase, kind, text)

	ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
	defer cancel()
	err := h.responder.FollowUp(ctx, text)

	evt := events.InteractionCompleted
	if phase == Failed {
		evt = events.InteractionFailed
	}
	c.emitDuration(evt, h.in, took)
	c.save(h.in.Record())

	logEvent := c.log.Info()
	if phase == Failed {
		logEvent = c.log.Warn().Str("error_kind", string(kind))
	}
	logEvent.Str("interaction_id", h.in.ID).Str("command", h.in.Command).Str("phase", string(phase)).Msg("Follow-up sent")

	if err != nil {
		c.log.Error().Err(err).Str("interaction_id", h.in.ID).Msg("Failed to send follow-up")
		c.events.EmitError("interaction", err, map[string]interface{}{"interaction_id": h.in.ID})
	}
	return err
}

// await waits for the job result off the control loop. After a timeout follow-up
// it keeps waiting so the late result is still logged and recorded.
func (c *Controller) await(h *Handle, req jobs.Request, jobID string, results <-chan jobs.Result) {
	defer c.wg.Done()

	var soft <-chan time.Time
	if c.opts.SoftDeadline > 0 {
		t := time.NewTimer(c.opts.SoftDeadline)
		defer t.Stop()
		soft = t.C
	}

	var hard <-chan time.Time
	if c.opts.Timeout > 0 {
		t := time.NewTimer(c.opts.Timeout)
		defer t.Stop()
		hard = t.C
	}

	for {
		select {
		case res := <-results:
			if h.Consumed() {
				c.recordLate(h, res)
				return
			}
			_ = c.Complete(h, res)
			return

		case <-soft:
			soft = nil
			c.log.Warn().
				Str("interaction_id", h.in.ID).
				Str("job_id", jobID).
				Dur("soft_deadline", c.opts.SoftDeadline).
				Msg("Job is running past its soft deadline")
			c.events.EmitTyped("interaction", &events.JobData{
				Type:          events.JobSlow,
				JobID:         jobID,
				Kind:          string(req.Kind),
				Symbol:        req.Symbol,
				InteractionID: h.in.ID,
			})

		case <-hard:
			hard = nil
			_ = c.Fail(h, &classify.TimeoutError{Op: req.Kind.Label(), After: c.opts.Timeout})
		}
	}
}

func (c *Controller) recordLate(h *Handle, res jobs.Result) {
	outcome := successMessage(res.Request)
	if !res.Succeeded() {
		outcome = res.Message
	}
	c.log.Info().
		Str("interaction_id", h.in.ID).
		Str("job_id", res.JobID).
		Bool("success", res.Succeeded()).
		Dur("duration", res.Duration).
		Msg("Late job result received after timeout follow-up")

	rec := h.in.Record()
	rec.LateResult = outcome
	c.save(rec)
}

// Pending returns interactions that are acknowledged but not yet answered, oldest first.
func (c *Controller) Pending() []Record {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.pending))
	for _, h := range c.pending {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	out := make([]Record, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.in.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Drain waits for outstanding follow-ups. When ctx expires first, every handle still
// open gets a TimeoutError follow-up and running jobs are asked to stop. Jobs are no
// longer accepted once Drain starts, and queued history records are flushed before it returns.
func (c *Controller) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
	defer c.flushRecords()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.pending))
	for _, h := range c.pending {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		_ = c.Fail(h, &classify.TimeoutError{Op: "任务", After: time.Since(h.in.CreatedAt).Round(time.Second)})
	}
	c.cancelJob()
	return ctx.Err()
}

// save queues rec for the writer and never blocks. A full queue drops the record.
func (c *Controller) save(rec Record) {
	if c.recorder == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recordsClosed {
		c.log.Debug().Str("interaction_id", rec.ID).Msg("History writer stopped, record not saved")
		return
	}
	select {
	case c.records <- rec:
	default:
		c.log.Warn().Str("interaction_id", rec.ID).Msg("History queue full, record dropped")
	}
}

func (c *Controller) writeRecords() {
	defer close(c.writerDone)
	for rec := range c.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordSaveTimeout)
		if err := c.recorder.Save(ctx, rec); err != nil {
			c.log.Warn().Err(err).Str("interaction_id", rec.ID).Msg("Failed to save interaction record")
		}
		cancel()
	}
}

func (c *Controller) flushRecords() {
	if c.recorder == nil {
		return
	}
	c.mu.Lock()
	if !c.recordsClosed {
		c.recordsClosed = true
		close(c.records)
	}
	c.mu.Unlock()

	select {
	case <-c.writerDone:
	case <-time.After(recordFlushTimeout):
		c.log.Warn().Int("queued", len(c.records)).Msg("Timed out flushing interaction history")
	}
}

func (c *Controller) emit(t events.EventType, in *Interaction) {
	c.emitDuration(t, in, 0)
}

func (c *Controller) emitDuration(t events.EventType, in *Interaction, took time.Duration) {
	rec := in.Record()
	c.events.EmitTyped("interaction", &events.InteractionData{
		Type:       t,
		ID:         rec.ID,
		Command:    rec.Command,
		Caller:     rec.Caller,
		Phase:      string(rec.Phase),
		ErrorKind:  string(rec.ErrorKind),
		Message:    rec.Message,
		DurationMs: took.Milliseconds(),
	})
}
