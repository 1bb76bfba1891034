// Package interaction drives the three-phase response protocol for slash commands:
// acknowledge immediately, run the job elsewhere, then send exactly one follow-up.
package interaction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/google/uuid"
)

// Phase is where an interaction is in its response lifecycle.
type Phase string

const (
	Received     Phase = "received"
	Acknowledged Phase = "acknowledged"
	Completed    Phase = "completed"
	Failed       Phase = "failed"
)

// ErrHandleConsumed is returned when a follow-up is attempted on a handle that already sent one.
var ErrHandleConsumed = errors.New("interaction handle already completed")

// Responder talks back to the platform for one interaction.
type Responder interface {
	// Acknowledge defers the response, reserving the right to follow up later.
	Acknowledge(ctx context.Context) error
	// FollowUp sends the final message.
	FollowUp(ctx context.Context, content string) error
}

// Interaction is one user-triggered command invocation.
type Interaction struct {
	ID         string
	PlatformID string
	Caller     string
	Command    string
	Params     map[string]any
	CreatedAt  time.Time

	mu             sync.Mutex
	phase          Phase
	jobID          string
	errorKind      classify.Kind
	message        string
	acknowledgedAt time.Time
	completedAt    time.Time
}

// New creates an interaction in the Received phase.
func New(platformID, caller, command string, params map[string]any) *Interaction {
	return &Interaction{
		ID:         uuid.New().String(),
		PlatformID: platformID,
		Caller:     caller,
		Command:    command,
		Params:     params,
		CreatedAt:  time.Now(),
		phase:      Received,
	}
}

// Phase returns the current phase.
func (in *Interaction) Phase() Phase {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.phase
}

// Record is a point-in-time copy of an interaction, as persisted in history.
type Record struct {
	ID             string         `json:"id"`
	PlatformID     string         `json:"platform_id,omitempty"`
	Caller         string         `json:"caller"`
	Command        string         `json:"command"`
	Params         map[string]any `json:"params,omitempty"`
	Phase          Phase          `json:"phase"`
	JobID          string         `json:"job_id,omitempty"`
	ErrorKind      classify.Kind  `json:"error_kind,omitempty"`
	Message        string         `json:"message,omitempty"`
	LateResult     string         `json:"late_result,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Record returns a snapshot of the interaction.
func (in *Interaction) Record() Record {
	in.mu.Lock()
	defer in.mu.Unlock()

	rec := Record{
		ID:         in.ID,
		PlatformID: in.PlatformID,
		Caller:     in.Caller,
		Command:    in.Command,
		Params:     in.Params,
		Phase:      in.phase,
		JobID:      in.jobID,
		ErrorKind:  in.errorKind,
		Message:    in.message,
		CreatedAt:  in.CreatedAt,
	}
	if !in.acknowledgedAt.IsZero() {
		t := in.acknowledgedAt
		rec.AcknowledgedAt = &t
	}
	if !in.completedAt.IsZero() {
		t := in.completedAt
		rec.CompletedAt = &t
	}
	return rec
}

func (in *Interaction) acknowledge() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.phase = Acknowledged
	in.acknowledgedAt = time.Now()
}

func (in *Interaction) setJob(jobID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.jobID = jobID
}

func (in *Interaction) finish(phase Phase, kind classify.Kind, message string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.phase = phase
	in.errorKind = kind
	in.message = message
	in.completedAt = time.Now()
}

// Handle is the right to send an acknowledged interaction's single follow-up.
type Handle struct {
	in        *Interaction
	responder Responder
	used      atomic.Bool
}

// Interaction returns the interaction this handle answers.
func (h *Handle) Interaction() *Interaction {
	return h.in
}

// Consumed reports whether the follow-up has been sent or attempted.
func (h *Handle) Consumed() bool {
	return h.used.Load()
}

func (h *Handle) consume() bool {
	return h.used.CompareAndSwap(false, true)
}
