package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is a per-job copy of the analysis settings.
// A snapshot belongs to exactly one job; mutating it never reaches the template
// or any other job's snapshot.
type Snapshot struct {
	ID       string
	TakenAt  time.Time
	Analysis Analysis
}

// Clone returns a deep copy of the analysis settings.
// The copy goes through a msgpack round trip so nested slices and maps never alias.
func (a *Analysis) Clone() (Analysis, error) {
	raw, err := msgpack.Marshal(a)
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to encode analysis settings: %w", err)
	}

	var out Analysis
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return Analysis{}, fmt.Errorf("failed to decode analysis settings: %w", err)
	}
	if out.Extra == nil {
		out.Extra = make(map[string]string)
	}
	return out, nil
}

// Snapshot copies the process-wide analysis template for a single job.
func (c *Config) Snapshot() (*Snapshot, error) {
	analysis, err := c.Analysis.Clone()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:       uuid.New().String(),
		TakenAt:  time.Now(),
		Analysis: analysis,
	}, nil
}
