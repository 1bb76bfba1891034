// Package lifecycle tracks the bot's startup and shutdown states and the presence
// it shows on the platform.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/events"
	"github.com/rs/zerolog"
)

// State is the bot-level lifecycle state.
type State string

const (
	Connecting      State = "connecting"
	SyncingCommands State = "syncing_commands"
	Ready           State = "ready"
	ShuttingDown    State = "shutting_down"
)

// Presence is the status descriptor shown on the platform.
type Presence struct {
	Status   string `json:"status"`
	Activity string `json:"activity"`
}

// PresencePublisher pushes a presence descriptor to the platform.
type PresencePublisher interface {
	PublishPresence(ctx context.Context, p Presence) error
}

var transitions = map[State][]State{
	Connecting:      {SyncingCommands, ShuttingDown},
	SyncingCommands: {Ready, ShuttingDown},
	Ready:           {ShuttingDown, SyncingCommands}, // gateway reconnects re-sync commands
	ShuttingDown:    {},
}

// Machine is the single writer of the lifecycle state and presence descriptor.
type Machine struct {
	mu        sync.RWMutex
	state     State
	presence  Presence
	activity  string
	publisher PresencePublisher
	events    *events.Manager
	log       zerolog.Logger
}

// NewMachine creates a machine in the Connecting state.
// activity is the label published on entering Ready.
func NewMachine(activity string, em *events.Manager, log zerolog.Logger) *Machine {
	return &Machine{
		state:    Connecting,
		activity: activity,
		events:   em,
		log:      log.With().Str("component", "lifecycle").Logger(),
	}
}

// SetPublisher attaches the platform presence publisher.
func (m *Machine) SetPublisher(p PresencePublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Presence returns the current presence descriptor. It is zero until Ready.
func (m *Machine) Presence() Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presence
}

// CheckReady returns a NotReadyError unless the bot is Ready.
func (m *Machine) CheckReady() error {
	if s := m.State(); s != Ready {
		return &classify.NotReadyError{State: string(s)}
	}
	return nil
}

// SessionEstablished moves Connecting to SyncingCommands. A session re-established
// while Ready also goes back to SyncingCommands.
func (m *Machine) SessionEstablished() error {
	return m.transition(SyncingCommands)
}

// CommandsSynced moves SyncingCommands to Ready and publishes the online presence.
func (m *Machine) CommandsSynced(ctx context.Context) error {
	if err := m.transition(Ready); err != nil {
		return err
	}

	p := Presence{Status: "online", Activity: m.activity}
	m.mu.Lock()
	m.presence = p
	publisher := m.publisher
	m.mu.Unlock()

	m.events.EmitTyped("lifecycle", &events.PresenceChangedData{Status: p.Status, Activity: p.Activity})

	if publisher != nil {
		if err := publisher.PublishPresence(ctx, p); err != nil {
			// Presence is cosmetic; commands are accepted regardless.
			m.log.Warn().Err(err).Msg("Failed to publish presence")
		}
	}
	return nil
}

// Shutdown moves any state to ShuttingDown. Calling it twice is a no-op.
func (m *Machine) Shutdown() {
	if m.State() == ShuttingDown {
		return
	}
	_ = m.transition(ShuttingDown)
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	allowed := false
	for _, s := range transitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("invalid lifecycle transition %s -> %s", from, to)
	}
	m.state = to
	if to != Ready {
		m.presence = Presence{}
	}
	m.mu.Unlock()

	m.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("Lifecycle state changed")
	m.events.EmitTyped("lifecycle", &events.LifecycleChangedData{From: string(from), To: string(to)})
	return nil
}
