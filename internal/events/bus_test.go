package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(JobStarted, func(e *Event) { got = append(got, e) })

	bus.Emit(JobStarted, "jobs", map[string]interface{}{"job_id": "j1"})
	bus.Emit(JobCompleted, "jobs", map[string]interface{}{"job_id": "j1"})

	require.Len(t, got, 1)
	assert.Equal(t, JobStarted, got[0].Type)
	assert.Equal(t, "jobs", got[0].Module)
	assert.Equal(t, "j1", got[0].Data["job_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	calls := 0
	id := bus.Subscribe(LifecycleChanged, func(*Event) { calls++ })
	bus.Subscribe(LifecycleChanged, func(*Event) {})
	assert.Equal(t, 2, bus.SubscriberCount(LifecycleChanged))

	bus.Unsubscribe(id)
	bus.Emit(LifecycleChanged, "lifecycle", nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, bus.SubscriberCount(LifecycleChanged))
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(JobFailed, func(*Event) { panic("handler bug") })
	bus.Subscribe(JobFailed, func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(JobFailed, "jobs", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(InteractionReceived, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(InteractionReceived, "interaction", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}

func TestManager_EmitTyped(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(JobCompleted, func(e *Event) { got = e })

	m.EmitTyped("jobs", &JobData{Type: JobCompleted, JobID: "j2", Kind: "single_symbol_analysis", Symbol: "600519", DurationMs: 42})

	require.NotNil(t, got)
	assert.Equal(t, "j2", got.Data["job_id"])
	assert.Equal(t, "600519", got.Data["symbol"])
	assert.Equal(t, float64(42), got.Data["duration_ms"])
	_, hasError := got.Data["error"]
	assert.False(t, hasError)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	m.EmitError("discord", errors.New("gateway closed"), map[string]interface{}{"attempt": 1})
	m.EmitError("discord", nil, nil)

	require.NotNil(t, got)
	assert.Equal(t, "gateway closed", got.Data["error"])
}

func TestManager_NilSafe(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(JobStarted, "jobs", nil)
		m.EmitTyped("jobs", &LifecycleChangedData{From: "a", To: "b"})
	})
}
