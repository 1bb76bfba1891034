// Package events provides the in-process event bus for interaction and job lifecycle events.
package events

// EventType identifies a kind of event on the bus.
type EventType string

const (
	InteractionReceived     EventType = "InteractionReceived"
	InteractionAcknowledged EventType = "InteractionAcknowledged"
	InteractionCompleted    EventType = "InteractionCompleted"
	InteractionFailed       EventType = "InteractionFailed"

	JobStarted   EventType = "JobStarted"
	JobSlow      EventType = "JobSlow"
	JobCompleted EventType = "JobCompleted"
	JobFailed    EventType = "JobFailed"

	LifecycleChanged   EventType = "LifecycleChanged"
	PresenceChanged    EventType = "PresenceChanged"
	ScheduledReviewRun EventType = "ScheduledReviewRun"

	ErrorOccurred EventType = "ErrorOccurred"
)

// AllTypes lists every event type, in the order streams subscribe to them.
var AllTypes = []EventType{
	InteractionReceived,
	InteractionAcknowledged,
	InteractionCompleted,
	InteractionFailed,
	JobStarted,
	JobSlow,
	JobCompleted,
	JobFailed,
	LifecycleChanged,
	PresenceChanged,
	ScheduledReviewRun,
	ErrorOccurred,
}
