package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// InteractionData describes one phase change of a user interaction.
type InteractionData struct {
	Type       EventType `json:"-"`
	ID         string    `json:"interaction_id"`
	Command    string    `json:"command"`
	Caller     string    `json:"caller"`
	Phase      string    `json:"phase"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// EventType returns the event type for InteractionData
func (d *InteractionData) EventType() EventType {
	return d.Type
}

// JobData describes a job lifecycle transition.
type JobData struct {
	Type          EventType `json:"-"`
	JobID         string    `json:"job_id"`
	Kind          string    `json:"kind"`
	Symbol        string    `json:"symbol,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
}

// EventType returns the event type for JobData
func (d *JobData) EventType() EventType {
	return d.Type
}

// LifecycleChangedData contains data for LifecycleChanged events
type LifecycleChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EventType returns the event type for LifecycleChangedData
func (d *LifecycleChangedData) EventType() EventType {
	return LifecycleChanged
}

// PresenceChangedData contains data for PresenceChanged events
type PresenceChangedData struct {
	Status   string `json:"status"`
	Activity string `json:"activity"`
}

// EventType returns the event type for PresenceChangedData
func (d *PresenceChangedData) EventType() EventType {
	return PresenceChanged
}

// ScheduledReviewData contains data for ScheduledReviewRun events
type ScheduledReviewData struct {
	JobID     string `json:"job_id"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EventType returns the event type for ScheduledReviewData
func (d *ScheduledReviewData) EventType() EventType {
	return ScheduledReviewRun
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
