package models

import "time"

// JobEvent represents a status transition of a training job
type JobEvent struct {
	ID         int64                  `json:"id"`
	TrainingID string                 `json:"training_id"`
	At         time.Time              `json:"at"`
	FromStatus *TrainingStatus        `json:"from_status,omitempty"`
	ToStatus   TrainingStatus         `json:"to_status"`
	Reason     string                 `json:"reason"`
	MetaJSON   map[string]interface{} `json:"meta,omitempty"`
}

// GenerationEventType distinguishes the events of a streamed enhancement
type GenerationEventType string

const (
	GenerationEventStatus   GenerationEventType = "status"
	GenerationEventContent  GenerationEventType = "content"
	GenerationEventComplete GenerationEventType = "complete"
	GenerationEventError    GenerationEventType = "error"
)

// GenerationEvent is one element of a streamed enhancement.
// A stream always ends with exactly one complete or error event.
type GenerationEvent struct {
	Type     GenerationEventType `json:"type"`
	Content  string              `json:"content,omitempty"`
	Message  string              `json:"message,omitempty"`
	Progress float64             `json:"progress"`
}

// IsTerminal reports whether e ends the stream
func (e GenerationEvent) IsTerminal() bool {
	return e.Type == GenerationEventComplete || e.Type == GenerationEventError
}
