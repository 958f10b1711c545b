package service

import "github.com/digkill/WeddingAI/internal/models"

type EventType string

const (
	EventStatus EventType = "status"
	EventImage  EventType = "image"
	EventTask   EventType = "task"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// Event is one progress notification of a streamed generation or job.
type Event struct {
	Type       EventType             `json:"type"`
	Message    string                `json:"message,omitempty"`
	Index      int                   `json:"index"`
	URL        string                `json:"url,omitempty"`
	Generation *models.Generation    `json:"generation,omitempty"`
	Job        *models.GenerationJob `json:"job,omitempty"`
	Balance    *int                  `json:"balance,omitempty"`
}

// Emitter receives events. Implementations must be safe for concurrent use
// when passed to batch jobs.
type Emitter func(Event)

func (e Emitter) emit(ev Event) {
	if e != nil {
		e(ev)
	}
}
