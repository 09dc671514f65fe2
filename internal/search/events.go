// Package search produces candidates from the curated table and a web-search
// backed LLM flow, streaming typed progress events.
package search

import "partnerscope/internal/models"

// EventType discriminates the stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry on a search stream. Progress events carry phase
// bookkeeping; the terminal complete event carries the merged candidates;
// the terminal error event carries the diagnostic.
type Event struct {
	Type    EventType `json:"type"`
	Phase   string    `json:"phase,omitempty"`
	Index   int       `json:"index,omitempty"`
	Total   int       `json:"total,omitempty"`
	Count   int       `json:"count,omitempty"`
	Message string    `json:"message,omitempty"`
	Cost    float64   `json:"cost"`

	Candidates []models.Candidate `json:"candidates,omitempty"`
	Error      string             `json:"error,omitempty"`
	Retriable  bool               `json:"retriable,omitempty"`
}
