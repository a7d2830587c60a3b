// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"time"
)

// Event represents one item of a subject's raw history: an order, a
// session, a support contact. Feature extraction consumes ordered
// slices of these.
type Event struct {
	// Core identifiers
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`

	// Event type (e.g., "order", "session", "refund")
	Type string `json:"type"`

	// Monetary value of the event, zero for non-commercial events
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Behavioral context
	Category string `json:"category,omitempty"`
	Channel  string `json:"channel,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EventRequest is the API request payload for event ingestion.
type EventRequest struct {
	Type      string                 `json:"type"`
	Amount    float64                `json:"amount"`
	Currency  string                 `json:"currency,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToEvent converts a request to an Event domain object.
func (r *EventRequest) ToEvent(tenantID, subjectID string) *Event {
	now := time.Now().UTC()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &Event{
		TenantID:  tenantID,
		SubjectID: subjectID,
		Type:      r.Type,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Category:  r.Category,
		Channel:   r.Channel,
		Timestamp: ts,
		CreatedAt: now,
		Metadata:  r.Metadata,
	}
}

// SubjectValue summarizes one subject's position in the population by a
// monotonic value metric. The sampler stratifies over these.
type SubjectValue struct {
	SubjectID       string  `json:"subjectId"`
	CumulativeValue float64 `json:"cumulativeValue"`
	EventCount      int64   `json:"eventCount"`
	FirstSeen       time.Time `json:"firstSeen"`
}
