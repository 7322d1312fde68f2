package models

import "time"

// EventType identifies entries on the orchestrator's event stream. The
// core never writes to the terminal; UI collaborators consume these.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventURLStarted       EventType = "url_started"
	EventPageFetched      EventType = "page_fetched"
	EventURLCompleted     EventType = "url_completed"
	EventURLFailed        EventType = "url_failed"
	EventSessionCompleted EventType = "session_completed"
)

// Event is one typed entry on the session event stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url,omitempty"`
	Page      int       `json:"page,omitempty"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
