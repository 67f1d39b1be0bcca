// Package events provides domain event definitions for session lifecycle
// observers. Events decouple the session service from metrics and resource
// views.
package events

import "time"

// DomainEvent represents a domain event that occurred within the system.
type DomainEvent interface {
	// EventType returns the type name of this event
	EventType() string
}

// Session lifecycle event type names.
const (
	TypeSessionCreated  = "session.created"
	TypeSessionUpdated  = "session.updated"
	TypeSessionDeleted  = "session.deleted"
	TypeWorkflowUpdated = "session.workflow_updated"
	TypeSessionCleanup  = "session.cleanup"
)

// SessionEvent carries the id of the session a lifecycle change applies to.
type SessionEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType implements DomainEvent.
func (e SessionEvent) EventType() string { return e.Type }

// CleanupEvent reports the result of an expiry sweep.
type CleanupEvent struct {
	Deleted   int       `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType implements DomainEvent.
func (e CleanupEvent) EventType() string { return TypeSessionCleanup }
