package events

import (
	"time"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket_created"
	EventTicketUpdated EventType = "ticket_updated"
	EventTicketDeleted EventType = "ticket_deleted"
)

// TicketEventTypes lists every ticket change event.
var TicketEventTypes = []EventType{EventTicketCreated, EventTicketUpdated, EventTicketDeleted}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// Event announces a committed ticket change. CreatedBy lets live queries
// scoped to one creator skip unrelated changes.
type Event struct {
	ID        string               `json:"id"`
	Type      EventType            `json:"type"`
	TicketID  string               `json:"ticket_id"`
	CreatedBy string               `json:"created_by"`
	Fields    []domain.TicketField `json:"fields,omitempty"`
	Actor     Actor                `json:"actor"`
	Timestamp time.Time            `json:"timestamp"`
}
