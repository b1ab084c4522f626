package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved:
		return true
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// TicketField names a mutable ticket attribute.
type TicketField string

const (
	FieldTitle       TicketField = "title"
	FieldDescription TicketField = "description"
	FieldStatus      TicketField = "status"
	FieldPriority    TicketField = "priority"
	FieldAssignedTo  TicketField = "assigned_to"
)

// Ticket is the unit of support work.
type Ticket struct {
	ID          string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	CreatedBy   string
	AssignedTo  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy.
func (t Ticket) Clone() Ticket {
	if t.AssignedTo != nil {
		assignee := *t.AssignedTo
		t.AssignedTo = &assignee
	}
	return t
}

// TicketSet is a point-in-time materialization of a live query.
type TicketSet struct {
	Version uint64
	Tickets []Ticket
	At      time.Time
}

// Contains reports whether a ticket with id is part of the set.
func (s TicketSet) Contains(id string) bool {
	for _, t := range s.Tickets {
		if t.ID == id {
			return true
		}
	}
	return false
}
