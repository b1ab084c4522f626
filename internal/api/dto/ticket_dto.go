package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
}

// UpdateTicketRequest payload for PATCH /tickets/:id. AssignedTo distinguishes
// an absent key from an explicit null, which clears the assignee.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *domain.TicketStatus   `json:"status"`
	Priority    *domain.TicketPriority `json:"priority"`
	AssignedTo  OptionalString         `json:"assigned_to"`
}

// OptionalString records whether a JSON key was present and whether it was null.
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON is only called when the key is present.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// TicketResponse is the wire form of a ticket.
type TicketResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedBy   string                `json:"created_by"`
	AssignedTo  *string               `json:"assigned_to"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// SnapshotResponse is one live-query result pushed to subscribers.
type SnapshotResponse struct {
	Type    string           `json:"type"`
	Version uint64           `json:"version"`
	At      time.Time        `json:"at"`
	Tickets []TicketResponse `json:"tickets"`
}

// TicketFrom maps a domain ticket.
func TicketFrom(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		CreatedBy:   ticket.CreatedBy,
		AssignedTo:  ticket.AssignedTo,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// TicketsFrom maps a slice of tickets, never returning nil.
func TicketsFrom(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, TicketFrom(&tickets[i]))
	}
	return items
}

// SnapshotFrom maps a live-query snapshot.
func SnapshotFrom(set domain.TicketSet) SnapshotResponse {
	return SnapshotResponse{
		Type:    "snapshot",
		Version: set.Version,
		At:      set.At,
		Tickets: TicketsFrom(set.Tickets),
	}
}
