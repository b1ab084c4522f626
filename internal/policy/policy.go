// Package policy decides which actors may see and mutate which tickets.
// Every function is pure: no I/O, no clocks, no shared state.
package policy

import (
	"strings"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// CanView reports whether actor may read ticket.
func CanView(actor domain.Actor, ticket domain.Ticket) bool {
	if actor.Role.IsStaff() {
		return true
	}
	return isCreator(actor, ticket)
}

// CanEdit reports whether actor may change field on ticket.
func CanEdit(actor domain.Actor, ticket domain.Ticket, field domain.TicketField) bool {
	switch field {
	case domain.FieldTitle, domain.FieldDescription:
		return actor.Role == domain.RoleCustomer &&
			isCreator(actor, ticket) &&
			ticket.Status == domain.TicketStatusOpen
	case domain.FieldStatus, domain.FieldPriority, domain.FieldAssignedTo:
		return actor.Role.IsStaff()
	default:
		return false
	}
}

// CanDelete reports whether actor may permanently remove ticket.
func CanDelete(actor domain.Actor, ticket domain.Ticket) bool {
	if actor.Role == domain.RoleUnknown {
		return false
	}
	if actor.Role.IsStaff() {
		return true
	}
	return isCreator(actor, ticket)
}

// CanCreate reports whether actor may file new tickets.
func CanCreate(actor domain.Actor) bool {
	return actor.Role == domain.RoleCustomer && strings.TrimSpace(actor.Email) != ""
}

// CanManageProfiles reports whether actor may change other users' roles.
func CanManageProfiles(actor domain.Actor) bool {
	return actor.Role == domain.RoleAdmin
}

// Scope returns the creator email a ticket query must be restricted to.
// ok is false when actor may not list tickets at all; an empty email with
// ok true means the full set.
func Scope(actor domain.Actor) (createdBy string, ok bool) {
	if actor.Role.IsStaff() {
		return "", true
	}
	email := strings.TrimSpace(actor.Email)
	if email == "" {
		return "", false
	}
	return email, true
}

func isCreator(actor domain.Actor, ticket domain.Ticket) bool {
	email := strings.TrimSpace(actor.Email)
	return email != "" && email == ticket.CreatedBy
}
