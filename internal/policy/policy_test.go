package policy

import (
	"testing"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

var (
	alice   = domain.Actor{ID: "u-alice", Email: "alice@x.com", Role: domain.RoleCustomer}
	bob     = domain.Actor{ID: "u-bob", Email: "bob@x.com", Role: domain.RoleCustomer}
	agent   = domain.Actor{ID: "agent123", Email: "agent@x.com", Role: domain.RoleSupportAgent}
	admin   = domain.Actor{ID: "admin1", Email: "admin@x.com", Role: domain.RoleAdmin}
	unknown = domain.Actor{ID: "u-eve", Email: "eve@x.com", Role: domain.RoleUnknown}
)

func ticketBy(email string, status domain.TicketStatus) domain.Ticket {
	return domain.Ticket{ID: "t1", CreatedBy: email, Status: status, Priority: domain.TicketPriorityLow}
}

func TestCanEdit(t *testing.T) {
	open := ticketBy("alice@x.com", domain.TicketStatusOpen)
	inProgress := ticketBy("alice@x.com", domain.TicketStatusInProgress)
	unknownOwn := ticketBy("eve@x.com", domain.TicketStatusOpen)

	tests := []struct {
		name   string
		actor  domain.Actor
		ticket domain.Ticket
		field  domain.TicketField
		want   bool
	}{
		{"creator edits title while open", alice, open, domain.FieldTitle, true},
		{"creator edits description while open", alice, open, domain.FieldDescription, true},
		{"creator cannot edit after triage", alice, inProgress, domain.FieldTitle, false},
		{"other customer cannot edit title", bob, open, domain.FieldTitle, false},
		{"agent cannot edit title", agent, open, domain.FieldTitle, false},
		{"customer cannot change status", alice, open, domain.FieldStatus, false},
		{"customer cannot change priority", alice, open, domain.FieldPriority, false},
		{"customer cannot assign", alice, open, domain.FieldAssignedTo, false},
		{"agent changes status", agent, open, domain.FieldStatus, true},
		{"agent changes priority", agent, inProgress, domain.FieldPriority, true},
		{"admin assigns", admin, open, domain.FieldAssignedTo, true},
		{"unknown role cannot edit own title", unknown, unknownOwn, domain.FieldTitle, false},
		{"unknown role cannot change status", unknown, unknownOwn, domain.FieldStatus, false},
		{"unknown field", admin, open, domain.TicketField("created_by"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanEdit(tc.actor, tc.ticket, tc.field); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCanViewAndDelete(t *testing.T) {
	owned := ticketBy("alice@x.com", domain.TicketStatusResolved)
	blankEmail := domain.Actor{ID: "u-x", Role: domain.RoleCustomer}
	unknownOwn := ticketBy("eve@x.com", domain.TicketStatusOpen)

	tests := []struct {
		name       string
		actor      domain.Actor
		ticket     domain.Ticket
		wantView   bool
		wantDelete bool
	}{
		{"creator", alice, owned, true, true},
		{"other customer", bob, owned, false, false},
		{"agent", agent, owned, true, true},
		{"admin", admin, owned, true, true},
		{"unknown role reads own", unknown, unknownOwn, true, false},
		{"unknown role other", unknown, owned, false, false},
		{"blank email never matches", blankEmail, ticketBy("", domain.TicketStatusOpen), false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(tc.actor, tc.ticket); got != tc.wantView {
				t.Fatalf("CanView: expected %v, got %v", tc.wantView, got)
			}
			if got := CanDelete(tc.actor, tc.ticket); got != tc.wantDelete {
				t.Fatalf("CanDelete: expected %v, got %v", tc.wantDelete, got)
			}
		})
	}
}

func TestCanCreateAndManageProfiles(t *testing.T) {
	if !CanCreate(alice) {
		t.Fatalf("customer should create")
	}
	if CanCreate(agent) || CanCreate(unknown) {
		t.Fatalf("only customers create tickets")
	}
	if CanCreate(domain.Actor{Role: domain.RoleCustomer}) {
		t.Fatalf("customer without email cannot create")
	}
	if !CanManageProfiles(admin) || CanManageProfiles(agent) {
		t.Fatalf("only admins manage profiles")
	}
}

func TestScope(t *testing.T) {
	tests := []struct {
		name   string
		actor  domain.Actor
		want   string
		wantOK bool
	}{
		{"customer scoped to own email", alice, "alice@x.com", true},
		{"agent sees all", agent, "", true},
		{"admin sees all", admin, "", true},
		{"unknown with email scoped", unknown, "eve@x.com", true},
		{"unknown without email denied", domain.Actor{Role: domain.RoleUnknown}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Scope(tc.actor)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("expected (%q,%v), got (%q,%v)", tc.want, tc.wantOK, got, ok)
			}
		})
	}
}
