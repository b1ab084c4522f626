package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// MemoryStore keeps tickets, profiles and credentials in process. It backs
// the service when no database is configured and doubles as the test store.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	tickets     map[string]domain.Ticket
	profiles    map[string]domain.Profile
	credentials map[string]domain.Credential
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		tickets:     map[string]domain.Ticket{},
		profiles:    map[string]domain.Profile{},
		credentials: map[string]domain.Credential{},
	}
}

// Tickets exposes the ticket repository view.
func (m *MemoryStore) Tickets() TicketRepository { return memoryTickets{m} }

// Profiles exposes the profile repository view.
func (m *MemoryStore) Profiles() ProfileRepository { return memoryProfiles{m} }

// Credentials exposes the credential repository view.
func (m *MemoryStore) Credentials() CredentialRepository { return memoryCredentials{m} }

type memoryTickets struct{ m *MemoryStore }

func (r memoryTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	ticket.ID = uuid.NewString()
	ticket.UpdatedAt = ticket.CreatedAt
	r.m.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r memoryTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	tk, ok := r.m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := tk.Clone()
	return &clone, nil
}

func (r memoryTickets) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	result := []domain.Ticket{}
	for _, tk := range r.m.tickets {
		if matchesFilter(filter, tk) {
			result = append(result, tk.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		if offset >= len(result) {
			return []domain.Ticket{}, nil
		}
		end := offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[offset:end]
	}
	return result, nil
}

func (r memoryTickets) UpdateContent(_ context.Context, id, createdBy string, title, description *string) error {
	return r.mutate(id, func(tk *domain.Ticket) error {
		if tk.CreatedBy != createdBy || tk.Status != domain.TicketStatusOpen {
			return ErrConditionFailed
		}
		if title != nil {
			tk.Title = *title
		}
		if description != nil {
			tk.Description = *description
		}
		return nil
	})
}

func (r memoryTickets) UpdateStatus(_ context.Context, id string, status domain.TicketStatus) error {
	return r.mutate(id, func(tk *domain.Ticket) error {
		tk.Status = status
		return nil
	})
}

func (r memoryTickets) UpdatePriority(_ context.Context, id string, priority domain.TicketPriority) error {
	return r.mutate(id, func(tk *domain.Ticket) error {
		tk.Priority = priority
		return nil
	})
}

func (r memoryTickets) UpdateAssignee(_ context.Context, id string, assignee *string) error {
	return r.mutate(id, func(tk *domain.Ticket) error {
		if assignee == nil {
			tk.AssignedTo = nil
			return nil
		}
		value := *assignee
		tk.AssignedTo = &value
		return nil
	})
}

func (r memoryTickets) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.m.tickets, id)
	return nil
}

func (r memoryTickets) mutate(id string, apply func(*domain.Ticket) error) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	tk, ok := r.m.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if err := apply(&tk); err != nil {
		return err
	}
	tk.UpdatedAt = r.m.now()
	r.m.tickets[id] = tk
	return nil
}

func matchesFilter(filter TicketFilter, tk domain.Ticket) bool {
	if filter.CreatedBy != nil && tk.CreatedBy != *filter.CreatedBy {
		return false
	}
	if filter.AssignedTo != nil && (tk.AssignedTo == nil || *tk.AssignedTo != *filter.AssignedTo) {
		return false
	}
	if len(filter.Statuses) > 0 && !containsValue(filter.Statuses, tk.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsValue(filter.Priorities, tk.Priority) {
		return false
	}
	if filter.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(tk.Title), term) &&
			!strings.Contains(strings.ToLower(tk.Description), term) {
			return false
		}
	}
	return true
}

func containsValue[T comparable](values []T, value T) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

type memoryProfiles struct{ m *MemoryStore }

func (r memoryProfiles) GetByUserID(_ context.Context, userID string) (*domain.Profile, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	p, ok := r.m.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (r memoryProfiles) Upsert(_ context.Context, profile *domain.Profile) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	profile.UpdatedAt = r.m.now()
	r.m.profiles[profile.UserID] = *profile
	return nil
}

type memoryCredentials struct{ m *MemoryStore }

func (r memoryCredentials) Create(_ context.Context, cred *domain.Credential) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, existing := range r.m.credentials {
		if strings.EqualFold(existing.Email, cred.Email) {
			return ErrDuplicate
		}
	}
	cred.ID = uuid.NewString()
	cred.CreatedAt = r.m.now()
	r.m.credentials[cred.ID] = *cred
	return nil
}

func (r memoryCredentials) GetByID(_ context.Context, id string) (*domain.Credential, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	c, ok := r.m.credentials[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (r memoryCredentials) GetByEmail(_ context.Context, email string) (*domain.Credential, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, c := range r.m.credentials {
		if strings.EqualFold(c.Email, email) {
			found := c
			return &found, nil
		}
	}
	return nil, pgx.ErrNoRows
}
