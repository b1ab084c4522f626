package livequery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/events"
	"github.com/helpdesk-labs/ticket-sync/internal/observability"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

var (
	alice = domain.Actor{ID: "u-alice", Email: "alice@x.com", Role: domain.RoleCustomer}
	bob   = domain.Actor{ID: "u-bob", Email: "bob@x.com", Role: domain.RoleCustomer}
	agent = domain.Actor{ID: "agent123", Email: "agent@x.com", Role: domain.RoleSupportAgent}
	admin = domain.Actor{ID: "admin1", Email: "admin@x.com", Role: domain.RoleAdmin}
)

var fastRetry = Options{RetryInitial: time.Millisecond, RetryMax: 5 * time.Millisecond, MaxAttempts: 3}

func createTicket(t *testing.T, repo repository.TicketRepository, hub *Hub, createdBy string) domain.Ticket {
	t.Helper()
	tk := &domain.Ticket{
		Title:       "printer on fire",
		Description: "smoke everywhere",
		Status:      domain.TicketStatusOpen,
		Priority:    domain.TicketPriorityHigh,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}
	if err := repo.Create(context.Background(), tk); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_ = hub.HandleEvent(context.Background(), events.Event{Type: events.EventTicketCreated, TicketID: tk.ID, CreatedBy: createdBy})
	return *tk
}

func waitFor(t *testing.T, sub *Subscription, match func(domain.TicketSet) bool) domain.TicketSet {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case set, ok := <-sub.Snapshots():
			if !ok {
				t.Fatalf("subscription ended: %v", sub.Err())
			}
			if match(set) {
				return set
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
		}
	}
}

func TestCustomerSeesOnlyOwnTickets(t *testing.T) {
	repo := repository.NewMemoryStore().Tickets()
	hub := NewHub(repo, fastRetry, nil, nil)

	sub, err := hub.Subscribe(context.Background(), alice)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	waitFor(t, sub, func(set domain.TicketSet) bool { return len(set.Tickets) == 0 })

	own := createTicket(t, repo, hub, alice.Email)
	createTicket(t, repo, hub, bob.Email)
	second := createTicket(t, repo, hub, alice.Email)

	set := waitFor(t, sub, func(set domain.TicketSet) bool { return len(set.Tickets) == 2 })
	for _, tk := range set.Tickets {
		if tk.CreatedBy != alice.Email {
			t.Fatalf("customer snapshot leaked ticket by %s", tk.CreatedBy)
		}
	}
	if !set.Contains(own.ID) || !set.Contains(second.ID) {
		t.Fatalf("expected both own tickets in snapshot")
	}
}

func TestStaffSeesEveryTicket(t *testing.T) {
	repo := repository.NewMemoryStore().Tickets()
	hub := NewHub(repo, fastRetry, nil, nil)
	createTicket(t, repo, hub, alice.Email)
	createTicket(t, repo, hub, bob.Email)

	for _, actor := range []domain.Actor{agent, admin} {
		sub, err := hub.Subscribe(context.Background(), actor)
		if err != nil {
			t.Fatalf("Subscribe returned error: %v", err)
		}
		waitFor(t, sub, func(set domain.TicketSet) bool { return len(set.Tickets) == 2 })
		sub.Close()
	}
}

func TestDeletedTicketDisappearsFromSnapshots(t *testing.T) {
	repo := repository.NewMemoryStore().Tickets()
	hub := NewHub(repo, fastRetry, nil, nil)
	tk := createTicket(t, repo, hub, alice.Email)

	customer, _ := hub.Subscribe(context.Background(), alice)
	defer customer.Close()
	staff, _ := hub.Subscribe(context.Background(), agent)
	defer staff.Close()

	waitFor(t, customer, func(set domain.TicketSet) bool { return set.Contains(tk.ID) })
	waitFor(t, staff, func(set domain.TicketSet) bool { return set.Contains(tk.ID) })

	if err := repo.Delete(context.Background(), tk.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	_ = hub.HandleEvent(context.Background(), events.Event{Type: events.EventTicketDeleted, TicketID: tk.ID, CreatedBy: alice.Email})

	waitFor(t, customer, func(set domain.TicketSet) bool { return !set.Contains(tk.ID) })
	waitFor(t, staff, func(set domain.TicketSet) bool { return !set.Contains(tk.ID) })
}

func TestUnrelatedChangeDoesNotWakeCustomer(t *testing.T) {
	counting := &countingQuerier{inner: repository.NewMemoryStore().Tickets()}
	hub := NewHub(counting, fastRetry, nil, nil)

	sub, _ := hub.Subscribe(context.Background(), alice)
	defer sub.Close()
	waitFor(t, sub, func(domain.TicketSet) bool { return true })

	_ = hub.HandleEvent(context.Background(), events.Event{Type: events.EventTicketUpdated, CreatedBy: bob.Email})
	time.Sleep(50 * time.Millisecond)
	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("expected a single query, got %d", got)
	}
}

func TestUnknownRoleWithoutEmailIsDenied(t *testing.T) {
	hub := NewHub(repository.NewMemoryStore().Tickets(), fastRetry, nil, nil)
	_, err := hub.Subscribe(context.Background(), domain.Actor{ID: "x", Role: domain.RoleUnknown})
	if !errors.Is(err, apperrors.ErrPolicyDenied) {
		t.Fatalf("expected policy denied, got %v", err)
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	metrics := observability.NewMetrics()
	repo := repository.NewMemoryStore().Tickets()
	hub := NewHub(repo, fastRetry, nil, metrics)

	sub, _ := hub.Subscribe(context.Background(), agent)
	waitFor(t, sub, func(domain.TicketSet) bool { return true })
	createTicket(t, repo, hub, alice.Email)

	sub.Close()
	sub.Close()

	if _, ok := <-sub.Snapshots(); ok {
		t.Fatalf("expected no snapshot after close")
	}
	if sub.Err() != nil {
		t.Fatalf("closing must not report an error, got %v", sub.Err())
	}
	if hub.Active() != 0 {
		t.Fatalf("expected hub to release subscription")
	}
	if metrics.Snapshot().ActiveSubscriptions != 0 {
		t.Fatalf("expected active subscription gauge to return to zero")
	}
}

func TestContextCancellationEndsSubscription(t *testing.T) {
	hub := NewHub(repository.NewMemoryStore().Tickets(), fastRetry, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := hub.Subscribe(ctx, agent)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not stop on cancel")
	}
	if sub.Err() != nil {
		t.Fatalf("expected no error on cancel, got %v", sub.Err())
	}
}

func TestTransientFailureIsRetried(t *testing.T) {
	flaky := &flakyQuerier{failures: 2, inner: repository.NewMemoryStore().Tickets()}
	hub := NewHub(flaky, fastRetry, nil, nil)

	sub, _ := hub.Subscribe(context.Background(), agent)
	defer sub.Close()
	waitFor(t, sub, func(domain.TicketSet) bool { return true })
}

func TestTotalFailureIsSurfaced(t *testing.T) {
	metrics := observability.NewMetrics()
	flaky := &flakyQuerier{failures: 100, inner: repository.NewMemoryStore().Tickets()}
	hub := NewHub(flaky, fastRetry, nil, metrics)

	sub, _ := hub.Subscribe(context.Background(), agent)
	defer sub.Close()

	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			t.Fatalf("expected no snapshot from a failing store")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not give up")
	}
	if !errors.Is(sub.Err(), apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", sub.Err())
	}
	if got := flaky.calls.Load(); got != int64(fastRetry.MaxAttempts) {
		t.Fatalf("expected %d attempts, got %d", fastRetry.MaxAttempts, got)
	}
	if metrics.Snapshot().SubscriptionFailures != 1 {
		t.Fatalf("expected failure to be counted")
	}
}

func TestSnapshotsAreIsolatedCopies(t *testing.T) {
	repo := repository.NewMemoryStore().Tickets()
	hub := NewHub(repo, fastRetry, nil, nil)
	tk := createTicket(t, repo, hub, alice.Email)

	first, _ := hub.Subscribe(context.Background(), alice)
	defer first.Close()
	second, _ := hub.Subscribe(context.Background(), agent)
	defer second.Close()

	a := waitFor(t, first, func(set domain.TicketSet) bool { return set.Contains(tk.ID) })
	a.Tickets[0].Title = "changed locally"
	b := waitFor(t, second, func(set domain.TicketSet) bool { return set.Contains(tk.ID) })
	if b.Tickets[0].Title != "printer on fire" {
		t.Fatalf("snapshots share state across subscriptions")
	}
}

type countingQuerier struct {
	inner Querier
	calls atomic.Int64
}

func (q *countingQuerier) List(ctx context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	q.calls.Add(1)
	return q.inner.List(ctx, f)
}

type flakyQuerier struct {
	failures int64
	inner    Querier
	calls    atomic.Int64
}

func (q *flakyQuerier) List(ctx context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	if q.calls.Add(1) <= q.failures {
		return nil, errors.New("connection refused")
	}
	return q.inner.List(ctx, f)
}
