// Package livequery maintains role-scoped ticket subscriptions. Each
// subscription re-runs its own query when a relevant change is announced
// and hands out immutable snapshots; nothing is cached across subscriptions.
package livequery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/events"
	"github.com/helpdesk-labs/ticket-sync/internal/observability"
	"github.com/helpdesk-labs/ticket-sync/internal/policy"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// Querier is the read side a subscription needs.
type Querier interface {
	List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error)
}

// Options tunes retries for subscription queries.
type Options struct {
	RetryInitial time.Duration
	RetryMax     time.Duration
	MaxAttempts  uint
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RetryInitial <= 0 {
		o.RetryInitial = 200 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 6
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Hub tracks open subscriptions and wakes them on ticket changes.
type Hub struct {
	tickets Querier
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewHub builds a hub reading from tickets.
func NewHub(tickets Querier, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tickets: tickets,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*Subscription),
	}
}

// Attach registers the hub for every ticket change event on d.
func (h *Hub) Attach(d events.Dispatcher) {
	for _, eventType := range events.TicketEventTypes {
		d.Subscribe(eventType, h.HandleEvent)
	}
}

// HandleEvent marks every interested subscription for refresh.
func (h *Hub) HandleEvent(_ context.Context, event events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.interested(event) {
			sub.poke()
		}
	}
	return nil
}

// RefreshAll re-runs every open subscription, e.g. after change events may
// have been missed.
func (h *Hub) RefreshAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		sub.poke()
	}
}

// Subscribe opens a live query for actor. Customers are restricted to their
// own tickets inside the query itself; staff receive the full set. The
// subscription ends when ctx ends, Close is called, or the store stays
// unreachable past the retry budget.
func (h *Hub) Subscribe(ctx context.Context, actor domain.Actor) (*Subscription, error) {
	createdBy, ok := policy.Scope(actor)
	if !ok {
		return nil, apperrors.NewPolicyDenied("actor may not list tickets")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:        uuid.NewString(),
		actor:     actor,
		createdBy: createdBy,
		hub:       h,
		ctx:       subCtx,
		cancel:    cancel,
		refresh:   make(chan struct{}, 1),
		out:       make(chan domain.TicketSet, 1),
		done:      make(chan struct{}),
	}
	sub.poke()

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	h.metrics.SubscriptionOpened()

	go sub.run()
	return sub, nil
}

// Active returns the number of open subscriptions.
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}
