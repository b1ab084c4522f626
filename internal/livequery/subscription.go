package livequery

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/events"
	"github.com/helpdesk-labs/ticket-sync/internal/policy"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// Subscription is a cancellable handle on a live ticket query.
type Subscription struct {
	id        string
	actor     domain.Actor
	createdBy string
	hub       *Hub

	ctx     context.Context
	cancel  context.CancelFunc
	refresh chan struct{}
	out     chan domain.TicketSet
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	version   uint64
}

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// Actor returns the actor the subscription is scoped to.
func (s *Subscription) Actor() domain.Actor { return s.actor }

// Snapshots delivers ticket sets, newest last. Only the most recent
// undelivered snapshot is kept. The channel closes when the subscription ends.
func (s *Subscription) Snapshots() <-chan domain.TicketSet { return s.out }

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil after Close or context
// cancellation, STORE_UNAVAILABLE when retries were exhausted.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops delivery and releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		for range s.out {
		}
	})
}

func (s *Subscription) interested(event events.Event) bool {
	return s.createdBy == "" || event.CreatedBy == s.createdBy
}

func (s *Subscription) poke() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	failed := false
	defer func() {
		close(s.out)
		s.hub.remove(s.id)
		s.hub.metrics.SubscriptionClosed(failed)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.refresh:
		}

		tickets, err := s.load()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			failed = true
			s.setErr(apperrors.NewStoreUnavailable(err))
			s.hub.logger.Error("subscription failed",
				zap.String("subscription_id", s.id),
				zap.String("actor_id", s.actor.ID),
				zap.Error(err))
			return
		}

		s.version++
		s.deliver(domain.TicketSet{
			Version: s.version,
			Tickets: tickets,
			At:      s.hub.opts.Now(),
		})
	}
}

func (s *Subscription) load() ([]domain.Ticket, error) {
	filter := repository.TicketFilter{}
	if s.createdBy != "" {
		createdBy := s.createdBy
		filter.CreatedBy = &createdBy
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.hub.opts.RetryInitial
	retry.MaxInterval = s.hub.opts.RetryMax

	tickets, err := backoff.Retry(s.ctx, func() ([]domain.Ticket, error) {
		result, err := s.hub.tickets.List(s.ctx, filter)
		if err != nil && s.ctx.Err() == nil {
			s.hub.logger.Warn("subscription query failed, retrying",
				zap.String("subscription_id", s.id),
				zap.Error(err))
		}
		return result, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(s.hub.opts.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}

	visible := make([]domain.Ticket, 0, len(tickets))
	for _, tk := range tickets {
		if !policy.CanView(s.actor, tk) {
			s.hub.logger.Error("query returned ticket outside actor scope",
				zap.String("subscription_id", s.id),
				zap.String("ticket_id", tk.ID))
			continue
		}
		visible = append(visible, tk.Clone())
	}
	return visible, nil
}

func (s *Subscription) deliver(set domain.TicketSet) {
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- set:
		s.hub.metrics.SnapshotDelivered()
	case <-s.ctx.Done():
	}
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}
