package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

func TestInMemoryDispatcherRunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls int
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls++
		return errors.New("first failed")
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls++
		return nil
	})
	d.Subscribe(EventTicketDeleted, func(context.Context, Event) error {
		t.Fatalf("handler for other type must not run")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"})
	if err == nil {
		t.Fatalf("expected handler error to be reported")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestRedisDispatcherRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDispatcher(client, "tickets:changes", nil)
	received := make(chan Event, 1)
	d.Subscribe(EventTicketUpdated, func(_ context.Context, e Event) error {
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription")
	}

	sent := Event{
		ID:        "e1",
		Type:      EventTicketUpdated,
		TicketID:  "t1",
		CreatedBy: "alice@x.com",
		Fields:    []domain.TicketField{domain.FieldStatus},
		Timestamp: time.Now().UTC(),
	}
	if err := d.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case got := <-received:
		if got.TicketID != "t1" || got.CreatedBy != "alice@x.com" || len(got.Fields) != 1 {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRedisDispatcherPublishSurfacesFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	d := NewRedisDispatcher(client, "tickets:changes", nil)
	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated}); err == nil {
		t.Fatalf("expected publish error when redis is down")
	}
}

func TestRedisDispatcherRunsSubscribedHooks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDispatcher(client, "tickets:changes", nil)
	hooked := make(chan struct{}, 1)
	d.OnSubscribed(func() { hooked <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-hooked:
	case <-time.After(2 * time.Second):
		t.Fatalf("hook not called after subscribing")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestRedisDispatcherPingTracksSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDispatcher(client, "tickets:changes", nil)
	if err := d.Ping(context.Background()); err == nil {
		t.Fatalf("expected not-ready before the relay subscribes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription")
	}
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("expected ready while subscribed, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
	if err := d.Ping(context.Background()); err == nil {
		t.Fatalf("expected not-ready once the relay stopped")
	}
}
