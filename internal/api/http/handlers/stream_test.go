package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/ticket-sync/internal/auth"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/livequery"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	"github.com/helpdesk-labs/ticket-sync/internal/service"
)

var agent = domain.Actor{ID: "agent123", Email: "agent@x.com", Role: domain.RoleSupportAgent}

type downQuerier struct{}

func (downQuerier) List(context.Context, repository.TicketFilter) ([]domain.Ticket, error) {
	return nil, errors.New("connection refused")
}

// signalWriter closes wrote after the first flush reaches it.
type signalWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	wrote chan struct{}
	once  sync.Once
}

func (w *signalWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.buf.Write(p)
	w.mu.Unlock()
	w.once.Do(func() { close(w.wrote) })
	return n, err
}

func TestPumpWritesSnapshotsUntilClosed(t *testing.T) {
	store := repository.NewMemoryStore()
	tk := &domain.Ticket{Title: "t", Description: "d", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, CreatedBy: "alice@x.com", CreatedAt: time.Now()}
	if err := store.Tickets().Create(context.Background(), tk); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	hub := livequery.NewHub(store.Tickets(), livequery.Options{}, nil, nil)
	sub, err := hub.Subscribe(context.Background(), agent)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	out := &signalWriter{wrote: make(chan struct{})}
	w := bufio.NewWriter(out)
	done := make(chan error, 1)
	go func() { done <- pumpSnapshots(w, sub, time.Hour) }()

	select {
	case <-out.wrote:
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot written")
	}
	sub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean end, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop after Close")
	}
	written := out.buf.String()
	if !strings.Contains(written, "event: snapshot") || !strings.Contains(written, tk.ID) {
		t.Fatalf("expected snapshot with ticket, got %q", written)
	}
}

func TestStreamReportsStoreFailure(t *testing.T) {
	hub := livequery.NewHub(downQuerier{}, livequery.Options{RetryInitial: time.Millisecond, RetryMax: time.Millisecond, MaxAttempts: 1}, nil, nil)
	svc := service.NewTicketService(service.TicketDependencies{TicketRepo: repository.NewMemoryStore().Tickets(), Hub: hub})
	h := NewTicketsHandler(svc, time.Hour, nil)

	app := fiber.New()
	app.Get("/tickets", func(c *fiber.Ctx) error {
		auth.SetActor(c, agent)
		return h.ListTickets(c)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/tickets?subscribe=true", nil), 3000)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "event: error") || !strings.Contains(string(body), "STORE_UNAVAILABLE") {
		t.Fatalf("expected error event, got %q", body)
	}
}
