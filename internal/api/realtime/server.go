// Package realtime serves live ticket snapshots over SockJS. A connection
// follows its session: logging out drops the subscription and a new login
// re-resolves the actor before anything else is delivered.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/igm/sockjs-go/sockjs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/api/dto"
	"github.com/helpdesk-labs/ticket-sync/internal/auth"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/identity"
	"github.com/helpdesk-labs/ticket-sync/internal/livequery"
	"github.com/helpdesk-labs/ticket-sync/internal/service"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSession     = "session"
)

// Conn is the part of a SockJS session the server needs.
type Conn interface {
	Recv() (string, error)
	Send(msg string) error
	Close(status uint32, reason string) error
}

type clientMessage struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

type frame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server binds SockJS connections to live ticket subscriptions.
type Server struct {
	tokens   *auth.TokenManager
	resolver *identity.Resolver
	tickets  *service.TicketService
	logger   *zap.Logger
}

// NewServer constructs a realtime server.
func NewServer(tokens *auth.TokenManager, resolver *identity.Resolver, tickets *service.TicketService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tokens: tokens, resolver: resolver, tickets: tickets, logger: logger}
}

// Handler returns the instrumented SockJS endpoint mounted under prefix.
func (s *Server) Handler(prefix string) http.Handler {
	sockjsHandler := sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		s.Serve(context.Background(), session, tokenFromRequest(session.Request()))
	})
	mux := http.NewServeMux()
	mux.Handle(strings.TrimSuffix(prefix, "/")+"/", sockjsHandler)
	return otelhttp.NewHandler(mux, "realtime")
}

// Serve runs one connection until the client goes away or ctx ends. token
// is the bearer token presented on connect and may be empty.
func (s *Server) Serve(ctx context.Context, conn Conn, token string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions := make(chan *identity.Session)
	msgs := make(chan clientMessage)
	go s.read(ctx, conn, token, sessions, msgs)
	changes := s.resolver.Watch(ctx, sessions)

	c := &connection{server: s, conn: conn, ctx: ctx}
	defer c.unsubscribe()
	defer conn.Close(1000, "closed") //nolint:errcheck

	if token == "" {
		c.send(frame{Type: "unauthenticated"})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(msg)
		case change, ok := <-changes:
			if !ok {
				return
			}
			c.apply(change)
		case set, ok := <-c.snapshots():
			if !ok {
				c.subscriptionEnded()
				continue
			}
			c.send(dto.SnapshotFrom(set))
		}
	}
}

// read pumps client messages. Session changes go straight to the resolver
// so they are applied in the order the client sent them.
func (s *Server) read(ctx context.Context, conn Conn, token string, sessions chan<- *identity.Session, msgs chan<- clientMessage) {
	defer close(msgs)
	defer close(sessions)

	push := func(session *identity.Session) bool {
		select {
		case sessions <- session:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if token != "" && !push(s.session(token)) {
		return
	}

	for {
		raw, err := conn.Recv()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			s.logger.Debug("ignoring malformed realtime message", zap.Error(err))
			continue
		}
		if msg.Action == ActionSession {
			if !push(s.session(msg.Token)) {
				return
			}
			continue
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// session maps a token to a session. Empty and invalid tokens both mean
// nobody is signed in.
func (s *Server) session(token string) *identity.Session {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	session, err := s.tokens.SessionFromToken(token)
	if err != nil {
		s.logger.Debug("rejecting realtime token", zap.Error(err))
		return nil
	}
	return session
}

type connection struct {
	server *Server
	conn   Conn
	ctx    context.Context

	actor  *domain.Actor
	wanted bool
	sub    *livequery.Subscription
}

func (c *connection) handle(msg clientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		c.wanted = true
		if c.actor == nil {
			c.send(frame{Type: "unauthenticated"})
			return
		}
		c.subscribe()
	case ActionUnsubscribe:
		c.wanted = false
		c.unsubscribe()
	default:
		c.send(frame{Type: "error", Code: apperrors.CodeValidation, Message: "unknown action"})
	}
}

// apply switches the connection to a new actor. State built for the previous
// actor is always dropped first.
func (c *connection) apply(change identity.ActorChange) {
	c.unsubscribe()
	if !change.Authenticated() {
		c.actor = nil
		if change.Err != nil && !errors.Is(change.Err, apperrors.ErrUnauthorized) {
			c.sendError(change.Err)
			return
		}
		c.send(frame{Type: "unauthenticated"})
		return
	}
	c.actor = change.Actor
	if c.wanted {
		c.subscribe()
	}
}

func (c *connection) subscribe() {
	c.unsubscribe()
	sub, err := c.server.tickets.Subscribe(c.ctx, *c.actor)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sub = sub
}

func (c *connection) unsubscribe() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *connection) subscriptionEnded() {
	err := c.sub.Err()
	c.sub = nil
	if err != nil {
		c.sendError(err)
	}
}

// snapshots returns nil when there is no subscription, which blocks forever in a select.
func (c *connection) snapshots() <-chan domain.TicketSet {
	if c.sub == nil {
		return nil
	}
	return c.sub.Snapshots()
}

func (c *connection) sendError(err error) {
	de := apperrors.ToDomainError(err)
	c.send(frame{Type: "error", Code: de.Code, Message: de.Message})
}

func (c *connection) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.server.logger.Error("failed to encode realtime frame", zap.Error(err))
		return
	}
	if err := c.conn.Send(string(data)); err != nil {
		c.server.logger.Debug("realtime send failed", zap.Error(err))
	}
}

func tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token, err := auth.BearerToken(r.Header.Get("Authorization")); err == nil {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
