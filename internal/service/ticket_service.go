package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/events"
	"github.com/helpdesk-labs/ticket-sync/internal/livequery"
	"github.com/helpdesk-labs/ticket-sync/internal/observability"
	"github.com/helpdesk-labs/ticket-sync/internal/policy"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// TicketService coordinates ticket workflows. Every mutation re-checks the
// access policy against the stored ticket, whatever the client already checked.
type TicketService struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	hub        *livequery.Hub
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	tracer     trace.Tracer
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Dispatcher events.Dispatcher
	Hub        *livequery.Hub
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
}

// TicketPatch lists the fields a caller wants to change. Nil fields are left alone.
type TicketPatch struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	AssignedTo  *string
	Unassign    bool
}

// Empty reports whether the patch changes nothing.
func (p TicketPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.AssignedTo == nil && !p.Unassign
}

// TicketListFilter describes optional list filters on top of the role scope.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	AssignedTo *string
	SearchTerm *string
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        now,
		tracer:     otel.Tracer("github.com/helpdesk-labs/ticket-sync/internal/service"),
	}
}

// Create files a ticket for a customer.
func (s *TicketService) Create(ctx context.Context, actor domain.Actor, input TicketCreateInput) (ticket *domain.Ticket, err error) {
	ctx, span := s.start(ctx, "TicketService.Create", actor)
	defer func() { endSpan(span, err) }()

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("title and description are required", details)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityLow
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	if !policy.CanCreate(actor) {
		return nil, apperrors.NewPolicyDenied("only customers can file tickets")
	}

	ticket = &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		CreatedBy:   actor.Email,
		AssignedTo:  nil,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.StoreError(err, "ticket", nil)
	}
	s.publish(ctx, actor, events.EventTicketCreated, ticket, nil)
	return ticket, nil
}

// Get returns a ticket the actor may view. Tickets outside the actor's
// scope are reported as missing.
func (s *TicketService) Get(ctx context.Context, actor domain.Actor, ticketID string) (ticket *domain.Ticket, err error) {
	ctx, span := s.start(ctx, "TicketService.Get", actor)
	defer func() { endSpan(span, err) }()

	ticket, err = s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, *ticket) {
		return nil, notFound(ticketID)
	}
	return ticket, nil
}

// List returns the actor's role-scoped tickets.
func (s *TicketService) List(ctx context.Context, actor domain.Actor, filter TicketListFilter) (tickets []domain.Ticket, err error) {
	ctx, span := s.start(ctx, "TicketService.List", actor)
	defer func() { endSpan(span, err) }()

	createdBy, ok := policy.Scope(actor)
	if !ok {
		return nil, apperrors.NewPolicyDenied("actor may not list tickets")
	}
	repoFilter := repository.TicketFilter{
		AssignedTo: filter.AssignedTo,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		SearchTerm: filter.SearchTerm,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if createdBy != "" {
		repoFilter.CreatedBy = &createdBy
	}
	tickets, err = s.tickets.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.StoreError(err, "ticket", nil)
	}
	visible := tickets[:0]
	for _, tk := range tickets {
		if policy.CanView(actor, tk) {
			visible = append(visible, tk)
		}
	}
	return visible, nil
}

// Subscribe opens a live, role-scoped ticket query for actor.
func (s *TicketService) Subscribe(ctx context.Context, actor domain.Actor) (*livequery.Subscription, error) {
	if s.hub == nil {
		return nil, apperrors.NewStoreUnavailable(errors.New("live queries not configured"))
	}
	return s.hub.Subscribe(ctx, actor)
}

// UpdateContent changes title and/or description. Only the creator may do
// so, and only while the ticket is still open.
func (s *TicketService) UpdateContent(ctx context.Context, actor domain.Actor, ticketID string, title, description *string) (*domain.Ticket, error) {
	return s.Apply(ctx, actor, ticketID, TicketPatch{Title: title, Description: description})
}

// UpdateStatus changes the ticket status.
func (s *TicketService) UpdateStatus(ctx context.Context, actor domain.Actor, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	return s.Apply(ctx, actor, ticketID, TicketPatch{Status: &status})
}

// UpdatePriority changes the ticket priority.
func (s *TicketService) UpdatePriority(ctx context.Context, actor domain.Actor, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	return s.Apply(ctx, actor, ticketID, TicketPatch{Priority: &priority})
}

// Assign sets the assignee. The id is free text; it is not checked against the directory.
func (s *TicketService) Assign(ctx context.Context, actor domain.Actor, ticketID, userID string) (*domain.Ticket, error) {
	return s.Apply(ctx, actor, ticketID, TicketPatch{AssignedTo: &userID})
}

// Unassign clears the assignee.
func (s *TicketService) Unassign(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	return s.Apply(ctx, actor, ticketID, TicketPatch{Unassign: true})
}

// Apply validates and authorizes every field in patch before writing any of
// them, then applies each field group as its own atomic update.
func (s *TicketService) Apply(ctx context.Context, actor domain.Actor, ticketID string, patch TicketPatch) (ticket *domain.Ticket, err error) {
	ctx, span := s.start(ctx, "TicketService.Apply", actor)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("ticket.id", ticketID))

	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, *current) {
		return nil, notFound(ticketID)
	}
	for _, field := range patchFields(patch) {
		if !policy.CanEdit(actor, *current, field) {
			return nil, apperrors.NewDomainError(apperrors.CodePolicyDenied, "not permitted to change "+string(field), 403,
				map[string]any{"field": field})
		}
	}

	if patch.Title != nil || patch.Description != nil {
		title := trimmed(patch.Title)
		description := trimmed(patch.Description)
		if err := s.tickets.UpdateContent(ctx, ticketID, actor.Email, title, description); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return nil, apperrors.NewPolicyDenied("ticket can no longer be edited")
			}
			return nil, apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		s.publish(ctx, actor, events.EventTicketUpdated, current, contentFields(patch))
	}
	if patch.Status != nil {
		if err := s.tickets.UpdateStatus(ctx, ticketID, *patch.Status); err != nil {
			return nil, apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		s.publish(ctx, actor, events.EventTicketUpdated, current, []domain.TicketField{domain.FieldStatus})
	}
	if patch.Priority != nil {
		if err := s.tickets.UpdatePriority(ctx, ticketID, *patch.Priority); err != nil {
			return nil, apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		s.publish(ctx, actor, events.EventTicketUpdated, current, []domain.TicketField{domain.FieldPriority})
	}
	if patch.AssignedTo != nil || patch.Unassign {
		if err := s.tickets.UpdateAssignee(ctx, ticketID, trimmed(patch.AssignedTo)); err != nil {
			return nil, apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		s.publish(ctx, actor, events.EventTicketUpdated, current, []domain.TicketField{domain.FieldAssignedTo})
	}

	return s.load(ctx, ticketID)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	return &out
}

// Delete permanently removes a ticket.
func (s *TicketService) Delete(ctx context.Context, actor domain.Actor, ticketID string) (err error) {
	ctx, span := s.start(ctx, "TicketService.Delete", actor)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("ticket.id", ticketID))

	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return err
	}
	if !policy.CanView(actor, *ticket) {
		return notFound(ticketID)
	}
	if !policy.CanDelete(actor, *ticket) {
		return apperrors.NewPolicyDenied("not permitted to delete ticket")
	}
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		return apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	s.publish(ctx, actor, events.EventTicketDeleted, ticket, nil)
	return nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, notFound(ticketID)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.StoreError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// publish announces a committed change. The write already happened, so a
// fanout failure is logged and counted rather than returned to the caller.
func (s *TicketService) publish(ctx context.Context, actor domain.Actor, eventType events.EventType, ticket *domain.Ticket, fields []domain.TicketField) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		CreatedBy: ticket.CreatedBy,
		Fields:    fields,
		Actor:     events.Actor{ID: actor.ID, Role: actor.Role},
		Timestamp: s.now().UTC(),
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.metrics.PublishFailed()
		s.logger.Error("failed to publish ticket change",
			zap.String("event_type", string(eventType)),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	}
}

func (s *TicketService) start(ctx context.Context, name string, actor domain.Actor) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", string(actor.Role)),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validatePatch(patch TicketPatch) error {
	if patch.Empty() {
		return apperrors.NewValidationError("no fields to update", nil)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return apperrors.NewValidationError("title must not be empty", map[string]any{"title": "required"})
	}
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return apperrors.NewValidationError("description must not be empty", map[string]any{"description": "required"})
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": *patch.Status})
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": *patch.Priority})
	}
	if patch.AssignedTo != nil && strings.TrimSpace(*patch.AssignedTo) == "" {
		return apperrors.NewInvalidAssignee("assignee must not be blank")
	}
	if patch.AssignedTo != nil && patch.Unassign {
		return apperrors.NewValidationError("cannot assign and unassign at once", nil)
	}
	return nil
}

func patchFields(patch TicketPatch) []domain.TicketField {
	fields := contentFields(patch)
	if patch.Status != nil {
		fields = append(fields, domain.FieldStatus)
	}
	if patch.Priority != nil {
		fields = append(fields, domain.FieldPriority)
	}
	if patch.AssignedTo != nil || patch.Unassign {
		fields = append(fields, domain.FieldAssignedTo)
	}
	return fields
}

func contentFields(patch TicketPatch) []domain.TicketField {
	var fields []domain.TicketField
	if patch.Title != nil {
		fields = append(fields, domain.FieldTitle)
	}
	if patch.Description != nil {
		fields = append(fields, domain.FieldDescription)
	}
	return fields
}

func notFound(ticketID string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
}
