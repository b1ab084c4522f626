package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/api/dto"
	"github.com/helpdesk-labs/ticket-sync/internal/auth"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/service"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

const maxPageSize = 100

// TicketsHandler manages ticket endpoints for every role.
type TicketsHandler struct {
	service   *service.TicketService
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, heartbeat time.Duration, logger *zap.Logger) *TicketsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &TicketsHandler{service: ticketService, heartbeat: heartbeat, logger: logger}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Create(c.UserContext(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.TicketPriority(wireEnum(string(req.Priority))),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketFrom(ticket)})
}

// ListTickets GET /tickets. With subscribe=true the response becomes a
// server-sent event stream of live snapshots.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if c.QueryBool("subscribe") {
		return h.stream(c, actor)
	}

	filter := parseTicketQuery(c)
	tickets, err := h.service.List(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.TicketsFrom(tickets),
		"meta": fiber.Map{"limit": filter.Limit, "offset": filter.Offset},
	})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFrom(ticket)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	patch := service.TicketPatch{
		Title:       req.Title,
		Description: req.Description,
		Status:      normalizeStatus(req.Status),
		Priority:    normalizePriority(req.Priority),
	}
	if req.AssignedTo.Set {
		if req.AssignedTo.Value == nil {
			patch.Unassign = true
		} else {
			patch.AssignedTo = req.AssignedTo.Value
		}
	}

	ticket, err := h.service.Apply(c.UserContext(), actor, c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFrom(ticket)})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": c.Params("id"), "deleted": true}})
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("unauthenticated")
	}
	return actor, nil
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(wireEnum(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			filter.Priorities = append(filter.Priorities, domain.TicketPriority(wireEnum(part)))
		}
	}
	if assignee := strings.TrimSpace(c.Query("assigned_to")); assignee != "" {
		filter.AssignedTo = &assignee
	}
	if term := strings.TrimSpace(c.Query("q")); term != "" {
		filter.SearchTerm = &term
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func normalizeStatus(s *domain.TicketStatus) *domain.TicketStatus {
	if s == nil {
		return nil
	}
	v := domain.TicketStatus(wireEnum(string(*s)))
	return &v
}

func normalizePriority(p *domain.TicketPriority) *domain.TicketPriority {
	if p == nil {
		return nil
	}
	v := domain.TicketPriority(wireEnum(string(*p)))
	return &v
}

var enumSeparators = strings.NewReplacer(" ", "_", "-", "_")

// wireEnum maps display forms such as "In Progress", "in-progress" or
// "InProgress" onto the stored IN_PROGRESS spelling.
func wireEnum(v string) string {
	v = enumSeparators.Replace(strings.ToUpper(strings.TrimSpace(v)))
	if v == "INPROGRESS" {
		return string(domain.TicketStatusInProgress)
	}
	return v
}
