package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// ErrConditionFailed is returned when a guarded update finds the row but its guard does not hold.
var ErrConditionFailed = errors.New("update condition not met")

// TicketFilter captures list parameters. CreatedBy is the role scope and
// is applied in the query itself.
type TicketFilter struct {
	CreatedBy  *string
	AssignedTo *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	SearchTerm *string
	// Limit of zero returns every matching row.
	Limit  int
	Offset int
}

// TicketRepository encapsulates ticket persistence. Each update touches a
// single field group and is atomic on its own.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// UpdateContent only applies while the ticket is OPEN and owned by
	// createdBy. Nil fields keep their stored value.
	UpdateContent(ctx context.Context, id, createdBy string, title, description *string) error
	UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error
	UpdatePriority(ctx context.Context, id string, priority domain.TicketPriority) error
	UpdateAssignee(ctx context.Context, id string, assignee *string) error
	Delete(ctx context.Context, id string) error
}

// dbtx is the part of *pgxpool.Pool the Postgres repositories use.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ticketRepository struct {
	db dbtx
}

// NewTicketRepository instantiates a Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{db: pool}
}

const ticketColumns = `id, title, description, status, priority, created_by, assigned_to, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, created_by, assigned_to, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
        RETURNING id, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.CreatedAt,
	).Scan(&ticket.ID, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if !validID(id) {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.db.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query, args := listQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

// listQuery builds the filtered select and its positional arguments.
func listQuery(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id ASC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}
	return query, args
}

func (r *ticketRepository) UpdateContent(ctx context.Context, id, createdBy string, title, description *string) error {
	const query = `
        UPDATE tickets SET title=COALESCE($1, title), description=COALESCE($2, description), updated_at=NOW()
        WHERE id=$3 AND created_by=$4 AND status=$5`
	if !validID(id) {
		return pgx.ErrNoRows
	}
	cmd, err := r.db.Exec(ctx, query, title, description, id, createdBy, domain.TicketStatusOpen)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConditionFailed
	}
	return pgx.ErrNoRows
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	return r.exec(ctx, `UPDATE tickets SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
}

func (r *ticketRepository) UpdatePriority(ctx context.Context, id string, priority domain.TicketPriority) error {
	return r.exec(ctx, `UPDATE tickets SET priority=$1, updated_at=NOW() WHERE id=$2`, priority, id)
}

func (r *ticketRepository) UpdateAssignee(ctx context.Context, id string, assignee *string) error {
	return r.exec(ctx, `UPDATE tickets SET assigned_to=$1, updated_at=NOW() WHERE id=$2`, assignee, id)
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
}

// exec runs a single-row statement whose last argument is the ticket id.
func (r *ticketRepository) exec(ctx context.Context, query string, args ...any) error {
	if id, ok := args[len(args)-1].(string); ok && !validID(id) {
		return pgx.ErrNoRows
	}
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// validID reports whether id can name a row. Anything else is simply absent
// rather than a malformed query.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}
