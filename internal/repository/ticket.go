package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const ticketColumns = `id, ticket_ref, account_id, subject, status, priority,
	messages, created_at, updated_at`

type TicketRepository struct {
	db *sql.DB
}

func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Create(ctx context.Context, t *domain.SupportTicket) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO support_tickets (
			id, ticket_ref, account_id, subject, status, priority,
			messages, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.TicketRef, t.AccountID, t.Subject, t.Status, t.Priority,
		t.Messages, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SupportTicket, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, id,
	)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.SupportTicket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM support_tickets
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var tickets []domain.SupportTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return tickets, nil
}

func (r *TicketRepository) Update(ctx context.Context, id uuid.UUID, status domain.TicketStatus, messages json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE support_tickets SET status = $1, messages = $2, updated_at = now() WHERE id = $3`,
		status, messages, id,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return requireRow(res, "Update")
}

func scanTicket(s scanner) (*domain.SupportTicket, error) {
	var t domain.SupportTicket
	var messages []byte
	err := s.Scan(
		&t.ID, &t.TicketRef, &t.AccountID, &t.Subject, &t.Status, &t.Priority,
		&messages, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Messages = messages
	return &t, nil
}
