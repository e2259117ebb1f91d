// Package support manages customer tickets. Messages live as a JSON array
// on the ticket row; a new ticket pings the operator chat.
package support

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
)

const (
	minMessageLength = 10
	ticketRefDigits  = 6
)

type ticketRepo interface {
	Create(ctx context.Context, t *domain.SupportTicket) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SupportTicket, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.SupportTicket, error)
	Update(ctx context.Context, id uuid.UUID, status domain.TicketStatus, messages json.RawMessage) error
}

// adminAlerter pushes a message to the operator chat. Best effort: a failed
// alert never fails the ticket.
type adminAlerter interface {
	AlertAdmins(ctx context.Context, text string)
}

type Service struct {
	tickets ticketRepo
	alerts  adminAlerter
}

func NewService(tickets ticketRepo, alerts adminAlerter) *Service {
	return &Service{tickets: tickets, alerts: alerts}
}

// Open creates a ticket from the user's first message. Messages shorter
// than ten characters are rejected so the queue is not full of "help".
func (s *Service) Open(ctx context.Context, accountID uuid.UUID, subject, text string) (*domain.SupportTicket, error) {
	log := logging.FromContext(ctx)

	text = strings.TrimSpace(text)
	if len([]rune(text)) < minMessageLength {
		return nil, fmt.Errorf("Open: %w", domain.ErrTicketMessageTooShort)
	}
	if subject == "" {
		subject = truncate(text, 60)
	}

	ref, err := generateTicketRef()
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	now := time.Now().UTC()
	messages, err := json.Marshal([]domain.TicketMessage{{From: "user", Text: text, Time: now}})
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	ticket := &domain.SupportTicket{
		ID:        uuid.New(),
		TicketRef: ref,
		AccountID: accountID,
		Subject:   subject,
		Status:    domain.TicketStatusOpen,
		Priority:  domain.TicketPriorityNormal,
		Messages:  messages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	log.Info("support ticket opened", "ticket_ref", ref, "account_id", accountID)
	s.alerts.AlertAdmins(ctx, fmt.Sprintf("Новый тикет #%s\n%s", ref, truncate(text, 300)))
	return ticket, nil
}

// Reply appends a message. An operator reply flips the ticket to answered,
// a user reply on an answered ticket reopens it.
func (s *Service) Reply(ctx context.Context, ticketID uuid.UUID, from, text string) (*domain.SupportTicket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("Reply: %w", err)
	}

	var messages []domain.TicketMessage
	if len(ticket.Messages) > 0 {
		if err := json.Unmarshal(ticket.Messages, &messages); err != nil {
			return nil, fmt.Errorf("Reply: decode messages: %w", err)
		}
	}
	messages = append(messages, domain.TicketMessage{From: from, Text: text, Time: time.Now().UTC()})

	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("Reply: %w", err)
	}

	status := domain.TicketStatusOpen
	if from == "admin" {
		status = domain.TicketStatusAnswered
	}
	if err := s.tickets.Update(ctx, ticketID, status, raw); err != nil {
		return nil, fmt.Errorf("Reply: %w", err)
	}

	ticket.Status = status
	ticket.Messages = raw
	return ticket, nil
}

func (s *Service) Close(ctx context.Context, ticketID uuid.UUID) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	if err := s.tickets.Update(ctx, ticketID, domain.TicketStatusClosed, ticket.Messages); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.SupportTicket, error) {
	tickets, err := s.tickets.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	return tickets, nil
}

// generateTicketRef returns a ref like T-493027.
func generateTicketRef() (string, error) {
	var b strings.Builder
	b.WriteString("T-")
	for i := 0; i < ticketRefDigits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generateTicketRef: %w", err)
		}
		fmt.Fprintf(&b, "%d", n.Int64())
	}
	return b.String(), nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
