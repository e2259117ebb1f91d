package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusAnswered TicketStatus = "answered"
	TicketStatusClosed   TicketStatus = "closed"
)

type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityNormal   TicketPriority = "normal"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

type TicketMessage struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type SupportTicket struct {
	ID        uuid.UUID
	TicketRef string
	AccountID uuid.UUID
	Subject   string
	Status    TicketStatus
	Priority  TicketPriority
	Messages  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
