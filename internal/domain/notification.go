package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationKindOrder    NotificationKind = "order"
	NotificationKindPayment  NotificationKind = "payment"
	NotificationKindReferral NotificationKind = "referral"
	NotificationKindSystem   NotificationKind = "system"
)

type Notification struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Kind      NotificationKind
	Title     string
	Body      string
	IsRead    bool
	CreatedAt time.Time
}
