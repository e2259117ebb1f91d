// Package notify fans user-facing events out to Telegram and keeps a
// persisted copy of every message, so a user who had the bot blocked still
// sees what happened. Delivery is best effort throughout: a failed send is
// logged, never propagated.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
)

type notificationRepo interface {
	Create(ctx context.Context, n *domain.Notification) error
}

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// Sender pushes a plain text message to a Telegram chat. The bot layer
// implements it; tests plug in a recorder.
type Sender interface {
	SendText(chatID int64, text string) error
}

type Service struct {
	notifications notificationRepo
	accounts      accountRepo
	sender        Sender
	adminIDs      []int64
}

func NewService(notifications notificationRepo, accounts accountRepo, sender Sender, adminIDs []int64) *Service {
	return &Service{
		notifications: notifications,
		accounts:      accounts,
		sender:        sender,
		adminIDs:      adminIDs,
	}
}

// Notify stores the notification and pushes it to the account's Telegram
// chat. Both halves are best effort and independent.
func (s *Service) Notify(ctx context.Context, accountID uuid.UUID, kind domain.NotificationKind, title, body string) {
	log := logging.FromContext(ctx)

	n := &domain.Notification{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		log.Error("failed to persist notification", "account_id", accountID, "kind", kind, "error", err)
	}

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Error("notification recipient lookup failed", "account_id", accountID, "error", err)
		return
	}
	if err := s.sender.SendText(acct.TelegramID, fmt.Sprintf("%s\n\n%s", title, body)); err != nil {
		log.Warn("telegram notification send failed",
			"account_id", accountID,
			"telegram_id", acct.TelegramID,
			"error", err,
		)
	}
}

// AlertAdmins pushes an operational message to every configured admin chat.
func (s *Service) AlertAdmins(ctx context.Context, text string) {
	log := logging.FromContext(ctx)
	for _, id := range s.adminIDs {
		if err := s.sender.SendText(id, text); err != nil {
			log.Warn("admin alert send failed", "admin_id", id, "error", err)
		}
	}
}
