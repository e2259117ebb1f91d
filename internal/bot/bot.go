// Package bot is the Telegram surface of the shop: the polling loop, the
// menu tree and the multistep dialogs. It talks to the services and never
// to the database directly.
package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/account"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/settlement"
	"github.com/digitalshopbot/shopbot/internal/service/support"
)

const (
	pollTimeoutSeconds = 60
	dialogTTL          = 15 * time.Minute
	janitorInterval    = 5 * time.Minute
	catalogPageSize    = 10
)

type productCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	ListActiveByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
}

type orderReader interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Order, error)
}

type transactionReader interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error)
}

type referralReader interface {
	CountByLevel(ctx context.Context, referrerID uuid.UUID) (map[int]int, error)
}

type statsReader interface {
	Snapshot(ctx context.Context) (*repository.ShopStats, error)
}

type notificationReader interface {
	ListUnread(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, accountID uuid.UUID) error
}

type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     *config.Config
	rewards config.Rewards
	state   *StateStore

	accounts   *account.Service
	settlement *settlement.Service
	ledger     *ledger.Service
	support    *support.Service

	products      productCatalog
	orders        orderReader
	transactions  transactionReader
	referrals     referralReader
	stats         statsReader
	notifications notificationReader
}

func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	rewards config.Rewards,
	accounts *account.Service,
	settlementSvc *settlement.Service,
	ledgerSvc *ledger.Service,
	supportSvc *support.Service,
	products productCatalog,
	orders orderReader,
	transactions transactionReader,
	referrals referralReader,
	stats statsReader,
	notifications notificationReader,
) *Bot {
	return &Bot{
		api:           api,
		cfg:           cfg,
		rewards:       rewards,
		state:         NewStateStore(dialogTTL),
		accounts:      accounts,
		settlement:    settlementSvc,
		ledger:        ledgerSvc,
		support:       supportSvc,
		products:      products,
		orders:        orders,
		transactions:  transactions,
		referrals:     referrals,
		stats:         stats,
		notifications: notifications,
	}
}

// SendText pushes a plain message to a chat. Satisfies the notification
// sink's sender.
func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Run polls Telegram for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("bot started", "username", b.api.Self.UserName)

	go b.state.StartJanitor(ctx, janitorInterval)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				log.Info("update channel closed")
				return
			}
			// One update per goroutine; the account row locks serialize
			// anything that touches money.
			go b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in update handler", "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}
