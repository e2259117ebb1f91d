// Package referral maintains the who-referred-whom graph and pays
// commission up the chain. The upline is materialized as one link row per
// level at signup time; a purchase pays each level its percent of the order
// total, at most once per order.
package referral

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*domain.Account, error)
	SetReferredBy(ctx context.Context, tx *sql.Tx, id, referrerID uuid.UUID) error
	IncrementReferrals(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type linkRepo interface {
	CreateLink(ctx context.Context, tx *sql.Tx, link *domain.ReferralLink) error
	GetUpline(ctx context.Context, referredID uuid.UUID) ([]domain.ReferralLink, error)
	AddEarned(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error
}

type orderRepo interface {
	SetReferralPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type Service struct {
	accounts accountRepo
	links    linkRepo
	orders   orderRepo
	ledger   *ledger.Service
	rewards  config.Rewards
}

func NewService(accounts accountRepo, links linkRepo, orders orderRepo, ledgerSvc *ledger.Service, rewards config.Rewards) *Service {
	return &Service{
		accounts: accounts,
		links:    links,
		orders:   orders,
		ledger:   ledgerSvc,
		rewards:  rewards,
	}
}

// Register wires a freshly created account into the referral graph. An
// unknown code is ordinary organic signup, not an error. Runs inside the
// account-creation transaction: the level-1..N links, the referrer's signup
// bonus and the counters land together or not at all.
func (s *Service) Register(ctx context.Context, tx *sql.Tx, account *domain.Account, referrerCode string) (*domain.Account, error) {
	log := logging.FromContext(ctx)

	if referrerCode == "" {
		return nil, nil
	}

	referrer, err := s.accounts.GetByReferralCode(ctx, referrerCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("referral code did not resolve, organic signup", "code", referrerCode)
			return nil, nil
		}
		return nil, fmt.Errorf("Register: %w", err)
	}

	now := time.Now().UTC()
	upline, err := s.links.GetUpline(ctx, referrer.ID)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	link := &domain.ReferralLink{
		ID:         uuid.New(),
		ReferrerID: referrer.ID,
		ReferredID: account.ID,
		Level:      1,
		Earned:     decimal.Zero,
		CreatedAt:  now,
	}
	if err := s.links.CreateLink(ctx, tx, link); err != nil {
		return nil, fmt.Errorf("Register: level 1 link: %w", err)
	}

	// The referrer's own upline becomes this account's level-2 and level-3
	// ancestry, bounded by the configured depth.
	for _, up := range upline {
		level := up.Level + 1
		if level > s.rewards.ReferralLevels {
			continue
		}
		l := &domain.ReferralLink{
			ID:         uuid.New(),
			ReferrerID: up.ReferrerID,
			ReferredID: account.ID,
			Level:      level,
			Earned:     decimal.Zero,
			CreatedAt:  now,
		}
		if err := s.links.CreateLink(ctx, tx, l); err != nil {
			return nil, fmt.Errorf("Register: level %d link: %w", level, err)
		}
	}

	if err := s.accounts.SetReferredBy(ctx, tx, account.ID, referrer.ID); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	if err := s.accounts.IncrementReferrals(ctx, tx, referrer.ID); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	if s.rewards.SignupBonus.Sign() > 0 {
		meta, _ := json.Marshal(map[string]string{
			"referred_account_id": account.ID.String(),
		})
		_, err = s.ledger.Credit(ctx, tx, referrer.ID, s.rewards.SignupBonus,
			domain.TxTypeBonus, "Бонус за приглашённого пользователя", meta)
		if err != nil {
			return nil, fmt.Errorf("Register: signup bonus: %w", err)
		}
	}

	log.Info("referral registered",
		"referrer_id", referrer.ID,
		"referred_id", account.ID,
		"levels", len(upline)+1,
	)
	return referrer, nil
}

// Payout is one commission paid during settlement, kept so callers can
// notify the payee after commit.
type Payout struct {
	ReferrerID uuid.UUID
	Level      int
	Percent    int64
	Amount     decimal.Decimal
}

// PayoutChain credits the buyer's upline for a settled order. The caller
// holds the order's row lock and has checked referral_bonus_paid, so the
// flag set here commits atomically with the credits; a replay can never pay
// twice.
func (s *Service) PayoutChain(ctx context.Context, tx *sql.Tx, order *domain.Order) ([]Payout, error) {
	log := logging.FromContext(ctx)

	upline, err := s.links.GetUpline(ctx, order.AccountID)
	if err != nil {
		return nil, fmt.Errorf("PayoutChain: %w", err)
	}
	if len(upline) == 0 {
		return nil, nil
	}

	var payouts []Payout
	for _, link := range upline {
		percent := s.rewards.LevelPercent(link.Level)
		if percent <= 0 {
			continue
		}

		amount := order.TotalAmount.
			Mul(decimal.NewFromInt(percent)).
			Div(decimal.NewFromInt(100)).
			Round(2)
		if amount.Sign() <= 0 {
			continue
		}

		referrer, err := s.accounts.GetByID(ctx, link.ReferrerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn("referrer missing, payout skipped",
					"order_id", order.ID, "level", link.Level)
				continue
			}
			return nil, fmt.Errorf("PayoutChain: %w", err)
		}
		if referrer.IsBanned {
			log.Info("referrer banned, payout skipped",
				"order_id", order.ID, "referrer_id", referrer.ID, "level", link.Level)
			continue
		}

		meta, _ := json.Marshal(map[string]any{
			"order_id":        order.ID.String(),
			"buyer_id":        order.AccountID.String(),
			"level":           link.Level,
			"percent":         percent,
			"purchase_amount": order.TotalAmount.String(),
		})
		_, err = s.ledger.Credit(ctx, tx, referrer.ID, amount,
			domain.TxTypeReferral,
			fmt.Sprintf("Реферальный бонус за заказ #%s", shortID(order.ID)), meta)
		if err != nil {
			return nil, fmt.Errorf("PayoutChain: credit level %d: %w", link.Level, err)
		}

		if err := s.links.AddEarned(ctx, tx, link.ID, amount); err != nil {
			return nil, fmt.Errorf("PayoutChain: %w", err)
		}

		payouts = append(payouts, Payout{
			ReferrerID: referrer.ID,
			Level:      link.Level,
			Percent:    percent,
			Amount:     amount,
		})
	}

	// The flag promises a matching referral transaction exists, so an order
	// whose whole upline was skipped leaves it unset.
	if len(payouts) == 0 {
		return nil, nil
	}
	if err := s.orders.SetReferralPaid(ctx, tx, order.ID); err != nil {
		return nil, fmt.Errorf("PayoutChain: %w", err)
	}
	return payouts, nil
}

// UplineIDs returns the account ids the payout chain would credit, for
// callers that need to pre-lock the full set of touched accounts.
func (s *Service) UplineIDs(ctx context.Context, buyerID uuid.UUID) ([]uuid.UUID, error) {
	upline, err := s.links.GetUpline(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("UplineIDs: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(upline))
	for _, link := range upline {
		if s.rewards.LevelPercent(link.Level) > 0 {
			ids = append(ids, link.ReferrerID)
		}
	}
	return ids, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
