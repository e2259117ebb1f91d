// Package account handles first contact: every Telegram user gets exactly
// one account row, created on their first message.
package account

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/referral"
)

const (
	referralCodeLength  = 8
	referralCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type accountRepo interface {
	Create(ctx context.Context, tx *sql.Tx, a *domain.Account) error
	GetByTelegramID(ctx context.Context, telegramID int64) (*domain.Account, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}

type Identity struct {
	TelegramID int64
	Username   string
	FirstName  string
}

// SignupResult reports what first contact produced, so the bot layer can
// greet a new user and notify their referrer after the fact.
type SignupResult struct {
	Account  *domain.Account
	Created  bool
	Referrer *domain.Account
}

type Service struct {
	db        *sql.DB
	accounts  accountRepo
	referrals *referral.Service
	ledger    *ledger.Service
	rewards   config.Rewards
}

func NewService(db *sql.DB, accounts accountRepo, referrals *referral.Service, ledgerSvc *ledger.Service, rewards config.Rewards) *Service {
	return &Service{
		db:        db,
		accounts:  accounts,
		referrals: referrals,
		ledger:    ledgerSvc,
		rewards:   rewards,
	}
}

// GetOrCreate returns the account for a Telegram user, creating it on first
// contact. The referral code, when present and valid, wires the new account
// into the referral graph and pays the signup bonuses; account row, links
// and bonuses commit as one transaction.
func (s *Service) GetOrCreate(ctx context.Context, id Identity, referrerCode string) (*SignupResult, error) {
	log := logging.FromContext(ctx)

	existing, err := s.accounts.GetByTelegramID(ctx, id.TelegramID)
	if err == nil {
		if touchErr := s.accounts.TouchLastSeen(ctx, existing.ID); touchErr != nil {
			log.Warn("failed to touch last_seen", "account_id", existing.ID, "error", touchErr)
		}
		return &SignupResult{Account: existing}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}

	code, err := generateReferralCode()
	if err != nil {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}

	now := time.Now().UTC()
	acct := &domain.Account{
		ID:           uuid.New(),
		TelegramID:   id.TelegramID,
		FirstName:    id.FirstName,
		Balance:      decimal.Zero,
		TotalSpent:   decimal.Zero,
		TotalEarned:  decimal.Zero,
		ReferralCode: code,
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	if id.Username != "" {
		acct.Username = &id.Username
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreate: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.accounts.Create(ctx, tx, acct); err != nil {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}

	referrer, err := s.referrals.Register(ctx, tx, acct, referrerCode)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}

	if s.rewards.WelcomeBonus.Sign() > 0 {
		_, err = s.ledger.Credit(ctx, tx, acct.ID, s.rewards.WelcomeBonus,
			domain.TxTypeBonus, "Бонус за регистрацию", nil)
		if err != nil {
			return nil, fmt.Errorf("GetOrCreate: welcome bonus: %w", err)
		}
		acct.Balance = s.rewards.WelcomeBonus
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("GetOrCreate: commit: %w", err)
	}

	log.Info("account created",
		"account_id", acct.ID,
		"telegram_id", acct.TelegramID,
		"referred", referrer != nil,
	)
	if referrer != nil {
		acct.ReferredBy = &referrer.ID
	}
	return &SignupResult{Account: acct, Created: true, Referrer: referrer}, nil
}

// GetByTelegramID looks up an existing account without creating one.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.Account, error) {
	acct, err := s.accounts.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("GetByTelegramID: %w", err)
	}
	return acct, nil
}

func generateReferralCode() (string, error) {
	b := make([]byte, referralCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCodeCharset))))
		if err != nil {
			return "", fmt.Errorf("generateReferralCode: %w", err)
		}
		b[i] = referralCodeCharset[n.Int64()]
	}
	return string(b), nil
}
