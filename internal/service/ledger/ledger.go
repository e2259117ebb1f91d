// Package ledger applies balance mutations. Every change to an account's
// balance goes through Debit or Credit inside a database transaction that
// holds the account's row lock, and every change appends exactly one
// transaction row, so the balance always equals the signed sum of the
// account's ledger entries.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
)

type accountRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, balance, totalSpent, totalEarned decimal.Decimal) error
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error
}

type Service struct {
	db       *sql.DB
	accounts accountRepo
	txs      transactionRepo
	rewards  config.Rewards
}

func NewService(db *sql.DB, accounts accountRepo, txs transactionRepo, rewards config.Rewards) *Service {
	return &Service{db: db, accounts: accounts, txs: txs, rewards: rewards}
}

// Debit takes amount off the account's balance and appends a purchase
// transaction with the negated amount. Fails with ErrInsufficientFunds
// before any mutation when the balance is too low.
func (s *Service) Debit(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, description string, metadata json.RawMessage) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("Debit: %w", domain.ErrInvalidAmount)
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	if acct.Balance.LessThan(amount) {
		return nil, fmt.Errorf("Debit: %w", domain.ErrInsufficientFunds)
	}

	newBalance := acct.Balance.Sub(amount)
	if err := s.accounts.UpdateBalance(ctx, tx, accountID, newBalance, acct.TotalSpent.Add(amount), acct.TotalEarned); err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	t := &domain.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount.Neg(),
		Type:         domain.TxTypePurchase,
		Status:       domain.TxStatusCompleted,
		Description:  description,
		Metadata:     metadata,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.txs.Create(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("Debit: append transaction: %w", err)
	}
	return t, nil
}

// Credit adds amount to the account's balance and appends a transaction of
// the given kind. Referral income also counts towards total_earned.
func (s *Service) Credit(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, kind domain.TxType, description string, metadata json.RawMessage) (*domain.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("Credit: %w", domain.ErrInvalidAmount)
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	newBalance := acct.Balance.Add(amount)
	totalEarned := acct.TotalEarned
	if kind == domain.TxTypeReferral {
		totalEarned = totalEarned.Add(amount)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, accountID, newBalance, acct.TotalSpent, totalEarned); err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	t := &domain.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		Type:         kind,
		Status:       domain.TxStatusCompleted,
		Description:  description,
		Metadata:     metadata,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.txs.Create(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("Credit: append transaction: %w", err)
	}
	return t, nil
}

// Deposit credits an external top-up in its own transaction.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, providerRef string) (*domain.Transaction, error) {
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Deposit: begin tx: %w", err)
	}
	defer tx.Rollback()

	meta, _ := json.Marshal(map[string]string{"provider_ref": providerRef})
	t, err := s.Credit(ctx, tx, accountID, amount, domain.TxTypeDeposit, "Пополнение баланса", meta)
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Deposit: commit: %w", err)
	}

	log.Info("deposit credited", "account_id", accountID, "amount", amount)
	return t, nil
}

// Withdraw debits the balance for a payout request. The debit is final from
// the ledger's point of view; the operator-side payout is tracked outside.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	log := logging.FromContext(ctx)

	if amount.LessThan(s.rewards.MinWithdraw) {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrWithdrawBelowMinimum)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	if acct.Balance.LessThan(amount) {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInsufficientFunds)
	}

	newBalance := acct.Balance.Sub(amount)
	if err := s.accounts.UpdateBalance(ctx, tx, accountID, newBalance, acct.TotalSpent, acct.TotalEarned); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	t := &domain.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount.Neg(),
		Type:         domain.TxTypeWithdraw,
		Status:       domain.TxStatusCompleted,
		Description:  "Заявка на вывод средств",
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.txs.Create(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("Withdraw: append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Withdraw: commit: %w", err)
	}

	log.Info("withdraw requested", "account_id", accountID, "amount", amount)
	return t, nil
}
