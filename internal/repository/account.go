package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const accountColumns = `id, telegram_id, username, first_name, balance,
	total_spent, total_earned, referral_code, referred_by, is_banned,
	orders_count, referrals_count, created_at, last_seen_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *sql.Tx, a *domain.Account) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (
			id, telegram_id, username, first_name, balance,
			total_spent, total_earned, referral_code, referred_by, is_banned,
			orders_count, referrals_count, created_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.TelegramID, a.Username, a.FirstName, a.Balance,
		a.TotalSpent, a.TotalEarned, a.ReferralCode, a.ReferredBy, a.IsBanned,
		a.OrdersCount, a.ReferralsCount, a.CreatedAt, a.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE telegram_id = $1`, telegramID,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByTelegramID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByTelegramID: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReferralCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReferralCode: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return a, nil
}

// UpdateBalance rewrites the money columns of a row the caller has locked
// with GetForUpdate.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, balance, totalSpent, totalEarned decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, total_spent = $2, total_earned = $3 WHERE id = $4`,
		balance, totalSpent, totalEarned, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalance: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) SetReferredBy(ctx context.Context, tx *sql.Tx, id, referrerID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET referred_by = $1 WHERE id = $2 AND referred_by IS NULL`,
		referrerID, id,
	)
	if err != nil {
		return fmt.Errorf("SetReferredBy: %w", err)
	}
	return nil
}

func (r *AccountRepository) IncrementOrders(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET orders_count = orders_count + 1 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("IncrementOrders: %w", err)
	}
	return nil
}

func (r *AccountRepository) IncrementReferrals(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET referrals_count = referrals_count + 1 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("IncrementReferrals: %w", err)
	}
	return nil
}

func (r *AccountRepository) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_seen_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("TouchLastSeen: %w", err)
	}
	return nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	err := s.Scan(
		&a.ID, &a.TelegramID, &a.Username, &a.FirstName, &a.Balance,
		&a.TotalSpent, &a.TotalEarned, &a.ReferralCode, &a.ReferredBy, &a.IsBanned,
		&a.OrdersCount, &a.ReferralsCount, &a.CreatedAt, &a.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
