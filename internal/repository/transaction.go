package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const txColumns = `id, account_id, amount, tx_type, status, description,
	metadata, balance_after, created_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a ledger row. Rows are never updated or deleted.
func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (
			id, account_id, amount, tx_type, status, description,
			metadata, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.AccountID, t.Amount, t.Type, t.Status, t.Description,
		t.Metadata, t.BalanceAfter, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return txs, nil
}

// SumByAccount returns the signed sum of an account's completed transactions.
// Used by admin reporting and the invariant tests: it must equal the balance.
func (r *TransactionRepository) SumByAccount(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE account_id = $1 AND status = $2`,
		accountID, domain.TxStatusCompleted,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumByAccount: %w", err)
	}
	return sum, nil
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		WHERE metadata->>'order_id' = $1 ORDER BY created_at`,
		orderID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOrder: scan: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrder: rows: %w", err)
	}
	return txs, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var metadata *[]byte
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.Status, &t.Description,
		&metadata, &t.BalanceAfter, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		t.Metadata = *metadata
	}
	return &t, nil
}
