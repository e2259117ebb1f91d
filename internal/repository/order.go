package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const orderColumns = `id, account_id, product_id, quantity, total_amount,
	status, payment_method, provider_payment_id, referral_bonus_paid,
	delivery_payload, created_at, paid_at, delivered_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (
			id, account_id, product_id, quantity, total_amount,
			status, payment_method, provider_payment_id, referral_bonus_paid,
			delivery_payload, created_at, paid_at, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.AccountID, o.ProductID, o.Quantity, o.TotalAmount,
		o.Status, o.PaymentMethod, o.ProviderPaymentID, o.ReferralBonusPaid,
		o.DeliveryPayload, o.CreatedAt, o.PaidAt, o.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID, paidAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, paid_at = $2 WHERE id = $3`,
		domain.OrderStatusPaid, paidAt, id,
	)
	if err != nil {
		return fmt.Errorf("MarkPaid: %w", err)
	}
	return requireRow(res, "MarkPaid")
}

// ClaimProviderPayment stamps the provider's payment identifier onto the
// order. The unique index on provider_payment_id makes a replayed
// confirmation for a different order fail with a unique violation.
func (r *OrderRepository) ClaimProviderPayment(ctx context.Context, tx *sql.Tx, id uuid.UUID, providerPaymentID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET provider_payment_id = $1 WHERE id = $2 AND provider_payment_id IS NULL`,
		providerPaymentID, id,
	)
	if err != nil {
		return fmt.Errorf("ClaimProviderPayment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ClaimProviderPayment: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ClaimProviderPayment: %w", domain.ErrDuplicateConfirmation)
	}
	return nil
}

func (r *OrderRepository) SetReferralPaid(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET referral_bonus_paid = TRUE WHERE id = $1 AND NOT referral_bonus_paid`,
		id,
	)
	if err != nil {
		return fmt.Errorf("SetReferralPaid: %w", err)
	}
	return requireRow(res, "SetReferralPaid")
}

// MarkDelivered persists the fulfillment payload before anyone is notified,
// so a crash after generation cannot lose a credential.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id uuid.UUID, payload json.RawMessage, deliveredAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, delivery_payload = $2, delivered_at = $3 WHERE id = $4`,
		domain.OrderStatusDelivered, payload, deliveredAt, id,
	)
	if err != nil {
		return fmt.Errorf("MarkDelivered: %w", err)
	}
	return requireRow(res, "MarkDelivered")
}

// SavePayload stores a payload without the delivered transition (manual
// fulfillment keeps the order paid).
func (r *OrderRepository) SavePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET delivery_payload = $1 WHERE id = $2`,
		payload, id,
	)
	if err != nil {
		return fmt.Errorf("SavePayload: %w", err)
	}
	return requireRow(res, "SavePayload")
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.OrderStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return requireRow(res, "UpdateStatus")
}

// ExpirePending cancels pending orders created before the cutoff and returns
// how many were touched.
func (r *OrderRepository) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE status = $2 AND created_at < $3`,
		domain.OrderStatusCancelled, domain.OrderStatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("ExpirePending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ExpirePending: rows affected: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var payload *[]byte
	err := s.Scan(
		&o.ID, &o.AccountID, &o.ProductID, &o.Quantity, &o.TotalAmount,
		&o.Status, &o.PaymentMethod, &o.ProviderPaymentID, &o.ReferralBonusPaid,
		&payload, &o.CreatedAt, &o.PaidAt, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		o.DeliveryPayload = *payload
	}
	return &o, nil
}
