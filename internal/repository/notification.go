package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, account_id, kind, title, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.AccountID, n.Kind, n.Title, n.Body, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListUnread(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, kind, title, body, is_read, created_at
		FROM notifications
		WHERE account_id = $1 AND NOT is_read ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListUnread: %w", err)
	}
	defer rows.Close()

	var ns []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Kind, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListUnread: scan: %w", err)
		}
		ns = append(ns, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUnread: rows: %w", err)
	}
	return ns, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE account_id = $1`, accountID,
	)
	if err != nil {
		return fmt.Errorf("MarkRead: %w", err)
	}
	return nil
}
