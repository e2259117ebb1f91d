package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// ShopStats is the snapshot shown on the admin panel.
type ShopStats struct {
	TotalAccounts int
	TotalProducts int
	TotalOrders   int
	OrdersToday   int
	Revenue       decimal.Decimal
	RevenueToday  decimal.Decimal
}

type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) Snapshot(ctx context.Context) (*ShopStats, error) {
	var s ShopStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM orders),
			(SELECT COUNT(*) FROM orders WHERE created_at >= date_trunc('day', now())),
			(SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status IN ('paid', 'delivered')),
			(SELECT COALESCE(SUM(total_amount), 0) FROM orders
				WHERE status IN ('paid', 'delivered') AND created_at >= date_trunc('day', now()))`,
	).Scan(&s.TotalAccounts, &s.TotalProducts, &s.TotalOrders, &s.OrdersToday, &s.Revenue, &s.RevenueToday)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}
	return &s, nil
}
