package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

const referralColumns = `id, referrer_id, referred_id, level, earned, created_at`

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) CreateLink(ctx context.Context, tx *sql.Tx, link *domain.ReferralLink) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO referral_links (id, referrer_id, referred_id, level, earned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.ReferrerID, link.ReferredID, link.Level, link.Earned, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateLink: %w", err)
	}
	return nil
}

// GetUpline returns the links that pay out on purchases by the given
// account, ordered by level.
func (r *ReferralRepository) GetUpline(ctx context.Context, referredID uuid.UUID) ([]domain.ReferralLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+referralColumns+` FROM referral_links
		WHERE referred_id = $1 ORDER BY level`,
		referredID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetUpline: %w", err)
	}
	defer rows.Close()

	var links []domain.ReferralLink
	for rows.Next() {
		l, err := scanReferralLink(rows)
		if err != nil {
			return nil, fmt.Errorf("GetUpline: scan: %w", err)
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetUpline: rows: %w", err)
	}
	return links, nil
}

func (r *ReferralRepository) AddEarned(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE referral_links SET earned = earned + $1 WHERE id = $2`,
		amount, id,
	)
	if err != nil {
		return fmt.Errorf("AddEarned: %w", err)
	}
	return nil
}

// CountByLevel returns per-level referral counts for the referral menu.
func (r *ReferralRepository) CountByLevel(ctx context.Context, referrerID uuid.UUID) (map[int]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM referral_links
		WHERE referrer_id = $1 GROUP BY level`,
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("CountByLevel: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("CountByLevel: scan: %w", err)
		}
		counts[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CountByLevel: rows: %w", err)
	}
	return counts, nil
}

func scanReferralLink(s scanner) (*domain.ReferralLink, error) {
	var l domain.ReferralLink
	err := s.Scan(&l.ID, &l.ReferrerID, &l.ReferredID, &l.Level, &l.Earned, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
