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

const productColumns = `id, name, description, category, price, stock,
	is_active, fulfillment, file_url, file_password, sales_count, revenue, created_at`

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (
			id, name, description, category, price, stock,
			is_active, fulfillment, file_url, file_password, sales_count, revenue, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock,
		p.IsActive, p.Fulfillment, p.FileURL, p.FilePassword, p.SalesCount, p.Revenue, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id,
	)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Product, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products WHERE is_active AND category <> '' ORDER BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategories: rows: %w", err)
	}
	return categories, nil
}

func (r *ProductRepository) ListActiveByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE category = $1 AND is_active ORDER BY created_at DESC LIMIT $2`,
		category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListActiveByCategory: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActiveByCategory: scan: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActiveByCategory: rows: %w", err)
	}
	return products, nil
}

// ApplySale decrements stock (unlimited stock stays at -1) and bumps the
// sales counters. The caller holds the product row lock.
func (r *ProductRepository) ApplySale(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET
			stock = CASE WHEN stock < 0 THEN stock ELSE stock - $1 END,
			sales_count = sales_count + $1,
			revenue = revenue + $2
		WHERE id = $3`,
		quantity, amount, id,
	)
	if err != nil {
		return fmt.Errorf("ApplySale: %w", err)
	}
	return nil
}

// RestockAfterRefund reverses ApplySale for an admin refund.
func (r *ProductRepository) RestockAfterRefund(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET
			stock = CASE WHEN stock < 0 THEN stock ELSE stock + $1 END,
			sales_count = sales_count - $1,
			revenue = revenue - $2
		WHERE id = $3`,
		quantity, amount, id,
	)
	if err != nil {
		return fmt.Errorf("RestockAfterRefund: %w", err)
	}
	return nil
}

func scanProduct(s scanner) (*domain.Product, error) {
	var p domain.Product
	err := s.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock,
		&p.IsActive, &p.Fulfillment, &p.FileURL, &p.FilePassword,
		&p.SalesCount, &p.Revenue, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
