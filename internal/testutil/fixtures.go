package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

var seedSeq int64

func nextSeq() int64 {
	seedSeq++
	return seedSeq
}

// SeedAccount inserts an account with the given balance. A nonzero balance
// is backed by a completed deposit row, so the seeded state already honors
// balance == sum of completed transactions. Telegram id and referral code
// are generated unique per call.
func SeedAccount(t *testing.T, db *sql.DB, balance decimal.Decimal) *domain.Account {
	t.Helper()

	seq := nextSeq()
	a := &domain.Account{
		ID:           uuid.New(),
		TelegramID:   100000 + seq,
		FirstName:    fmt.Sprintf("User%d", seq),
		Balance:      balance,
		TotalSpent:   decimal.Zero,
		TotalEarned:  decimal.Zero,
		ReferralCode: fmt.Sprintf("TESTREF%d", seq),
		CreatedAt:    time.Now().UTC(),
		LastSeenAt:   time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, telegram_id, first_name, balance, total_spent,
			total_earned, referral_code, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TelegramID, a.FirstName, a.Balance, a.TotalSpent,
		a.TotalEarned, a.ReferralCode, a.CreatedAt, a.LastSeenAt,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	if !balance.IsZero() {
		_, err = db.Exec(
			`INSERT INTO transactions (id, account_id, amount, tx_type, status,
				description, balance_after, created_at)
			 VALUES ($1, $2, $3, 'deposit', 'completed', 'seed', $4, $5)`,
			uuid.New(), a.ID, balance, balance, a.CreatedAt,
		)
		if err != nil {
			t.Fatalf("seed account deposit: %v", err)
		}
	}
	return a
}

func BanAccount(t *testing.T, db *sql.DB, id uuid.UUID) {
	t.Helper()
	if _, err := db.Exec(`UPDATE accounts SET is_banned = true WHERE id = $1`, id); err != nil {
		t.Fatalf("ban account %s: %v", id, err)
	}
}

// SeedProduct inserts an active product. Stock -1 means unlimited.
func SeedProduct(t *testing.T, db *sql.DB, price decimal.Decimal, stock int, fulfillment domain.Fulfillment) *domain.Product {
	t.Helper()

	seq := nextSeq()
	p := &domain.Product{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("Product %d", seq),
		Description: "test product",
		Category:    "test",
		Price:       price,
		Stock:       stock,
		IsActive:    true,
		Fulfillment: fulfillment,
		Revenue:     decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if fulfillment == domain.FulfillmentFile {
		link := "https://files.example.com/archive.zip"
		pw := "filepass"
		p.FileURL = &link
		p.FilePassword = &pw
	}

	_, err := db.Exec(
		`INSERT INTO products (id, name, description, category, price, stock,
			is_active, fulfillment, file_url, file_password, revenue, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock,
		p.IsActive, p.Fulfillment, p.FileURL, p.FilePassword, p.Revenue, p.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

// SeedReferralLink wires referred under referrer at the given level.
func SeedReferralLink(t *testing.T, db *sql.DB, referrerID, referredID uuid.UUID, level int) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO referral_links (id, referrer_id, referred_id, level, earned, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5)`,
		uuid.New(), referrerID, referredID, level, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("seed referral link: %v", err)
	}
}

// SeedPendingOrder inserts a pending order awaiting external payment.
func SeedPendingOrder(t *testing.T, db *sql.DB, accountID, productID uuid.UUID, quantity int, total decimal.Decimal) *domain.Order {
	t.Helper()

	o := &domain.Order{
		ID:            uuid.New(),
		AccountID:     accountID,
		ProductID:     productID,
		Quantity:      quantity,
		TotalAmount:   total,
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCard,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO orders (id, account_id, product_id, quantity, total_amount,
			status, payment_method, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.AccountID, o.ProductID, o.Quantity, o.TotalAmount,
		o.Status, o.PaymentMethod, o.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed pending order: %v", err)
	}
	return o
}

func GetBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var raw string
	if err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&raw); err != nil {
		t.Fatalf("get balance %s: %v", accountID, err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse balance %q: %v", raw, err)
	}
	return d
}

// SumCompletedTransactions returns the signed sum of the account's completed
// ledger rows, the figure the balance must always equal.
func SumCompletedTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var raw string
	err := db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE account_id = $1 AND status = 'completed'`, accountID,
	).Scan(&raw)
	if err != nil {
		t.Fatalf("sum transactions %s: %v", accountID, err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse sum %q: %v", raw, err)
	}
	return d
}

func CountTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID, txType domain.TxType) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1 AND tx_type = $2`,
		accountID, txType,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions %s: %v", accountID, err)
	}
	return count
}

func GetProductStock(t *testing.T, db *sql.DB, productID uuid.UUID) int {
	t.Helper()

	var stock int
	if err := db.QueryRow(`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("get stock %s: %v", productID, err)
	}
	return stock
}

func GetOrderStatus(t *testing.T, db *sql.DB, orderID uuid.UUID) domain.OrderStatus {
	t.Helper()

	var status domain.OrderStatus
	if err := db.QueryRow(`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status); err != nil {
		t.Fatalf("get order status %s: %v", orderID, err)
	}
	return status
}
