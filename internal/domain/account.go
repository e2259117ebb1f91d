package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a shop customer: the Telegram identity, the internal balance
// and the referral position. Created on first contact, never deleted.
type Account struct {
	ID             uuid.UUID
	TelegramID     int64
	Username       *string
	FirstName      string
	Balance        decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalEarned    decimal.Decimal
	ReferralCode   string
	ReferredBy     *uuid.UUID
	IsBanned       bool
	OrdersCount    int
	ReferralsCount int
	CreatedAt      time.Time
	LastSeenAt     time.Time
}
