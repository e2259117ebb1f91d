package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxTypeDeposit  TxType = "deposit"
	TxTypeWithdraw TxType = "withdraw"
	TxTypePurchase TxType = "purchase"
	TxTypeRefund   TxType = "refund"
	TxTypeReferral TxType = "referral"
	TxTypeBonus    TxType = "bonus"
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction is one append-only ledger row. Amount is signed: purchase and
// withdraw are negative, everything else positive. An account's balance is
// always the sum of its completed transaction amounts.
type Transaction struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Amount       decimal.Decimal
	Type         TxType
	Status       TxStatus
	Description  string
	Metadata     json.RawMessage
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
