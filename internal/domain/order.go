package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodBalance PaymentMethod = "balance"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodCrypto  PaymentMethod = "crypto"
)

type Order struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	ProductID         uuid.UUID
	Quantity          int
	TotalAmount       decimal.Decimal
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	ProviderPaymentID *string
	ReferralBonusPaid bool
	DeliveryPayload   json.RawMessage
	CreatedAt         time.Time
	PaidAt            *time.Time
	DeliveredAt       *time.Time
}

// Settled reports whether money has already moved for this order.
func (o *Order) Settled() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusDelivered ||
		o.Status == OrderStatusRefunded
}
