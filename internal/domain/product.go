package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Fulfillment string

const (
	FulfillmentFile       Fulfillment = "file"
	FulfillmentLicenseKey Fulfillment = "license_key"
	FulfillmentAccount    Fulfillment = "account"
	FulfillmentManual     Fulfillment = "manual"
)

// StockUnlimited marks a product that never runs out.
const StockUnlimited = -1

type Product struct {
	ID           uuid.UUID
	Name         string
	Description  string
	Category     string
	Price        decimal.Decimal
	Stock        int
	IsActive     bool
	Fulfillment  Fulfillment
	FileURL      *string
	FilePassword *string
	SalesCount   int
	Revenue      decimal.Decimal
	CreatedAt    time.Time
}

// Available reports whether the product can be sold right now.
// Stock 0 means sold out; StockUnlimited never blocks a sale.
func (p *Product) Available() bool {
	return p.IsActive && p.Stock != 0
}
