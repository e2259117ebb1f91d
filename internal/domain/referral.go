package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralLink records that purchases by Referred pay commission to Referrer
// at the given upline level. All levels are materialized once, when the
// referred account signs up, so payouts never re-walk the graph.
type ReferralLink struct {
	ID         uuid.UUID
	ReferrerID uuid.UUID
	ReferredID uuid.UUID
	Level      int
	Earned     decimal.Decimal
	CreatedAt  time.Time
}
