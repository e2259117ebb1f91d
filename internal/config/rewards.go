package config

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rewards is the parsed commission scheme handed to the core services.
// Nothing reads these values from ambient state; every component that pays
// out gets its own copy at construction.
type Rewards struct {
	ReferralPercent int64
	ReferralLevels  int
	SignupBonus     decimal.Decimal
	WelcomeBonus    decimal.Decimal
	MinWithdraw     decimal.Decimal
}

func (c *Config) RewardsConfig() (Rewards, error) {
	signup, err := decimal.NewFromString(c.SignupBonus)
	if err != nil {
		return Rewards{}, fmt.Errorf("RewardsConfig: signup bonus: %w", err)
	}
	welcome, err := decimal.NewFromString(c.WelcomeBonus)
	if err != nil {
		return Rewards{}, fmt.Errorf("RewardsConfig: welcome bonus: %w", err)
	}
	minWithdraw, err := decimal.NewFromString(c.MinWithdraw)
	if err != nil {
		return Rewards{}, fmt.Errorf("RewardsConfig: min withdraw: %w", err)
	}
	return Rewards{
		ReferralPercent: c.ReferralPercent,
		ReferralLevels:  c.ReferralLevels,
		SignupBonus:     signup,
		WelcomeBonus:    welcome,
		MinWithdraw:     minWithdraw,
	}, nil
}

// LevelPercent returns the commission percent for an upline level:
// full rate at level 1, then halved by integer division per level
// (15 -> 15, 7, 3). Levels beyond ReferralLevels earn nothing.
func (r Rewards) LevelPercent(level int) int64 {
	if level < 1 || level > r.ReferralLevels {
		return 0
	}
	p := r.ReferralPercent
	for i := 1; i < level; i++ {
		p /= 2
	}
	return p
}
