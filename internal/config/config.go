package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	BotToken      string `env:"BOT_TOKEN,required"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	AdminIDs      []int64 `env:"ADMIN_IDS" envSeparator:","`
	SupportChatID int64   `env:"SUPPORT_CHAT_ID"`

	PaymentPageURL string `env:"PAYMENT_PAGE_URL" envDefault:"https://pay.example.com/invoice"`

	// Referral scheme. Level percents derive from ReferralPercent by integer
	// halving: 15 -> 15/7/3.
	ReferralPercent int64  `env:"REFERRAL_PERCENT" envDefault:"15"`
	ReferralLevels  int    `env:"REFERRAL_LEVELS" envDefault:"3"`
	SignupBonus     string `env:"SIGNUP_BONUS" envDefault:"100"`
	WelcomeBonus    string `env:"WELCOME_BONUS" envDefault:"50"`
	MinWithdraw     string `env:"MIN_WITHDRAW" envDefault:"500"`

	PendingOrderTTLHours int    `env:"PENDING_ORDER_TTL_HOURS" envDefault:"24"`
	ExpireCronSpec       string `env:"EXPIRE_CRON_SPEC" envDefault:"@every 1h"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}
