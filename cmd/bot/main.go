package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/digitalshopbot/shopbot/internal/bot"
	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/handler"
	"github.com/digitalshopbot/shopbot/internal/jobs"
	"github.com/digitalshopbot/shopbot/internal/logging"
	"github.com/digitalshopbot/shopbot/internal/middleware"
	"github.com/digitalshopbot/shopbot/internal/notify"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/account"
	"github.com/digitalshopbot/shopbot/internal/service/delivery"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/referral"
	"github.com/digitalshopbot/shopbot/internal/service/settlement"
	"github.com/digitalshopbot/shopbot/internal/service/support"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("shopbot", cfg.LogLevel, cfg.AppEnv)

	rewards, err := cfg.RewardsConfig()
	if err != nil {
		slog.Error("invalid reward config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	db, err := connectDB(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		slog.Error("failed to create telegram client", "error", err)
		os.Exit(1)
	}

	accountRepo := repository.NewAccountRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	statsRepo := repository.NewStatsRepository(db)

	notifySvc := notify.NewService(notificationRepo, accountRepo, bot.NewTextSender(api), cfg.AdminIDs)
	ledgerSvc := ledger.NewService(db, accountRepo, txRepo, rewards)
	referralSvc := referral.NewService(accountRepo, referralRepo, orderRepo, ledgerSvc, rewards)
	accountSvc := account.NewService(db, accountRepo, referralSvc, ledgerSvc, rewards)
	settlementSvc := settlement.NewService(
		db, accountRepo, productRepo, orderRepo,
		ledgerSvc, referralSvc, delivery.NewDispatcher(), notifySvc,
	)
	supportSvc := support.NewService(ticketRepo, notifySvc)

	b := bot.New(
		api, cfg, rewards,
		accountSvc, settlementSvc, ledgerSvc, supportSvc,
		productRepo, orderRepo, txRepo, referralRepo, statsRepo, notificationRepo,
	)
	go b.Run(ctx)

	scheduler := jobs.NewScheduler(orderRepo, time.Duration(cfg.PendingOrderTTLHours)*time.Hour, logger)
	if err := scheduler.Start(ctx, cfg.ExpireCronSpec); err != nil {
		slog.Error("failed to start job scheduler", "error", err)
		os.Exit(1)
	}

	webhookHandler := handler.NewWebhookHandler(settlementSvc, orderRepo, cfg.WebhookSecret)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/payment", webhookHandler.ReceivePaymentWebhook)
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	chain := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("webhook server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var lastErr error
	for i := range 30 {
		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", lastErr)
}
