package settlement_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/delivery"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/referral"
	"github.com/digitalshopbot/shopbot/internal/service/settlement"
	"github.com/digitalshopbot/shopbot/internal/testutil"
)

type sentNotification struct {
	AccountID uuid.UUID
	Kind      domain.NotificationKind
	Title     string
	Body      string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, accountID uuid.UUID, kind domain.NotificationKind, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{AccountID: accountID, Kind: kind, Title: title, Body: body})
}

func (n *recordingNotifier) forAccount(id uuid.UUID) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.AccountID == id {
			out = append(out, s)
		}
	}
	return out
}

func testRewards() config.Rewards {
	return config.Rewards{
		ReferralPercent: 15,
		ReferralLevels:  3,
		SignupBonus:     decimal.NewFromInt(100),
		WelcomeBonus:    decimal.NewFromInt(50),
		MinWithdraw:     decimal.NewFromInt(500),
	}
}

func setupSettlement(t *testing.T, db *sql.DB) (*settlement.Service, *recordingNotifier) {
	t.Helper()

	accounts := repository.NewAccountRepository(db)
	products := repository.NewProductRepository(db)
	orders := repository.NewOrderRepository(db)
	txs := repository.NewTransactionRepository(db)
	links := repository.NewReferralRepository(db)

	rewards := testRewards()
	ledgerSvc := ledger.NewService(db, accounts, txs, rewards)
	referralSvc := referral.NewService(accounts, links, orders, ledgerSvc, rewards)
	notifier := &recordingNotifier{}

	svc := settlement.NewService(
		db, accounts, products, orders,
		ledgerSvc, referralSvc, delivery.NewDispatcher(), notifier,
	)
	return svc, notifier
}

func assertLedgerInvariant(t *testing.T, db *sql.DB, accountID uuid.UUID) {
	t.Helper()
	balance := testutil.GetBalance(t, db, accountID)
	sum := testutil.SumCompletedTransactions(t, db, accountID)
	assert.True(t, balance.Equal(sum),
		"balance %s must equal transaction sum %s", balance, sum)
}

func TestSettle_BalancePurchaseDeliversFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(1000))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("150.00"), 5, domain.FulfillmentFile)

	order, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.PaidAt)
	assert.NotNil(t, order.DeliveredAt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(order.DeliveryPayload, &payload))
	assert.Equal(t, "file", payload["type"])
	assert.Equal(t, "https://files.example.com/archive.zip", payload["link"])

	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.RequireFromString("850.00")))
	assert.Equal(t, 4, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypePurchase))
	assertLedgerInvariant(t, db, buyer.ID)

	notes := notifier.forAccount(buyer.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationKindOrder, notes[0].Kind)
	assert.Contains(t, notes[0].Body, "https://files.example.com/archive.zip")
}

func TestSettle_InsufficientFundsLeavesNothingBehind(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(100))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("150.00"), 5, domain.FulfillmentLicenseKey)

	_, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 5, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypePurchase))

	var orderCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE account_id = $1`, buyer.ID).Scan(&orderCount))
	assert.Equal(t, 0, orderCount, "failed settlement must not leave an order row")
	assert.Empty(t, notifier.sent)
}

func TestSettle_UnavailableProduct(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(1000))
	soldOut := testutil.SeedProduct(t, db, decimal.RequireFromString("50.00"), 0, domain.FulfillmentLicenseKey)

	_, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: soldOut.ID,
		Quantity:  1,
	})
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.NewFromInt(1000)))
}

func TestSettle_PaysThreeLevelReferralChain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupSettlement(t, db)
	ctx := context.Background()

	level3 := testutil.SeedAccount(t, db, decimal.Zero)
	level2 := testutil.SeedAccount(t, db, decimal.Zero)
	level1 := testutil.SeedAccount(t, db, decimal.Zero)
	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(1000))

	testutil.SeedReferralLink(t, db, level1.ID, buyer.ID, 1)
	testutil.SeedReferralLink(t, db, level2.ID, buyer.ID, 2)
	testutil.SeedReferralLink(t, db, level3.ID, buyer.ID, 3)

	product := testutil.SeedProduct(t, db, decimal.RequireFromString("150.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	order, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)

	// 15%, 7% and 3% of 150.00.
	assert.True(t, testutil.GetBalance(t, db, level1.ID).Equal(decimal.RequireFromString("22.50")))
	assert.True(t, testutil.GetBalance(t, db, level2.ID).Equal(decimal.RequireFromString("10.50")))
	assert.True(t, testutil.GetBalance(t, db, level3.ID).Equal(decimal.RequireFromString("4.50")))

	for _, id := range []uuid.UUID{level1.ID, level2.ID, level3.ID, buyer.ID} {
		assertLedgerInvariant(t, db, id)
	}

	var paid bool
	require.NoError(t, db.QueryRow(`SELECT referral_bonus_paid FROM orders WHERE id = $1`, order.ID).Scan(&paid))
	assert.True(t, paid)

	assert.Len(t, notifier.forAccount(level1.ID), 1)
	assert.Len(t, notifier.forAccount(level2.ID), 1)
	assert.Len(t, notifier.forAccount(level3.ID), 1)
}

func TestSettle_NoUplineNoPayout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(500))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("99.90"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	_, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)

	var referralTxCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE tx_type = 'referral'`).Scan(&referralTxCount))
	assert.Equal(t, 0, referralTxCount)
}

func TestSettle_BannedReferrerSkipped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	referrer := testutil.SeedAccount(t, db, decimal.Zero)
	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(500))
	testutil.SeedReferralLink(t, db, referrer.ID, buyer.ID, 1)
	testutil.BanAccount(t, db, referrer.ID)

	product := testutil.SeedProduct(t, db, decimal.RequireFromString("100.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	order, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)

	assert.True(t, testutil.GetBalance(t, db, referrer.ID).Equal(decimal.Zero))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, referrer.ID, domain.TxTypeReferral))

	// No payout happened, so the flag must not claim one did.
	var paid bool
	require.NoError(t, db.QueryRow(
		`SELECT referral_bonus_paid FROM orders WHERE id = $1`, order.ID).Scan(&paid))
	assert.False(t, paid)
}

func TestConfirmExternalPayment_SettlesOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	referrer := testutil.SeedAccount(t, db, decimal.Zero)
	buyer := testutil.SeedAccount(t, db, decimal.Zero)
	testutil.SeedReferralLink(t, db, referrer.ID, buyer.ID, 1)

	product := testutil.SeedProduct(t, db, decimal.RequireFromString("150.00"), 3, domain.FulfillmentLicenseKey)
	order := testutil.SeedPendingOrder(t, db, buyer.ID, product.ID, 1, decimal.RequireFromString("150.00"))

	settled, err := svc.ConfirmExternalPayment(ctx, order.ID, "prov-abc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, settled.Status)

	// The deposit and purchase legs cancel out, the invariant holds.
	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.Zero))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypeDeposit))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypePurchase))
	assertLedgerInvariant(t, db, buyer.ID)

	assert.True(t, testutil.GetBalance(t, db, referrer.ID).Equal(decimal.RequireFromString("22.50")))
	assert.Equal(t, 2, testutil.GetProductStock(t, db, product.ID))

	// The provider retries: nothing moves a second time.
	_, err = svc.ConfirmExternalPayment(ctx, order.ID, "prov-abc-1")
	require.ErrorIs(t, err, domain.ErrDuplicateConfirmation)

	assert.True(t, testutil.GetBalance(t, db, referrer.ID).Equal(decimal.RequireFromString("22.50")))
	assert.Equal(t, 2, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, referrer.ID, domain.TxTypeReferral))
}

func TestConfirmExternalPayment_ProviderIDClaimedByOtherOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.Zero)
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("80.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	first := testutil.SeedPendingOrder(t, db, buyer.ID, product.ID, 1, decimal.RequireFromString("80.00"))
	second := testutil.SeedPendingOrder(t, db, buyer.ID, product.ID, 1, decimal.RequireFromString("80.00"))

	_, err := svc.ConfirmExternalPayment(ctx, first.ID, "prov-shared")
	require.NoError(t, err)

	_, err = svc.ConfirmExternalPayment(ctx, second.ID, "prov-shared")
	require.ErrorIs(t, err, domain.ErrDuplicateConfirmation)
	assert.Equal(t, domain.OrderStatusPending, testutil.GetOrderStatus(t, db, second.ID))
}

func TestCancel_OnlyPendingOrders(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(200))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("100.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)
	pending := testutil.SeedPendingOrder(t, db, buyer.ID, product.ID, 1, decimal.RequireFromString("100.00"))

	require.NoError(t, svc.Cancel(ctx, pending.ID))
	assert.Equal(t, domain.OrderStatusCancelled, testutil.GetOrderStatus(t, db, pending.ID))

	require.ErrorIs(t, svc.Cancel(ctx, pending.ID), domain.ErrOrderNotPending)
}

func TestRefund_CreditsBuyerAndRestocks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, notifier := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(500))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("120.00"), 10, domain.FulfillmentLicenseKey)

	order, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, testutil.GetProductStock(t, db, product.ID))

	refunded, err := svc.Refund(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)

	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 10, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypeRefund))
	assertLedgerInvariant(t, db, buyer.ID)

	_, err = svc.Refund(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotRefundable)

	var refundNote bool
	for _, n := range notifier.forAccount(buyer.ID) {
		if n.Kind == domain.NotificationKindPayment {
			refundNote = true
		}
	}
	assert.True(t, refundNote, "buyer should get a refund notification")
}

func TestSettle_ConcurrentPurchasesNeverOverdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(500))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("100.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Settle(ctx, settlement.SettleRequest{
				AccountID: buyer.ID,
				ProductID: product.ID,
				Quantity:  1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, overdrawn int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientFunds):
			overdrawn++
		default:
			t.Fatalf("unexpected settle error: %v", err)
		}
	}

	// The balance covers exactly five purchases; the row lock serializes the
	// rest into clean rejections.
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, attempts-5, overdrawn)
	assert.True(t, testutil.GetBalance(t, db, buyer.ID).Equal(decimal.Zero))
	assert.Equal(t, 5, testutil.CountTransactions(t, db, buyer.ID, domain.TxTypePurchase))
	assertLedgerInvariant(t, db, buyer.ID)
}

func TestSettle_ConcurrentPurchasersPayOneReferrer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	referrer := testutil.SeedAccount(t, db, decimal.Zero)
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("100.00"), domain.StockUnlimited, domain.FulfillmentLicenseKey)

	const buyers = 6
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(100))
		testutil.SeedReferralLink(t, db, referrer.ID, buyer.ID, 1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Settle(ctx, settlement.SettleRequest{
				AccountID: buyer.ID,
				ProductID: product.ID,
				Quantity:  1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Six commissions of 15.00 land on one hot account.
	assert.True(t, testutil.GetBalance(t, db, referrer.ID).Equal(decimal.RequireFromString("90.00")))
	assert.Equal(t, buyers, testutil.CountTransactions(t, db, referrer.ID, domain.TxTypeReferral))
	assertLedgerInvariant(t, db, referrer.ID)
}

func TestSettle_ManualFulfillmentStaysPaid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc, _ := setupSettlement(t, db)
	ctx := context.Background()

	buyer := testutil.SeedAccount(t, db, decimal.NewFromInt(300))
	product := testutil.SeedProduct(t, db, decimal.RequireFromString("200.00"), domain.StockUnlimited, domain.FulfillmentManual)

	order, err := svc.Settle(ctx, settlement.SettleRequest{
		AccountID: buyer.ID,
		ProductID: product.ID,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, domain.OrderStatusPaid, testutil.GetOrderStatus(t, db, order.ID))
	assert.Nil(t, order.DeliveredAt)
}
