package ledger_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/testutil"
)

func setupLedger(t *testing.T, db *sql.DB) *ledger.Service {
	t.Helper()
	accounts := repository.NewAccountRepository(db)
	txs := repository.NewTransactionRepository(db)
	rewards := config.Rewards{
		ReferralPercent: 15,
		ReferralLevels:  3,
		SignupBonus:     decimal.NewFromInt(100),
		WelcomeBonus:    decimal.NewFromInt(50),
		MinWithdraw:     decimal.NewFromInt(500),
	}
	return ledger.NewService(db, accounts, txs, rewards)
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		require.NoError(t, tx.Rollback())
		return err
	}
	require.NoError(t, tx.Commit())
	return nil
}

func TestCreditAndDebit_KeepBalanceEqualToLedgerSum(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.Zero)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := svc.Credit(ctx, tx, acct.ID, decimal.RequireFromString("250.00"),
			domain.TxTypeDeposit, "Пополнение", nil)
		return err
	})
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := svc.Debit(ctx, tx, acct.ID, decimal.RequireFromString("99.90"),
			"Покупка: тест", nil)
		return err
	})
	require.NoError(t, err)

	balance := testutil.GetBalance(t, db, acct.ID)
	assert.True(t, balance.Equal(decimal.RequireFromString("150.10")))
	assert.True(t, balance.Equal(testutil.SumCompletedTransactions(t, db, acct.ID)))
}

func TestDebit_InsufficientFundsMutatesNothing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.NewFromInt(10))

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := svc.Debit(ctx, tx, acct.ID, decimal.NewFromInt(11), "Покупка", nil)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, testutil.GetBalance(t, db, acct.ID).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, acct.ID, domain.TxTypePurchase))
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.NewFromInt(100))

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := svc.Debit(ctx, tx, acct.ID, decimal.Zero, "Покупка", nil)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDeposit_CreditsAndRecordsProviderRef(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.Zero)

	txn, err := svc.Deposit(ctx, acct.ID, decimal.RequireFromString("300.00"), "manual:42")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeDeposit, txn.Type)
	assert.Equal(t, domain.TxStatusCompleted, txn.Status)

	assert.True(t, testutil.GetBalance(t, db, acct.ID).Equal(decimal.RequireFromString("300.00")))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, acct.ID, domain.TxTypeDeposit))
}

func TestWithdraw_EnforcesMinimumThenDebits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.NewFromInt(1000))

	_, err := svc.Withdraw(ctx, acct.ID, decimal.NewFromInt(499))
	require.ErrorIs(t, err, domain.ErrWithdrawBelowMinimum)
	assert.True(t, testutil.GetBalance(t, db, acct.ID).Equal(decimal.NewFromInt(1000)))

	txn, err := svc.Withdraw(ctx, acct.ID, decimal.NewFromInt(600))
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeWithdraw, txn.Type)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(-600)))

	balance := testutil.GetBalance(t, db, acct.ID)
	assert.True(t, balance.Equal(decimal.NewFromInt(400)))
	assert.True(t, balance.Equal(testutil.SumCompletedTransactions(t, db, acct.ID)))

	_, err = svc.Withdraw(ctx, acct.ID, decimal.NewFromInt(600))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestDeposit_ConcurrentCreditsAllLand(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.Zero)

	const deposits = 20
	var wg sync.WaitGroup
	errs := make(chan error, deposits)
	for i := 0; i < deposits; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Deposit(ctx, acct.ID, decimal.NewFromInt(10), fmt.Sprintf("concurrent:%d", n))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	balance := testutil.GetBalance(t, db, acct.ID)
	assert.True(t, balance.Equal(decimal.NewFromInt(200)))
	assert.True(t, balance.Equal(testutil.SumCompletedTransactions(t, db, acct.ID)))
	assert.Equal(t, deposits, testutil.CountTransactions(t, db, acct.ID, domain.TxTypeDeposit))
}

func TestCredit_ReferralIncomeCountsTowardsEarned(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, decimal.Zero)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := svc.Credit(ctx, tx, acct.ID, decimal.RequireFromString("22.50"),
			domain.TxTypeReferral, "Реферальный бонус", nil)
		return err
	})
	require.NoError(t, err)

	var earned string
	require.NoError(t, db.QueryRow(
		`SELECT total_earned FROM accounts WHERE id = $1`, acct.ID).Scan(&earned))
	assert.True(t, decimal.RequireFromString(earned).Equal(decimal.RequireFromString("22.50")))
}
