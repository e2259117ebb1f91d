package referral_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalshopbot/shopbot/internal/config"
	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/repository"
	"github.com/digitalshopbot/shopbot/internal/service/account"
	"github.com/digitalshopbot/shopbot/internal/service/ledger"
	"github.com/digitalshopbot/shopbot/internal/service/referral"
	"github.com/digitalshopbot/shopbot/internal/testutil"
)

func setupSignup(t *testing.T, db *sql.DB) *account.Service {
	t.Helper()
	accounts := repository.NewAccountRepository(db)
	txs := repository.NewTransactionRepository(db)
	links := repository.NewReferralRepository(db)
	orders := repository.NewOrderRepository(db)

	rewards := config.Rewards{
		ReferralPercent: 15,
		ReferralLevels:  3,
		SignupBonus:     decimal.NewFromInt(100),
		WelcomeBonus:    decimal.NewFromInt(50),
		MinWithdraw:     decimal.NewFromInt(500),
	}
	ledgerSvc := ledger.NewService(db, accounts, txs, rewards)
	referralSvc := referral.NewService(accounts, links, orders, ledgerSvc, rewards)
	return account.NewService(db, accounts, referralSvc, ledgerSvc, rewards)
}

func signUp(t *testing.T, svc *account.Service, telegramID int64, refCode string) *account.SignupResult {
	t.Helper()
	res, err := svc.GetOrCreate(context.Background(), account.Identity{
		TelegramID: telegramID,
		Username:   "user",
		FirstName:  "Имя",
	}, refCode)
	require.NoError(t, err)
	return res
}

func TestSignup_WithCodeBuildsThreeLevelUpline(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSignup(t, db)

	grandparent := signUp(t, svc, 9001, "")
	parent := signUp(t, svc, 9002, grandparent.Account.ReferralCode)
	child := signUp(t, svc, 9003, parent.Account.ReferralCode)
	leaf := signUp(t, svc, 9004, child.Account.ReferralCode)

	require.True(t, leaf.Created)
	require.NotNil(t, leaf.Referrer)
	assert.Equal(t, child.Account.ID, leaf.Referrer.ID)
	require.NotNil(t, leaf.Account.ReferredBy)
	assert.Equal(t, child.Account.ID, *leaf.Account.ReferredBy)

	type link struct {
		referrer string
		level    int
	}
	rows, err := db.Query(
		`SELECT referrer_id, level FROM referral_links WHERE referred_id = $1 ORDER BY level`,
		leaf.Account.ID)
	require.NoError(t, err)
	defer rows.Close()

	var links []link
	for rows.Next() {
		var l link
		require.NoError(t, rows.Scan(&l.referrer, &l.level))
		links = append(links, l)
	}
	require.NoError(t, rows.Err())

	require.Len(t, links, 3)
	assert.Equal(t, link{child.Account.ID.String(), 1}, links[0])
	assert.Equal(t, link{parent.Account.ID.String(), 2}, links[1])
	assert.Equal(t, link{grandparent.Account.ID.String(), 3}, links[2])
}

func TestSignup_PaysDirectReferrerBonusOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSignup(t, db)

	referrer := signUp(t, svc, 9101, "")
	signUp(t, svc, 9102, referrer.Account.ReferralCode)

	// Welcome bonus 50 from own signup plus signup bonus 100 for the referral.
	balance := testutil.GetBalance(t, db, referrer.Account.ID)
	assert.True(t, balance.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 2, testutil.CountTransactions(t, db, referrer.Account.ID, domain.TxTypeBonus))
	assert.True(t, balance.Equal(testutil.SumCompletedTransactions(t, db, referrer.Account.ID)))

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT referrals_count FROM accounts WHERE id = $1`, referrer.Account.ID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSignup_UnknownCodeIsOrganic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSignup(t, db)

	res := signUp(t, svc, 9201, "NOSUCHCD")
	require.True(t, res.Created)
	assert.Nil(t, res.Referrer)
	assert.Nil(t, res.Account.ReferredBy)

	var linkCount int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM referral_links WHERE referred_id = $1`, res.Account.ID).Scan(&linkCount))
	assert.Equal(t, 0, linkCount)
}

func TestSignup_SecondContactIsNotASignup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSignup(t, db)

	referrer := signUp(t, svc, 9301, "")
	first := signUp(t, svc, 9302, referrer.Account.ReferralCode)
	require.True(t, first.Created)

	// /start with the code again must not re-register or re-pay.
	second := signUp(t, svc, 9302, referrer.Account.ReferralCode)
	assert.False(t, second.Created)
	assert.Equal(t, first.Account.ID, second.Account.ID)

	assert.Equal(t, 2, testutil.CountTransactions(t, db, referrer.Account.ID, domain.TxTypeBonus))
	assert.True(t, testutil.GetBalance(t, db, referrer.Account.ID).Equal(decimal.NewFromInt(150)))
}

func TestSignup_NewAccountGetsWelcomeBonus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSignup(t, db)

	res := signUp(t, svc, 9401, "")
	require.True(t, res.Created)
	assert.Len(t, res.Account.ReferralCode, 8)

	balance := testutil.GetBalance(t, db, res.Account.ID)
	assert.True(t, balance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, res.Account.ID, domain.TxTypeBonus))
}
