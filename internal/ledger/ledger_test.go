package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/blues/svs/internal/database"
	"github.com/blues/svs/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Per-test in-memory database to avoid cross-test interference
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Serialize writes so concurrent test cases exercise the CAS logic,
	// not sqlite's busy errors
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func TestCreditIsIdempotent(t *testing.T) {
	l := NewLedger(setupDB(t))

	result, err := l.Credit("user-1", 500, "key-1", model.TransactionKindRefund, nil)
	require.NoError(t, err)
	require.Equal(t, CreditSettled, result)

	// Replay with the same key is a no-op returning the existing result
	result, err = l.Credit("user-1", 500, "key-1", model.TransactionKindRefund, nil)
	require.NoError(t, err)
	require.Equal(t, CreditAlreadyApplied, result)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)

	txns, total, err := l.Transactions("user-1", 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
}

func TestCreditKeyConflictIsAnError(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.Credit("user-1", 500, "key-1", model.TransactionKindRefund, nil)
	require.NoError(t, err)

	// Same key but different amount means the key generator is broken
	_, err = l.Credit("user-1", 999, "key-1", model.TransactionKindRefund, nil)
	require.ErrorIs(t, err, ErrLedgerConflict)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}

func TestCreditSameKeyDifferentUsers(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.Credit("user-1", 100, "shared-key", model.TransactionKindRefund, nil)
	require.NoError(t, err)
	_, err = l.Credit("user-2", 100, "shared-key", model.TransactionKindRefund, nil)
	require.NoError(t, err)

	b1, _ := l.Balance("user-1")
	b2, _ := l.Balance("user-2")
	require.Equal(t, int64(100), b1)
	require.Equal(t, int64(100), b2)
}

func TestConcurrentFirstCreditsShareOneWallet(t *testing.T) {
	db := setupDB(t)
	l := NewLedger(db)

	// Two first-ever credits for the same user racing on wallet creation
	const callers = 2
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Credit("user-1", 100, fmt.Sprintf("key-%d", i), model.TransactionKindRefund, nil)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), balance)

	var wallets int64
	require.NoError(t, db.Model(&model.Wallet{}).Count(&wallets).Error)
	require.Equal(t, int64(1), wallets)
}

func TestDebitInsufficientFunds(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.Credit("user-1", 300, "topup", model.TransactionKindRefund, nil)
	require.NoError(t, err)

	err = l.Debit("user-1", 500, "attempt-1")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// No wallet at all behaves like zero balance
	err = l.Debit("ghost", 1, "attempt-2")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balance)
}

func TestDebitThenRefundRestoresBalance(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.Credit("user-1", 1000, "topup", model.TransactionKindRefund, nil)
	require.NoError(t, err)

	require.NoError(t, l.Debit("user-1", 400, "purchase:abc"))
	balance, _ := l.Balance("user-1")
	require.Equal(t, int64(600), balance)

	_, err = l.Refund("user-1", 400, "purchase:abc:reversal")
	require.NoError(t, err)
	balance, _ = l.Balance("user-1")
	require.Equal(t, int64(1000), balance)
}

func TestInitiateDepositIsIdempotent(t *testing.T) {
	l := NewLedger(setupDB(t))

	txn1, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusPending, txn1.Status)

	txn2, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)
	require.Equal(t, txn1.ID, txn2.ID)

	// Pending deposits do not touch the balance
	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestSettleDepositConcurrently(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	// Webhook and user poll racing: exactly one settlement applies
	const callers = 4
	outcomes := make([]*DepositOutcome, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = l.SettleDeposit("ref-1", true, 0)
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, outcome := range outcomes {
		require.Equal(t, model.TransactionStatusSuccessful, outcome.Status)
		if outcome.Applied {
			applied++
		}
	}
	require.Equal(t, 1, applied)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)
}

func TestSettleDepositCreditsVerifiedAmount(t *testing.T) {
	l := NewLedger(setupDB(t))

	// User declares an inflated amount at initiation
	_, err := l.InitiateDeposit("user-1", 1000000, "ref-1")
	require.NoError(t, err)

	// Processor verified a much smaller payment: credit what was actually paid
	outcome, err := l.SettleDeposit("ref-1", true, 100)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusSuccessful, outcome.Status)
	require.True(t, outcome.Applied)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	// The ledger row is corrected to the verified amount
	txn, err := l.FindDeposit("ref-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), txn.Amount)
}

func TestSettleDepositFailedDoesNotCredit(t *testing.T) {
	l := NewLedger(setupDB(t))

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	outcome, err := l.SettleDeposit("ref-1", false, 0)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusFailed, outcome.Status)
	require.True(t, outcome.Applied)

	// A later success report cannot resurrect a failed deposit
	outcome, err = l.SettleDeposit("ref-1", true, 2500)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusFailed, outcome.Status)
	require.False(t, outcome.Applied)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}
