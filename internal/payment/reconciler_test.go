package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blues/svs/internal/database"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return ledger.NewLedger(db)
}

// fakeVerifier 可编程的处理商查证器
type fakeVerifier struct {
	state  VerifyState
	amount int64
	calls  atomic.Int32
}

func (f *fakeVerifier) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	f.calls.Add(1)
	return &VerifyResult{Reference: reference, State: f.state, Amount: f.amount}, nil
}

func TestResolveDepositCreditsOnce(t *testing.T) {
	l := setupLedger(t)
	verifier := &fakeVerifier{state: VerifyStateSuccessful}
	rec := NewReconciler(l, verifier)

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	status, err := rec.ResolveDeposit(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusSuccessful, status)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)

	// Already terminal: returned unchanged without asking the processor again
	status, err = rec.ResolveDeposit(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusSuccessful, status)
	require.Equal(t, int32(1), verifier.calls.Load())

	balance, err = l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)
}

func TestResolveDepositCreditsProcessorVerifiedAmount(t *testing.T) {
	l := setupLedger(t)
	verifier := &fakeVerifier{state: VerifyStateSuccessful, amount: 100}
	rec := NewReconciler(l, verifier)

	// User paid 100 at the processor but declared an inflated amount here
	_, err := l.InitiateDeposit("user-1", 1000000, "ref-1")
	require.NoError(t, err)

	status, err := rec.ResolveDeposit(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusSuccessful, status)

	// Only the verified amount lands on the wallet
	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	txn, err := l.FindDeposit("ref-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), txn.Amount)
}

func TestResolveDepositConcurrentCallers(t *testing.T) {
	l := setupLedger(t)
	verifier := &fakeVerifier{state: VerifyStateSuccessful}
	rec := NewReconciler(l, verifier)

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	// Webhook and user-triggered poll arriving near-simultaneously
	const callers = 4
	statuses := make([]model.TransactionStatus, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], errs[i] = rec.ResolveDeposit(context.Background(), "ref-1")
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		require.Equal(t, model.TransactionStatusSuccessful, statuses[i])
	}

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)
}

func TestResolveDepositStillPending(t *testing.T) {
	l := setupLedger(t)
	verifier := &fakeVerifier{state: VerifyStatePending}
	rec := NewReconciler(l, verifier)

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	// Processor not definitive yet: no transition, no credit
	status, err := rec.ResolveDeposit(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusPending, status)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestResolveDepositFailed(t *testing.T) {
	l := setupLedger(t)
	verifier := &fakeVerifier{state: VerifyStateFailed}
	rec := NewReconciler(l, verifier)

	_, err := l.InitiateDeposit("user-1", 2500, "ref-1")
	require.NoError(t, err)

	status, err := rec.ResolveDeposit(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusFailed, status)

	balance, err := l.Balance("user-1")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestResolveDepositUnknownReference(t *testing.T) {
	l := setupLedger(t)
	rec := NewReconciler(l, &fakeVerifier{state: VerifyStateSuccessful})

	_, err := rec.ResolveDeposit(context.Background(), "ghost")
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}
