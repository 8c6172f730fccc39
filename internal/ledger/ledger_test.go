package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/internal/store/sqlite"
	"github.com/modelmarket/proxy-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, store.Repository, string) {
	t.Helper()

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	userID := uuid.New().String()
	now := time.Now().UTC()
	require.NoError(t, repo.Users().Create(context.Background(), &model.User{
		ID:        userID,
		Email:     userID + "@example.com",
		Name:      "Test User",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	return NewService(repo, zap.NewNop()), repo, userID
}

func TestGetBalanceNoRecord(t *testing.T) {
	svc, _, userID := newTestService(t)

	balance, err := svc.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestCreditCreatesRecordAndTransaction(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Credit(ctx, userID, 10.0, "initial grant")
	require.NoError(t, err)
	assert.Equal(t, model.TxGrant, tx.Type)
	assert.InDelta(t, 10.0, tx.Amount, 1e-9)
	assert.InDelta(t, 10.0, tx.BalanceAfter, 1e-9)

	credits, err := repo.Credits().Get(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, credits.Balance, 1e-9)
	assert.InDelta(t, 10.0, credits.TotalPurchased, 1e-9)
	assert.Zero(t, credits.TotalConsumed)
}

func TestDebitRejectsNonPositiveAmounts(t *testing.T) {
	svc, _, userID := newTestService(t)
	ctx := context.Background()

	for _, amount := range []float64{0, -1.5} {
		_, err := svc.Debit(ctx, userID, amount, "bad", nil)
		require.Error(t, err)
		assert.Equal(t, api.KindInvalidAmount, api.AsError(err).Kind)
	}

	_, err := svc.Credit(ctx, userID, -1, "bad")
	require.Error(t, err)
	assert.Equal(t, api.KindInvalidAmount, api.AsError(err).Kind)
}

func TestDebitInsufficientLeavesStateUntouched(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, userID, 1.0, "grant")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, userID, 5.0, "too much", nil)
	require.Error(t, err)
	assert.Equal(t, api.KindInsufficientCredits, api.AsError(err).Kind)

	credits, err := repo.Credits().Get(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, credits.Balance, 1e-9)
	assert.Zero(t, credits.TotalConsumed)

	txs, err := repo.Credits().ListTransactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxGrant, txs[0].Type)
}

func TestDebitAppendsDeductionWithBalanceSnapshot(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, userID, 1.0, "grant")
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, userID, 0.25, "usage: demo/model", map[string]any{"tokens_input": 100})
	require.NoError(t, err)
	assert.Equal(t, model.TxDeduction, tx.Type)
	assert.InDelta(t, -0.25, tx.Amount, 1e-9)
	assert.InDelta(t, 0.75, tx.BalanceAfter, 1e-9)
	assert.Contains(t, tx.MetaJSON, "tokens_input")

	credits, err := repo.Credits().Get(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, credits.Balance, 1e-9)
	assert.InDelta(t, 0.25, credits.TotalConsumed, 1e-9)

	// conservation: balance == purchased - consumed
	assert.InDelta(t, credits.TotalPurchased-credits.TotalConsumed, credits.Balance, 1e-9)
}

func TestDebitCanReachExactlyZero(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, userID, 0.5, "grant")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, userID, 0.5, "drain", nil)
	require.NoError(t, err)

	credits, err := repo.Credits().Get(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, credits.Balance, 1e-9)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, repo, userID := newTestService(t)
	ctx := context.Background()

	const n = 8
	const amount = 1.0

	// funds for exactly n-1 debits plus half of one more
	_, err := svc.Credit(ctx, userID, amount*(n-1)+0.5*amount, "grant")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, userID, amount, "concurrent", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, failed := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, api.KindInsufficientCredits, api.AsError(err).Kind)
			failed++
		}
	}
	assert.Equal(t, n-1, succeeded)
	assert.Equal(t, 1, failed)

	credits, err := repo.Credits().Get(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*amount, credits.Balance, 1e-9)

	txs, err := repo.Credits().ListTransactions(ctx, userID, n+1)
	require.NoError(t, err)
	// one grant plus n-1 deductions, and the ledger sum matches
	require.Len(t, txs, n)
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	assert.InDelta(t, credits.Balance, sum, 1e-9)
}
