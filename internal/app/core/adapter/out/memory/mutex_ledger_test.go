package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func newAccount(id string, balance string) domain.Account {
	return domain.NewAccount(id, domain.Profile{FirstName: "Ada", LastName: "Lovelace"}, decimal.RequireFromString(balance), time.Now())
}

func deposit(acc domain.Account, amount string) domain.UnitOfWork {
	next, _ := acc.Deposit(decimal.RequireFromString(amount), time.Now())
	return domain.UnitOfWork{
		Swaps: []domain.AccountSwap{{ExpectedVersion: acc.Version, Account: next}},
		Records: []domain.TransactionRecord{{
			AccountID:    acc.ID,
			Kind:         domain.RecordKindDeposit,
			Amount:       decimal.RequireFromString(amount),
			BalanceAfter: next.Balance,
			CreatedAt:    time.Now(),
		}},
	}
}

func TestMutexLedger_CommitAssignsSequence(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewMutexLedger(nil)
	require.NoError(t, err)

	acc := newAccount("a", "0")
	require.NoError(t, ledger.CreateAccount(ctx, acc))

	stored, err := ledger.Commit(ctx, deposit(acc, "10"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1), stored[0].Sequence)
	assert.NotEmpty(t, stored[0].ID)

	got, err := ledger.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, acc.Version+1, got.Version)
}

func TestMutexLedger_CommitVersionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewMutexLedger(nil)
	require.NoError(t, err)

	a, b := newAccount("a", "5"), newAccount("b", "5")
	require.NoError(t, ledger.CreateAccount(ctx, a))
	require.NoError(t, ledger.CreateAccount(ctx, b))

	_, err = ledger.Commit(ctx, deposit(b, "1"))
	require.NoError(t, err)

	// b 的版本已過期，a 也不能被寫入
	stale := deposit(a, "1")
	stale.Swaps = append(stale.Swaps, deposit(b, "1").Swaps...)
	_, err = ledger.Commit(ctx, stale)
	require.ErrorIs(t, err, domain.ErrVersionMismatch)

	got, err := ledger.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5)))

	exists, err := ledger.ExistsForAccount(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMutexLedger_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewMutexLedger(nil)
	require.NoError(t, err)

	require.NoError(t, ledger.CreateAccount(ctx, newAccount("a", "0")))
	assert.ErrorIs(t, ledger.CreateAccount(ctx, newAccount("a", "0")), domain.ErrAccountAlreadyExists)
}

func TestMutexLedger_GuardedDelete(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewMutexLedger(nil)
	require.NoError(t, err)

	a, b := newAccount("a", "0"), newAccount("b", "0")
	require.NoError(t, ledger.CreateAccount(ctx, a))
	require.NoError(t, ledger.CreateAccount(ctx, b))
	_, err = ledger.Commit(ctx, deposit(a, "1"))
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.DeleteAccount(ctx, "a"), domain.ErrHasHistory)
	assert.ErrorIs(t, ledger.DeleteAccount(ctx, "missing"), domain.ErrNotFound)
	require.NoError(t, ledger.DeleteAccount(ctx, "b"))

	_, err = ledger.GetAccount(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMutexLedger_ListTransactionsPaging(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewMutexLedger(nil)
	require.NoError(t, err)

	a, b := newAccount("a", "0"), newAccount("b", "0")
	require.NoError(t, ledger.CreateAccount(ctx, a))
	require.NoError(t, ledger.CreateAccount(ctx, b))
	for range 5 {
		a, _ = ledger.GetAccount(ctx, "a")
		_, err := ledger.Commit(ctx, deposit(a, "1"))
		require.NoError(t, err)
		b, _ = ledger.GetAccount(ctx, "b")
		_, err = ledger.Commit(ctx, deposit(b, "1"))
		require.NoError(t, err)
	}

	page, err := ledger.ListTransactions(ctx, "a", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []int64{1, 3}, []int64{page[0].Sequence, page[1].Sequence})

	page, err = ledger.ListTransactions(ctx, "a", page[1].Sequence, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(9), page[2].Sequence)

	for i := 1; i < len(page); i++ {
		assert.False(t, page[i].CreatedAt.Before(page[i-1].CreatedAt))
	}
}

func TestMutexLedger_RecoverFromWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	ledger, err := NewMutexLedger(w)
	require.NoError(t, err)

	a, b := newAccount("a", "100"), newAccount("b", "0")
	require.NoError(t, ledger.CreateAccount(ctx, a))
	require.NoError(t, ledger.CreateAccount(ctx, b))
	_, err = ledger.Commit(ctx, deposit(a, "0.5"))
	require.NoError(t, err)
	require.NoError(t, ledger.DeleteAccount(ctx, "b"))
	require.NoError(t, w.Close())

	w, err = wal.NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewMutexLedger(w)
	require.NoError(t, err)

	got, err := recovered.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, int64(2), got.Version)

	_, err = recovered.GetAccount(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	records, err := recovered.ListTransactions(ctx, "a", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].Sequence)

	// 恢復後 Sequence 繼續遞增
	stored, err := recovered.Commit(ctx, deposit(got, "1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored[0].Sequence)
}

func TestMutexLedger_WALFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	ledger, err := NewMutexLedger(w)
	require.NoError(t, err)

	acc := newAccount("a", "10")
	require.NoError(t, ledger.CreateAccount(ctx, acc))
	require.NoError(t, w.Close())

	_, err = ledger.Commit(ctx, deposit(acc, "5"))
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)

	got, err := ledger.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
	has, err := ledger.ExistsForAccount(ctx, "a")
	require.NoError(t, err)
	assert.False(t, has)

	w, err = wal.NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewMutexLedger(w)
	require.NoError(t, err)
	got, err = recovered.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
}
