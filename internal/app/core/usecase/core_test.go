package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []domain.NotificationRequest
}

func (n *recordingNotifier) Notify(req domain.NotificationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
}

func (n *recordingNotifier) all() []domain.NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationRequest(nil), n.reqs...)
}

// conflictingLedger 前 n 次 Commit 回傳版本衝突
type conflictingLedger struct {
	usecase.Ledger
	conflicts atomic.Int32
	commits   atomic.Int32
}

func (l *conflictingLedger) Commit(ctx context.Context, uow domain.UnitOfWork) ([]domain.TransactionRecord, error) {
	l.commits.Add(1)
	if l.conflicts.Add(-1) >= 0 {
		return nil, domain.ErrVersionMismatch
	}
	return l.Ledger.Commit(ctx, uow)
}

type fixture struct {
	ledger   *memory.MutexLedger
	core     *usecase.CoreUseCase
	accounts *usecase.AccountUseCase
	notifier *recordingNotifier
}

func testOptions() usecase.Options {
	return usecase.Options{
		MaxRetries:      5,
		RetryBaseDelay:  time.Microsecond,
		RetryMaxDelay:   time.Millisecond,
		HistoryPageSize: 2,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger, err := memory.NewMutexLedger(nil)
	require.NoError(t, err)
	locker := memory.NewKeyedLocker()
	notifier := &recordingNotifier{}
	return &fixture{
		ledger:   ledger,
		core:     usecase.NewCoreUseCase(ledger, locker, notifier, zap.NewNop(), testOptions()),
		accounts: usecase.NewAccountUseCase(ledger, locker, zap.NewNop(), testOptions()),
		notifier: notifier,
	}
}

func (f *fixture) open(t *testing.T, balance string) domain.Account {
	t.Helper()
	acc, err := f.accounts.CreateAccount(context.Background(), domain.Profile{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
	}, dec(balance))
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.core.GetAccountBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) history(t *testing.T, id string) []domain.TransactionRecord {
	t.Helper()
	var out []domain.TransactionRecord
	for rec, err := range f.core.History(context.Background(), id) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")

	rec, err := f.core.Deposit(context.Background(), a.ID, dec("50"))
	require.NoError(t, err)

	assertBalance(t, "150", f.balance(t, a.ID))
	assert.Equal(t, domain.RecordKindDeposit, rec.Kind)
	assert.Equal(t, a.ID, rec.AccountID)
	assertBalance(t, "50", rec.Amount)
	assertBalance(t, "150", rec.BalanceAfter)
	assert.NotEmpty(t, rec.ID)
	assert.Len(t, f.history(t, a.ID), 1)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")

	rec, err := f.core.Withdraw(context.Background(), a.ID, dec("30"))
	require.NoError(t, err)
	assertBalance(t, "70", f.balance(t, a.ID))
	assert.Equal(t, domain.RecordKindWithdrawal, rec.Kind)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")

	_, err := f.core.Withdraw(context.Background(), a.ID, dec("150"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assertBalance(t, "100", f.balance(t, a.ID))
	assert.Empty(t, f.history(t, a.ID))
	assert.Empty(t, f.notifier.all())
}

func TestWithdraw_ExactBalanceLeavesZero(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")

	_, err := f.core.Withdraw(context.Background(), a.ID, dec("100"))
	require.NoError(t, err)
	assertBalance(t, "0", f.balance(t, a.ID))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")
	b := f.open(t, "0")

	res, err := f.core.Transfer(context.Background(), a.ID, b.ID, dec("40"))
	require.NoError(t, err)

	assertBalance(t, "60", f.balance(t, a.ID))
	assertBalance(t, "40", f.balance(t, b.ID))

	assert.Equal(t, domain.RecordKindTransferDebit, res.Debit.Kind)
	assert.Equal(t, domain.RecordKindTransferCredit, res.Credit.Kind)
	assert.Equal(t, b.ID, res.Debit.CounterpartID)
	assert.Equal(t, a.ID, res.Credit.CounterpartID)
	assert.NotEmpty(t, res.Debit.CorrelationID)
	assert.Equal(t, res.Debit.CorrelationID, res.Credit.CorrelationID)

	require.Len(t, f.history(t, a.ID), 1)
	require.Len(t, f.history(t, b.ID), 1)

	notices := f.notifier.all()
	require.Len(t, notices, 2)
	assert.Equal(t, "Transfer Transaction", notices[0].Subject)
	assert.Equal(t, "Transfer Received", notices[1].Subject)
}

func TestTransfer_InsufficientFundsLeavesBothUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "10")
	b := f.open(t, "5")

	_, err := f.core.Transfer(context.Background(), a.ID, b.ID, dec("11"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assertBalance(t, "10", f.balance(t, a.ID))
	assertBalance(t, "5", f.balance(t, b.ID))
	assert.Empty(t, f.history(t, a.ID))
	assert.Empty(t, f.history(t, b.ID))
}

func TestTransfer_SameAccount(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "10")

	_, err := f.core.Transfer(context.Background(), a.ID, a.ID, dec("1"))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, domain.CategoryInvalidRequest, domain.CategoryOf(err))
}

func TestTransfer_MissingAccount(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "10")

	_, err := f.core.Transfer(context.Background(), a.ID, "ghost", dec("1"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assertBalance(t, "10", f.balance(t, a.ID))
}

func TestInvalidAmounts(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "10")
	b := f.open(t, "10")
	ctx := context.Background()

	for _, amount := range []string{"0", "-5", "0.00001", "1e40"} {
		t.Run(amount, func(t *testing.T) {
			_, err := f.core.Deposit(ctx, a.ID, dec(amount))
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			_, err = f.core.Withdraw(ctx, a.ID, dec(amount))
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			_, err = f.core.Transfer(ctx, a.ID, b.ID, dec(amount))
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		})
	}
	assertBalance(t, "10", f.balance(t, a.ID))
	assert.Empty(t, f.history(t, a.ID))
}

func TestDeposit_BalanceOverflowLeavesAccountUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, domain.MaxAmount.String())

	_, err := f.core.Deposit(context.Background(), a.ID, dec("1"))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assertBalance(t, domain.MaxAmount.String(), f.balance(t, a.ID))
	assert.Empty(t, f.history(t, a.ID))
	assert.Empty(t, f.notifier.all())

	_, err = f.accounts.CreateAccount(context.Background(), domain.Profile{FirstName: "Big", LastName: "Opening"}, dec("1e40"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDeposit_MissingAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.core.Deposit(context.Background(), "ghost", dec("1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeposit_NotificationContent(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "0")

	_, err := f.core.Deposit(context.Background(), a.ID, dec("12.5"))
	require.NoError(t, err)

	notices := f.notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "ada@example.com", notices[0].Recipient)
	assert.Equal(t, "Saving Transaction", notices[0].Subject)
	assert.Equal(t,
		"Dear Ada Lovelace, Your saving of 12.5000 on your account "+a.ID+" has been Completed Successfully.",
		notices[0].Body)
}

func TestNoRecipientSkipsNotification(t *testing.T) {
	f := newFixture(t)
	acc, err := f.accounts.CreateAccount(context.Background(), domain.Profile{FirstName: "No", LastName: "Mail"}, dec("0"))
	require.NoError(t, err)

	_, err = f.core.Deposit(context.Background(), acc.ID, dec("1"))
	require.NoError(t, err)
	assert.Empty(t, f.notifier.all())
}

func TestRetryOnVersionConflict(t *testing.T) {
	ledger, err := memory.NewMutexLedger(nil)
	require.NoError(t, err)
	conflicting := &conflictingLedger{Ledger: ledger}
	conflicting.conflicts.Store(2)

	locker := memory.NewKeyedLocker()
	accounts := usecase.NewAccountUseCase(ledger, locker, nil, testOptions())
	core := usecase.NewCoreUseCase(conflicting, locker, nil, nil, testOptions())

	acc, err := accounts.CreateAccount(context.Background(), domain.Profile{FirstName: "A", LastName: "B"}, dec("0"))
	require.NoError(t, err)

	_, err = core.Deposit(context.Background(), acc.ID, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), conflicting.commits.Load())

	got, err := core.GetAccountBalance(context.Background(), acc.ID)
	require.NoError(t, err)
	assertBalance(t, "5", got)
}

func TestRetryExhausted(t *testing.T) {
	ledger, err := memory.NewMutexLedger(nil)
	require.NoError(t, err)
	conflicting := &conflictingLedger{Ledger: ledger}
	conflicting.conflicts.Store(100)

	locker := memory.NewKeyedLocker()
	accounts := usecase.NewAccountUseCase(ledger, locker, nil, testOptions())
	core := usecase.NewCoreUseCase(conflicting, locker, nil, nil, testOptions())

	acc, err := accounts.CreateAccount(context.Background(), domain.Profile{FirstName: "A", LastName: "B"}, dec("10"))
	require.NoError(t, err)

	_, err = core.Withdraw(context.Background(), acc.ID, dec("5"))
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, domain.CategoryRetryable, domain.CategoryOf(err))
	assert.Equal(t, int32(testOptions().MaxRetries), conflicting.commits.Load())

	got, err := core.GetAccountBalance(context.Background(), acc.ID)
	require.NoError(t, err)
	assertBalance(t, "10", got)
}

func TestCancelledBeforeLock(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.core.Deposit(ctx, a.ID, dec("1"))
	require.ErrorIs(t, err, context.Canceled)
	assertBalance(t, "10", f.balance(t, a.ID))
}

func TestConcurrentDeposits(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "0")

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.core.Deposit(context.Background(), a.ID, dec("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertBalance(t, "100", f.balance(t, a.ID))
	assert.Len(t, f.history(t, a.ID), 100)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.core.Withdraw(context.Background(), a.ID, dec("80"))
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assertBalance(t, "20", f.balance(t, a.ID))
	assert.Len(t, f.history(t, a.ID), 1)
}

func TestOpposingTransfersConserveTotal(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "100")
	b := f.open(t, "100")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := a.ID, b.ID
			if i%2 == 1 {
				from, to = b.ID, a.ID
			}
			_, err := f.core.Transfer(ctx, from, to, dec("3"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	total := f.balance(t, a.ID).Add(f.balance(t, b.ID))
	assertBalance(t, "200", total)
	assert.False(t, f.balance(t, a.ID).IsNegative())
	assert.False(t, f.balance(t, b.ID).IsNegative())

	// 每筆轉帳兩邊各一筆，且以 CorrelationID 配對
	debits := map[string]domain.TransactionRecord{}
	for _, id := range []string{a.ID, b.ID} {
		for _, rec := range f.history(t, id) {
			if rec.Kind == domain.RecordKindTransferDebit {
				debits[rec.CorrelationID] = rec
			}
		}
	}
	for _, id := range []string{a.ID, b.ID} {
		for _, rec := range f.history(t, id) {
			if rec.Kind == domain.RecordKindTransferCredit {
				debit, ok := debits[rec.CorrelationID]
				require.True(t, ok)
				assert.Equal(t, rec.AccountID, debit.CounterpartID)
				delete(debits, rec.CorrelationID)
			}
		}
	}
	assert.Empty(t, debits)
}

func TestBalanceEqualsReplayedHistory(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "0")
	b := f.open(t, "0")
	ctx := context.Background()

	_, err := f.core.Deposit(ctx, a.ID, dec("100"))
	require.NoError(t, err)
	_, err = f.core.Withdraw(ctx, a.ID, dec("30.25"))
	require.NoError(t, err)
	_, err = f.core.Transfer(ctx, a.ID, b.ID, dec("20"))
	require.NoError(t, err)
	_, err = f.core.Transfer(ctx, b.ID, a.ID, dec("5.5"))
	require.NoError(t, err)
	_, err = f.core.Withdraw(ctx, b.ID, dec("100"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	for _, id := range []string{a.ID, b.ID} {
		sum := decimal.Zero
		for _, rec := range f.history(t, id) {
			switch rec.Kind {
			case domain.RecordKindDeposit, domain.RecordKindTransferCredit:
				sum = sum.Add(rec.Amount)
			case domain.RecordKindWithdrawal, domain.RecordKindTransferDebit:
				sum = sum.Sub(rec.Amount)
			}
			assertBalance(t, sum.String(), rec.BalanceAfter)
		}
		assertBalance(t, sum.String(), f.balance(t, id))
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "0")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := f.core.Deposit(ctx, a.ID, decimal.NewFromInt(int64(i)))
		require.NoError(t, err)
	}

	// 頁大小為 2，需要跨頁
	records := f.history(t, a.ID)
	require.Len(t, records, 5)
	for i, rec := range records {
		assertBalance(t, decimal.NewFromInt(int64(i+1)).String(), rec.Amount)
		if i > 0 {
			assert.Greater(t, rec.Sequence, records[i-1].Sequence)
			assert.False(t, rec.CreatedAt.Before(records[i-1].CreatedAt))
		}
	}

	// 可以重新開始
	assert.Equal(t, records, f.history(t, a.ID))

	// 提早結束
	count := 0
	for range f.core.History(ctx, a.ID) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestHistory_MissingAccount(t *testing.T) {
	f := newFixture(t)

	var errs []error
	for _, err := range f.core.History(context.Background(), "ghost") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrNotFound)
}

func TestHistory_EmptyAccount(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "5")
	assert.Empty(t, f.history(t, a.ID))
}
