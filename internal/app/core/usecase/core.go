package usecase

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// TransferResult 轉帳的兩筆紀錄
type TransferResult struct {
	Debit  domain.TransactionRecord
	Credit domain.TransactionRecord
}

// CoreUseCase 是核心業務邏輯層 (帳務引擎)
//
// 流程: 取鎖 (帳號遞增順序) -> 讀取 -> 驗證 -> Commit (CAS) -> 放鎖 -> 送通知
type CoreUseCase struct {
	ledger   Ledger
	locker   Locker
	notifier Notifier
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewCoreUseCase 建立帳務引擎
//
// 參數:
//
//	ledger: 儲存層
//	locker: 帳戶鎖
//	notifier: 通知派送 (可為 nil)
//	logger: zap logger (可為 nil)
//	opts: 重試與分頁參數
func NewCoreUseCase(ledger Ledger, locker Locker, notifier Notifier, logger *zap.Logger, opts Options) *CoreUseCase {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoreUseCase{
		ledger:   ledger,
		locker:   locker,
		notifier: notifier,
		logger:   logger.Named("ledger"),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Deposit 存款
func (c *CoreUseCase) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.TransactionRecord, error) {
	records, err := c.PostTransaction(ctx, &domain.Transaction{
		Type:   domain.TransactionTypeDeposit,
		To:     accountID,
		Amount: amount,
	})
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return records[0], nil
}

// Withdraw 提款
func (c *CoreUseCase) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (domain.TransactionRecord, error) {
	records, err := c.PostTransaction(ctx, &domain.Transaction{
		Type:   domain.TransactionTypeWithdraw,
		From:   accountID,
		Amount: amount,
	})
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return records[0], nil
}

// Transfer 轉帳，兩筆紀錄共用同一個 CorrelationID
func (c *CoreUseCase) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (TransferResult, error) {
	records, err := c.PostTransaction(ctx, &domain.Transaction{
		Type:   domain.TransactionTypeTransfer,
		From:   fromID,
		To:     toID,
		Amount: amount,
	})
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Debit: records[0], Credit: records[1]}, nil
}

// PostTransaction 處理交易指令，回傳已提交的紀錄 (轉帳時為 debit, credit)
func (c *CoreUseCase) PostTransaction(ctx context.Context, tran *domain.Transaction) ([]domain.TransactionRecord, error) {
	if err := tran.Validate(); err != nil {
		return nil, err
	}

	stored, notices, err := c.commitLocked(ctx, tran)
	if err != nil {
		c.logger.Info("transaction rejected",
			zap.Stringer("type", tran.Type),
			zap.String("from", tran.From),
			zap.String("to", tran.To),
			zap.String("amount", tran.Amount.String()),
			zap.Error(err),
		)
		return nil, err
	}

	// 已提交，之後的失敗都不影響結果
	for _, n := range notices {
		if n.Recipient == "" {
			continue
		}
		c.notifier.Notify(n)
	}
	return stored, nil
}

func (c *CoreUseCase) commitLocked(ctx context.Context, tran *domain.Transaction) ([]domain.TransactionRecord, []domain.NotificationRequest, error) {
	unlock, err := c.locker.Lock(ctx, tran.GetLockIDs()...)
	if err != nil {
		return nil, nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer unlock()

	var (
		stored  []domain.TransactionRecord
		notices []domain.NotificationRequest
	)
	err = retryOnConflict(ctx, c.opts, c.logger, tran.Type.String(), func() error {
		uow, n, err := c.buildUnitOfWork(ctx, tran)
		if err != nil {
			return err
		}
		records, err := c.ledger.Commit(ctx, uow)
		if err != nil {
			return err
		}
		stored, notices = records, n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, notices, nil
}

// buildUnitOfWork 從最新狀態計算要寫入的內容
func (c *CoreUseCase) buildUnitOfWork(ctx context.Context, tran *domain.Transaction) (domain.UnitOfWork, []domain.NotificationRequest, error) {
	now := c.now()

	switch tran.Type {
	case domain.TransactionTypeDeposit:
		acc, err := c.ledger.GetAccount(ctx, tran.To)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		next, err := acc.Deposit(tran.Amount, now)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		uow := domain.UnitOfWork{
			Swaps:   []domain.AccountSwap{{ExpectedVersion: acc.Version, Account: next}},
			Records: []domain.TransactionRecord{newRecord(next, domain.RecordKindDeposit, tran.Amount, now)},
		}
		return uow, []domain.NotificationRequest{domain.DepositNotice(next, tran.Amount)}, nil

	case domain.TransactionTypeWithdraw:
		acc, err := c.ledger.GetAccount(ctx, tran.From)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		next, err := acc.Withdraw(tran.Amount, now)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		uow := domain.UnitOfWork{
			Swaps:   []domain.AccountSwap{{ExpectedVersion: acc.Version, Account: next}},
			Records: []domain.TransactionRecord{newRecord(next, domain.RecordKindWithdrawal, tran.Amount, now)},
		}
		return uow, []domain.NotificationRequest{domain.WithdrawNotice(next, tran.Amount)}, nil

	case domain.TransactionTypeTransfer:
		from, err := c.ledger.GetAccount(ctx, tran.From)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		to, err := c.ledger.GetAccount(ctx, tran.To)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		nextFrom, err := from.Withdraw(tran.Amount, now)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}
		nextTo, err := to.Deposit(tran.Amount, now)
		if err != nil {
			return domain.UnitOfWork{}, nil, err
		}

		correlationID := uuid.NewString()
		debit := newRecord(nextFrom, domain.RecordKindTransferDebit, tran.Amount, now)
		debit.CounterpartID, debit.CorrelationID = to.ID, correlationID
		credit := newRecord(nextTo, domain.RecordKindTransferCredit, tran.Amount, now)
		credit.CounterpartID, credit.CorrelationID = from.ID, correlationID

		uow := domain.UnitOfWork{
			Swaps: []domain.AccountSwap{
				{ExpectedVersion: from.Version, Account: nextFrom},
				{ExpectedVersion: to.Version, Account: nextTo},
			},
			Records: []domain.TransactionRecord{debit, credit},
		}
		notices := []domain.NotificationRequest{
			domain.TransferNotice(nextFrom, tran.Amount),
			domain.TransferReceivedNotice(nextTo, tran.Amount),
		}
		return uow, notices, nil
	}
	return domain.UnitOfWork{}, nil, fmt.Errorf("unknown transaction type %s", tran.Type)
}

func newRecord(after domain.Account, kind domain.RecordKind, amount decimal.Decimal, now time.Time) domain.TransactionRecord {
	return domain.TransactionRecord{
		AccountID:    after.ID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after.Balance,
		CreatedAt:    now,
	}
}

// GetAccountBalance 取得帳戶餘額
func (c *CoreUseCase) GetAccountBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := c.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// History 依提交順序逐頁讀取帳戶的交易紀錄。
// 每次 range 都從頭開始；帳戶不存在時第一個元素即為 domain.ErrNotFound
func (c *CoreUseCase) History(ctx context.Context, accountID string) iter.Seq2[domain.TransactionRecord, error] {
	pageSize := c.opts.HistoryPageSize
	return func(yield func(domain.TransactionRecord, error) bool) {
		if _, err := c.ledger.GetAccount(ctx, accountID); err != nil {
			yield(domain.TransactionRecord{}, err)
			return
		}

		var after int64
		for {
			page, err := c.ledger.ListTransactions(ctx, accountID, after, pageSize)
			if err != nil {
				yield(domain.TransactionRecord{}, fmt.Errorf("list transactions: %w", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.Sequence
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

type discardNotifier struct{}

func (discardNotifier) Notify(domain.NotificationRequest) {}
