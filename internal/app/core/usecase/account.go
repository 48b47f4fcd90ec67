package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountUseCase 帳戶生命週期：開戶、查詢、修改資料、刪除
//
// 刪除與帳務引擎共用同一組帳戶鎖，有交易紀錄的帳戶不可刪除
type AccountUseCase struct {
	ledger Ledger
	locker Locker
	logger *zap.Logger
	opts   Options
	now    func() time.Time
	newID  func() string
}

func NewAccountUseCase(ledger Ledger, locker Locker, logger *zap.Logger, opts Options) *AccountUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountUseCase{
		ledger: ledger,
		locker: locker,
		logger: logger.Named("account"),
		opts:   opts.withDefaults(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CreateAccount 開戶，開戶金額不產生交易紀錄
func (a *AccountUseCase) CreateAccount(ctx context.Context, profile domain.Profile, openingBalance decimal.Decimal) (domain.Account, error) {
	if err := profile.Validate(); err != nil {
		return domain.Account{}, err
	}
	if err := domain.ValidateOpeningBalance(openingBalance); err != nil {
		return domain.Account{}, err
	}

	acc := domain.NewAccount(a.newID(), profile, openingBalance, a.now())
	if err := a.ledger.CreateAccount(ctx, acc); err != nil {
		return domain.Account{}, err
	}
	a.logger.Info("account created", zap.String("account_id", acc.ID))
	return acc, nil
}

func (a *AccountUseCase) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return a.ledger.GetAccount(ctx, accountID)
}

func (a *AccountUseCase) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return a.ledger.ListAccounts(ctx)
}

// UpdateProfile 只修改持有人資料，餘額維持原值
func (a *AccountUseCase) UpdateProfile(ctx context.Context, accountID string, profile domain.Profile) (domain.Account, error) {
	if err := profile.Validate(); err != nil {
		return domain.Account{}, err
	}

	unlock, err := a.locker.Lock(ctx, accountID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	var updated domain.Account
	err = retryOnConflict(ctx, a.opts, a.logger, "update_profile", func() error {
		acc, err := a.ledger.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		next := acc.WithProfile(profile, a.now())
		if _, err := a.ledger.Commit(ctx, domain.UnitOfWork{
			Swaps: []domain.AccountSwap{{ExpectedVersion: acc.Version, Account: next}},
		}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return updated, nil
}

// CanDelete 帳戶沒有任何交易紀錄時才可刪除
func (a *AccountUseCase) CanDelete(ctx context.Context, accountID string) (bool, error) {
	if _, err := a.ledger.GetAccount(ctx, accountID); err != nil {
		return false, err
	}
	exists, err := a.ledger.ExistsForAccount(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return !exists, nil
}

// DeleteAccount 刪除帳戶
//
// 回傳:
//
//	domain.ErrNotFound: 帳戶不存在
//	domain.ErrHasHistory: 已有交易紀錄
func (a *AccountUseCase) DeleteAccount(ctx context.Context, accountID string) error {
	unlock, err := a.locker.Lock(ctx, accountID)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	// 儲存層會在同一個交易內再檢查一次
	if err := a.ledger.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	a.logger.Info("account deleted", zap.String("account_id", accountID))
	return nil
}
