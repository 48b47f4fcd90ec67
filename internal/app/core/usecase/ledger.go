package usecase

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountStore 帳戶儲存
type AccountStore interface {
	// GetAccount 找不到回傳 domain.ErrNotFound
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// CreateAccount ID 重複回傳 domain.ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, account domain.Account) error
	// DeleteAccount 必須在同一個儲存層交易內確認沒有交易紀錄，否則回傳 domain.ErrHasHistory
	DeleteAccount(ctx context.Context, accountID string) error
}

// TransactionLog 只能追加的交易紀錄
type TransactionLog interface {
	ExistsForAccount(ctx context.Context, accountID string) (bool, error)
	// ListTransactions 回傳 Sequence > afterSequence 的紀錄，依 Sequence 遞增，最多 limit 筆
	ListTransactions(ctx context.Context, accountID string, afterSequence int64, limit int) ([]domain.TransactionRecord, error)
}

// Committer 原子提交
type Committer interface {
	// Commit 所有 swap 與紀錄一起成功或一起失敗。
	// 任一 swap 版本不符時回傳 domain.ErrVersionMismatch，且不寫入任何東西。
	// 回傳的紀錄已填好 ID, Sequence, CreatedAt
	Commit(ctx context.Context, uow domain.UnitOfWork) ([]domain.TransactionRecord, error)
}

// Ledger 是帳務儲存層的介面 (memory / mysql / postgres)
type Ledger interface {
	AccountStore
	TransactionLog
	Committer
}

// Locker 依帳戶 ID 互斥
type Locker interface {
	// Lock 依遞增順序取得所有帳戶的鎖，ctx 取消時放棄等待。
	// 回傳的 unlock 可以重複呼叫
	Lock(ctx context.Context, accountIDs ...string) (unlock func(), err error)
}

// NotificationSink 外部通知管道
type NotificationSink interface {
	Send(ctx context.Context, req domain.NotificationRequest) error
}

// Notifier 非同步送出通知，不可阻塞呼叫端
type Notifier interface {
	Notify(req domain.NotificationRequest)
}
