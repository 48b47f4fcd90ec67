package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount 金額不合法 (非正數或超過小數位數)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrSameAccount 轉出與轉入為同一帳戶，歸類為金額不合法
	ErrSameAccount = fmt.Errorf("%w: source and destination are the same account", ErrInvalidAmount)

	// ErrInvalidProfile 帳戶資料不合法
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrNotFound 找不到帳戶
	ErrNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrHasHistory 帳戶已有交易紀錄，不可刪除
	ErrHasHistory = errors.New("account has transaction history")

	// ErrConcurrentModification 重試次數用盡仍無法提交
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrVersionMismatch 儲存層 CAS 失敗，由引擎重試，不會直接回給呼叫端
	ErrVersionMismatch = errors.New("account version mismatch")

	// ErrNotificationFailure 通知送出失敗，只記錄 log
	ErrNotificationFailure = errors.New("notification failure")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// Category 是對外穩定的錯誤分類
type Category string

const (
	CategoryInvalidRequest Category = "invalid_request"
	CategoryNotFound       Category = "not_found"
	CategoryStateConflict  Category = "state_conflict"
	CategoryRetryable      Category = "retryable"
	CategoryInternal       Category = "internal"
)

// 錯誤原因代碼，同一分類下仍可區分
const (
	ReasonInvalidAmount          = "INVALID_AMOUNT"
	ReasonInvalidProfile         = "INVALID_PROFILE"
	ReasonNotFound               = "NOT_FOUND"
	ReasonAccountExists          = "ACCOUNT_EXISTS"
	ReasonInsufficientFunds      = "INSUFFICIENT_FUNDS"
	ReasonHasHistory             = "HAS_HISTORY"
	ReasonConcurrentModification = "CONCURRENT_MODIFICATION"
)

var reasons = []struct {
	err      error
	reason   string
	category Category
}{
	{ErrInvalidAmount, ReasonInvalidAmount, CategoryInvalidRequest},
	{ErrInvalidProfile, ReasonInvalidProfile, CategoryInvalidRequest},
	{ErrNotFound, ReasonNotFound, CategoryNotFound},
	{ErrAccountAlreadyExists, ReasonAccountExists, CategoryStateConflict},
	{ErrInsufficientFunds, ReasonInsufficientFunds, CategoryStateConflict},
	{ErrHasHistory, ReasonHasHistory, CategoryStateConflict},
	{ErrConcurrentModification, ReasonConcurrentModification, CategoryRetryable},
}

// CategoryOf 回傳錯誤所屬分類，未知錯誤一律視為 internal
func CategoryOf(err error) Category {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.category
		}
	}
	return CategoryInternal
}

// ReasonOf 回傳錯誤原因代碼，未知錯誤回傳空字串
func ReasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// ErrorForReason 由原因代碼還原 sentinel error (gRPC client 端使用)
func ErrorForReason(reason string) (error, bool) {
	for _, r := range reasons {
		if r.reason == reason {
			return r.err, true
		}
	}
	return nil, false
}
