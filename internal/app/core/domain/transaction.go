package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType 交易指令類型
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("TransactionType(%d)", uint8(t))
	}
}

// Transaction 交易指令 (尚未提交)
type Transaction struct {
	// From, To: 帳戶 ID，存款只有 To，提款只有 From
	From   string
	To     string
	Amount decimal.Decimal
	Type   TransactionType
}

// Validate 在取得鎖之前先做的靜態檢查
func (t *Transaction) Validate() error {
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	switch t.Type {
	case TransactionTypeDeposit:
		if t.To == "" {
			return fmt.Errorf("%w: empty account id", ErrNotFound)
		}
	case TransactionTypeWithdraw:
		if t.From == "" {
			return fmt.Errorf("%w: empty account id", ErrNotFound)
		}
	case TransactionTypeTransfer:
		if t.From == "" || t.To == "" {
			return fmt.Errorf("%w: empty account id", ErrNotFound)
		}
		if t.From == t.To {
			return ErrSameAccount
		}
	default:
		return fmt.Errorf("unknown transaction type %s", t.Type)
	}
	return nil
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保順序以避免死鎖
func (t *Transaction) GetLockIDs() []string {
	switch t.Type {
	case TransactionTypeTransfer:
		return LockOrder(t.From, t.To)
	case TransactionTypeDeposit:
		return LockOrder(t.To)
	case TransactionTypeWithdraw:
		return LockOrder(t.From)
	}
	return nil
}

// LockOrder 排序並去重，所有取鎖的地方都必須用同一個順序
func LockOrder(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// RecordKind 交易紀錄種類
type RecordKind string

const (
	RecordKindDeposit        RecordKind = "deposit"
	RecordKindWithdrawal     RecordKind = "withdrawal"
	RecordKindTransferDebit  RecordKind = "transfer_debit"
	RecordKindTransferCredit RecordKind = "transfer_credit"
)

// Valid 是否為已知種類
func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindDeposit, RecordKindWithdrawal, RecordKindTransferDebit, RecordKindTransferCredit:
		return true
	}
	return false
}

// TransactionRecord 已提交的交易紀錄，寫入後不可變
type TransactionRecord struct {
	// Sequence: 由儲存層分配，依提交順序嚴格遞增，作為歷史查詢的游標
	Sequence int64 `json:"sequence"`
	// ID: 由儲存層分配
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Kind      RecordKind `json:"kind"`
	// Amount: 永遠為正數，方向由 Kind 決定
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	// 只有轉帳才有
	CounterpartID string    `json:"counterpart_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AccountSwap 一筆 compare-and-swap：目前版本必須等於 ExpectedVersion 才寫入 Account
type AccountSwap struct {
	ExpectedVersion int64   `json:"expected_version"`
	Account         Account `json:"account"`
}

// UnitOfWork 必須整批成功或整批失敗的寫入
type UnitOfWork struct {
	Swaps   []AccountSwap       `json:"swaps"`
	Records []TransactionRecord `json:"records"`
}
