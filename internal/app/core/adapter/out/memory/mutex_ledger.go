package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// WAL 操作種類
const (
	opCreate = "create"
	opDelete = "delete"
	opCommit = "commit"
)

// walEntry 一筆 WAL 紀錄，Commit 時寫入的是已分配好 ID/Sequence 的最終狀態
type walEntry struct {
	Op        string                     `json:"op"`
	Account   *domain.Account            `json:"account,omitempty"`
	AccountID string                     `json:"account_id,omitempty"`
	Swaps     []domain.AccountSwap       `json:"swaps,omitempty"`
	Records   []domain.TransactionRecord `json:"records,omitempty"`
}

// MutexLedger 是一個使用 Mutex 實現的帳本
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	records: 所有交易紀錄，index = Sequence - 1
//	byAccount: 帳戶 ID 對應的 Sequence 清單 (遞增)
//	mu: 保護以上資料
//	wal: Write-Ahead Log 實例 (可為 nil，純記憶體)
type MutexLedger struct {
	accounts  map[string]domain.Account
	records   []domain.TransactionRecord
	byAccount map[string][]int64
	// 最後一筆紀錄時間，確保時間不倒退
	lastCreatedAt time.Time
	mu            sync.RWMutex
	// Write-Ahead Logging
	wal *wal.WAL
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	wal: Write-Ahead Log 實例，nil 表示不落地
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(w *wal.WAL) (*MutexLedger, error) {
	ledger := &MutexLedger{
		accounts:  make(map[string]domain.Account),
		byAccount: make(map[string][]int64),
		wal:       w,
	}
	if w != nil {
		if err := ledger.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return ledger, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewMutexLedger 呼叫，無需 Lock (單執行緒)
func (m *MutexLedger) recoverFromWAL() error {
	return m.wal.ReadAll(func(jsonRaw []byte) error {
		var entry walEntry
		if err := json.Unmarshal(jsonRaw, &entry); err != nil {
			return err
		}
		return m.apply(&entry)
	})
}

// apply 套用一筆已驗證過的紀錄 (不寫入 WAL)
func (m *MutexLedger) apply(entry *walEntry) error {
	switch entry.Op {
	case opCreate:
		if entry.Account == nil {
			return fmt.Errorf("wal create entry without account")
		}
		m.accounts[entry.Account.ID] = *entry.Account
	case opDelete:
		delete(m.accounts, entry.AccountID)
	case opCommit:
		for _, swap := range entry.Swaps {
			m.accounts[swap.Account.ID] = swap.Account
		}
		for _, rec := range entry.Records {
			if rec.Sequence != int64(len(m.records))+1 {
				return fmt.Errorf("wal sequence gap: got %d, want %d", rec.Sequence, len(m.records)+1)
			}
			m.records = append(m.records, rec)
			m.byAccount[rec.AccountID] = append(m.byAccount[rec.AccountID], rec.Sequence)
			m.lastCreatedAt = rec.CreatedAt
		}
	default:
		return fmt.Errorf("unknown wal op %q", entry.Op)
	}
	return nil
}

// persist 先寫 WAL 再套用到記憶體 (Critical Path)
func (m *MutexLedger) persist(entry *walEntry) error {
	if m.wal != nil {
		if err := m.wal.Write(entry); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}
	return m.apply(entry)
}

// GetAccount 取得帳戶
func (m *MutexLedger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acc, nil
}

// ListAccounts 依建立時間排序
func (m *MutexLedger) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// CreateAccount 新增帳戶
func (m *MutexLedger) CreateAccount(ctx context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	return m.persist(&walEntry{Op: opCreate, Account: &account})
}

// DeleteAccount 刪除帳戶，有交易紀錄時拒絕
func (m *MutexLedger) DeleteAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return domain.ErrNotFound
	}
	if len(m.byAccount[accountID]) > 0 {
		return domain.ErrHasHistory
	}
	return m.persist(&walEntry{Op: opDelete, AccountID: accountID})
}

// ExistsForAccount 是否有任何交易紀錄
func (m *MutexLedger) ExistsForAccount(ctx context.Context, accountID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byAccount[accountID]) > 0, nil
}

// ListTransactions 分頁讀取交易紀錄
//
// 參數:
//
//	accountID: 帳戶 ID
//	afterSequence: 游標，只回傳 Sequence 大於此值的紀錄
//	limit: 最多筆數
func (m *MutexLedger) ListTransactions(ctx context.Context, accountID string, afterSequence int64, limit int) ([]domain.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seqs := m.byAccount[accountID]
	start := sort.Search(len(seqs), func(i int) bool { return seqs[i] > afterSequence })
	end := len(seqs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]domain.TransactionRecord, 0, end-start)
	for _, seq := range seqs[start:end] {
		out = append(out, m.records[seq-1])
	}
	return out, nil
}

// Commit 以 compare-and-swap 提交帳戶狀態並追加紀錄
func (m *MutexLedger) Commit(ctx context.Context, uow domain.UnitOfWork) ([]domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. 驗證全部 swap，任何一筆不符就整批放棄
	for _, swap := range uow.Swaps {
		current, ok := m.accounts[swap.Account.ID]
		if !ok || current.Version != swap.ExpectedVersion {
			return nil, domain.ErrVersionMismatch
		}
	}
	for _, rec := range uow.Records {
		if !rec.Kind.Valid() {
			return nil, fmt.Errorf("unknown record kind %q", rec.Kind)
		}
		if _, ok := m.accounts[rec.AccountID]; !ok {
			return nil, domain.ErrNotFound
		}
	}

	// 2. 分配 ID / Sequence / 時間
	records := make([]domain.TransactionRecord, len(uow.Records))
	next := int64(len(m.records))
	createdAt := m.lastCreatedAt
	for i, rec := range uow.Records {
		next++
		rec.Sequence = next
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.Before(createdAt) {
			rec.CreatedAt = createdAt
		}
		createdAt = rec.CreatedAt
		records[i] = rec
	}

	// 3. 寫入 WAL 再更新記憶體
	if err := m.persist(&walEntry{Op: opCommit, Swaps: uow.Swaps, Records: records}); err != nil {
		return nil, err
	}
	return slices.Clone(records), nil
}

var _ usecase.Ledger = (*MutexLedger)(nil)
