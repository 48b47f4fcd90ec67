package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// mysqlDuplicateEntry ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID            string          `gorm:"primaryKey;size:36"`
	AccountNumber string          `gorm:"size:64;index"`
	FirstName     string          `gorm:"size:128"`
	LastName      string          `gorm:"size:128"`
	Email         string          `gorm:"size:255"`
	Mobile        string          `gorm:"size:32"`
	DateOfBirth   string          `gorm:"size:10"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Version       int64           `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime:false"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表，Seq 即 domain Sequence
type sqlTransaction struct {
	Seq           int64           `gorm:"primaryKey;autoIncrement;index:idx_transactions_account_seq,priority:2"`
	ID            string          `gorm:"size:36;uniqueIndex"`
	AccountID     string          `gorm:"size:36;not null;index:idx_transactions_account_seq,priority:1"`
	Kind          string          `gorm:"size:16;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	CounterpartID *string         `gorm:"size:36"`
	CorrelationID *string         `gorm:"size:36;index"`
	CreatedAt     time.Time       `gorm:"autoCreateTime:false"`
	Account       *sqlAccount     `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:RESTRICT"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// BeforeCreate 補上紀錄 ID
func (t *sqlTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func toSQLAccount(acc domain.Account) sqlAccount {
	return sqlAccount{
		ID:            acc.ID,
		AccountNumber: acc.Profile.AccountNumber,
		FirstName:     acc.Profile.FirstName,
		LastName:      acc.Profile.LastName,
		Email:         acc.Profile.Email,
		Mobile:        acc.Profile.Mobile,
		DateOfBirth:   acc.Profile.DateOfBirth,
		Balance:       acc.Balance,
		Version:       acc.Version,
		CreatedAt:     acc.CreatedAt.UTC(),
		UpdatedAt:     acc.UpdatedAt.UTC(),
	}
}

func (a *sqlAccount) toDomain() domain.Account {
	return domain.Account{
		ID: a.ID,
		Profile: domain.Profile{
			FirstName:     a.FirstName,
			LastName:      a.LastName,
			Email:         a.Email,
			Mobile:        a.Mobile,
			DateOfBirth:   a.DateOfBirth,
			AccountNumber: a.AccountNumber,
		},
		Balance:   a.Balance,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (t *sqlTransaction) toDomain() domain.TransactionRecord {
	rec := domain.TransactionRecord{
		Sequence:     t.Seq,
		ID:           t.ID,
		AccountID:    t.AccountID,
		Kind:         domain.RecordKind(t.Kind),
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CreatedAt,
	}
	if t.CounterpartID != nil {
		rec.CounterpartID = *t.CounterpartID
	}
	if t.CorrelationID != nil {
		rec.CorrelationID = *t.CorrelationID
	}
	return rec
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MySQLLedger 以 MySQL 為儲存層的帳本
type MySQLLedger struct {
	client *mysql.Client
}

func NewMySQLLedger(client *mysql.Client) *MySQLLedger {
	return &MySQLLedger{
		client: client,
	}
}

// Migrate 建立或更新資料表
func (ledger *MySQLLedger) Migrate(ctx context.Context) error {
	return ledger.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

func (ledger *MySQLLedger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	var row sqlAccount
	err := ledger.client.DB().WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return row.toDomain(), nil
}

func (ledger *MySQLLedger) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []sqlAccount
	if err := ledger.client.DB().WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (ledger *MySQLLedger) CreateAccount(ctx context.Context, account domain.Account) error {
	row := toSQLAccount(account)
	err := ledger.client.DB().WithContext(ctx).Create(&row).Error
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return domain.ErrAccountAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// DeleteAccount 鎖住帳戶列後確認沒有交易紀錄才刪除
func (ledger *MySQLLedger) DeleteAccount(ctx context.Context, accountID string) error {
	return ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sqlAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", accountID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		var count int64
		if err := tx.Model(&sqlTransaction{}).Where("account_id = ?", accountID).Limit(1).Count(&count).Error; err != nil {
			return fmt.Errorf("count transactions: %w", err)
		}
		if count > 0 {
			return domain.ErrHasHistory
		}
		return tx.Delete(&sqlAccount{}, "id = ?", accountID).Error
	})
}

func (ledger *MySQLLedger) ExistsForAccount(ctx context.Context, accountID string) (bool, error) {
	var count int64
	err := ledger.client.DB().WithContext(ctx).Model(&sqlTransaction{}).
		Where("account_id = ?", accountID).Limit(1).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count transactions: %w", err)
	}
	return count > 0, nil
}

func (ledger *MySQLLedger) ListTransactions(ctx context.Context, accountID string, afterSequence int64, limit int) ([]domain.TransactionRecord, error) {
	var rows []sqlTransaction
	err := ledger.client.DB().WithContext(ctx).
		Where("account_id = ? AND seq > ?", accountID, afterSequence).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Commit 在同一個 DB Transaction 內做樂觀鎖更新 (version) 並寫入交易紀錄
func (ledger *MySQLLedger) Commit(ctx context.Context, uow domain.UnitOfWork) ([]domain.TransactionRecord, error) {
	rows := make([]sqlTransaction, len(uow.Records))
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, swap := range uow.Swaps {
			next := toSQLAccount(swap.Account)
			res := tx.Model(&sqlAccount{}).
				Where("id = ? AND version = ?", next.ID, swap.ExpectedVersion).
				Updates(map[string]any{
					"account_number": next.AccountNumber,
					"first_name":     next.FirstName,
					"last_name":      next.LastName,
					"email":          next.Email,
					"mobile":         next.Mobile,
					"date_of_birth":  next.DateOfBirth,
					"balance":        next.Balance,
					"version":        next.Version,
					"updated_at":     next.UpdatedAt,
				})
			if res.Error != nil {
				return fmt.Errorf("update account %s: %w", next.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return domain.ErrVersionMismatch
			}
		}

		if len(rows) == 0 {
			return nil
		}
		for i, rec := range uow.Records {
			rows[i] = sqlTransaction{
				ID:            rec.ID,
				AccountID:     rec.AccountID,
				Kind:          string(rec.Kind),
				Amount:        rec.Amount,
				BalanceAfter:  rec.BalanceAfter,
				CounterpartID: nullable(rec.CounterpartID),
				CorrelationID: nullable(rec.CorrelationID),
				CreatedAt:     rec.CreatedAt.UTC(),
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.TransactionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
