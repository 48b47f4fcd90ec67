package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// pgUniqueViolation unique_violation
const pgUniqueViolation = "23505"

const accountColumns = `id, account_number, first_name, last_name, email, mobile, date_of_birth, balance, version, created_at, updated_at`

const recordColumns = `seq, id, account_id, kind, amount, balance_after, counterpart_id, correlation_id, created_at`

// rowScanner 讓 *sql.Row 與 *sql.Rows 共用掃描邏輯
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresLedger 以 PostgreSQL 為儲存層的帳本
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var acc domain.Account
	err := row.Scan(
		&acc.ID,
		&acc.Profile.AccountNumber,
		&acc.Profile.FirstName,
		&acc.Profile.LastName,
		&acc.Profile.Email,
		&acc.Profile.Mobile,
		&acc.Profile.DateOfBirth,
		&acc.Balance,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	return acc, err
}

func scanRecord(row rowScanner) (domain.TransactionRecord, error) {
	var (
		rec           domain.TransactionRecord
		kind          string
		counterpartID sql.NullString
		correlationID sql.NullString
	)
	err := row.Scan(
		&rec.Sequence,
		&rec.ID,
		&rec.AccountID,
		&kind,
		&rec.Amount,
		&rec.BalanceAfter,
		&counterpartID,
		&correlationID,
		&rec.CreatedAt,
	)
	rec.Kind = domain.RecordKind(kind)
	rec.CounterpartID = counterpartID.String
	rec.CorrelationID = correlationID.String
	return rec, err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (ledger *PostgresLedger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	row := ledger.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return acc, nil
}

func (ledger *PostgresLedger) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := ledger.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (ledger *PostgresLedger) CreateAccount(ctx context.Context, account domain.Account) error {
	_, err := ledger.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		account.ID,
		account.Profile.AccountNumber,
		account.Profile.FirstName,
		account.Profile.LastName,
		account.Profile.Email,
		account.Profile.Mobile,
		account.Profile.DateOfBirth,
		account.Balance,
		account.Version,
		account.CreatedAt.UTC(),
		account.UpdatedAt.UTC(),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return domain.ErrAccountAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// DeleteAccount 以 FOR UPDATE 鎖住帳戶列，確認沒有交易紀錄才刪除
func (ledger *PostgresLedger) DeleteAccount(ctx context.Context, accountID string) error {
	return ledger.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE account_id = $1)`, accountID).Scan(&exists); err != nil {
			return fmt.Errorf("check transactions: %w", err)
		}
		if exists {
			return domain.ErrHasHistory
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return nil
	})
}

func (ledger *PostgresLedger) ExistsForAccount(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := ledger.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE account_id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transactions: %w", err)
	}
	return exists, nil
}

func (ledger *PostgresLedger) ListTransactions(ctx context.Context, accountID string, afterSequence int64, limit int) ([]domain.TransactionRecord, error) {
	rows, err := ledger.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		accountID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TransactionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Commit 在同一個 DB Transaction 內以 version 做 CAS 更新並寫入交易紀錄
//
// 任一帳戶的 version 不符即整筆回滾並回傳 domain.ErrVersionMismatch
func (ledger *PostgresLedger) Commit(ctx context.Context, uow domain.UnitOfWork) ([]domain.TransactionRecord, error) {
	out := make([]domain.TransactionRecord, 0, len(uow.Records))
	err := ledger.inTx(ctx, func(tx *sql.Tx) error {
		for _, swap := range uow.Swaps {
			next := swap.Account
			res, err := tx.ExecContext(ctx,
				`UPDATE accounts
				    SET account_number = $1, first_name = $2, last_name = $3, email = $4, mobile = $5,
				        date_of_birth = $6, balance = $7, version = $8, updated_at = $9
				  WHERE id = $10 AND version = $11`,
				next.Profile.AccountNumber,
				next.Profile.FirstName,
				next.Profile.LastName,
				next.Profile.Email,
				next.Profile.Mobile,
				next.Profile.DateOfBirth,
				next.Balance,
				next.Version,
				next.UpdatedAt.UTC(),
				next.ID,
				swap.ExpectedVersion,
			)
			if err != nil {
				return fmt.Errorf("update account %s: %w", next.ID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update account %s: %w", next.ID, err)
			}
			if affected == 0 {
				return domain.ErrVersionMismatch
			}
		}

		for _, rec := range uow.Records {
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			row := tx.QueryRowContext(ctx,
				`INSERT INTO transactions (id, account_id, kind, amount, balance_after, counterpart_id, correlation_id, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 RETURNING `+recordColumns,
				rec.ID,
				rec.AccountID,
				string(rec.Kind),
				rec.Amount,
				rec.BalanceAfter,
				nullable(rec.CounterpartID),
				nullable(rec.CorrelationID),
				rec.CreatedAt.UTC(),
			)
			stored, err := scanRecord(row)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// inTx 開啟交易執行 fn，fn 回傳錯誤則回滾
func (ledger *PostgresLedger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ledger.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ usecase.Ledger = (*PostgresLedger)(nil)
