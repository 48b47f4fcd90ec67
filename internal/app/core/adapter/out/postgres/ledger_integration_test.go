//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	pgclient "github.com/JoeShih716/go-bank-ledger/pkg/postgres"
)

// setupPostgresContainer 啟動 PostgreSQL 容器，回傳連線字串 (需要 Docker)
func setupPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// go test -tags integration ./...
func newTestLedger(t *testing.T) *PostgresLedger {
	t.Helper()
	dsn := setupPostgresContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := pgclient.Open(ctx, pgclient.Config{DSN: dsn, ConnectRetries: 5, RetryInterval: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return NewPostgresLedger(db)
}

func openAccount(t *testing.T, ledger *PostgresLedger, balance string) domain.Account {
	t.Helper()
	acc := domain.NewAccount(uuid.NewString(), domain.Profile{FirstName: "Grace", LastName: "Hopper"},
		decimal.RequireFromString(balance), time.Now())
	require.NoError(t, ledger.CreateAccount(context.Background(), acc))
	return acc
}

func depositWork(acc domain.Account, amount string) domain.UnitOfWork {
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

func TestPostgresLedger_CommitAndHistory(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	acc := openAccount(t, ledger, "10")

	stored, err := ledger.Commit(ctx, depositWork(acc, "2.5"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Positive(t, stored[0].Sequence)
	assert.NotEmpty(t, stored[0].ID)

	got, err := ledger.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, acc.Version+1, got.Version)

	records, err := ledger.ListTransactions(ctx, acc.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, stored[0].Sequence, records[0].Sequence)
	assert.Equal(t, domain.RecordKindDeposit, records[0].Kind)
}

func TestPostgresLedger_StaleVersionRollsBack(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	acc := openAccount(t, ledger, "10")

	_, err := ledger.Commit(ctx, depositWork(acc, "1"))
	require.NoError(t, err)
	_, err = ledger.Commit(ctx, depositWork(acc, "1"))
	require.ErrorIs(t, err, domain.ErrVersionMismatch)

	records, err := ledger.ListTransactions(ctx, acc.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPostgresLedger_CreateDuplicateAndGuardedDelete(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	used := openAccount(t, ledger, "0")
	unused := openAccount(t, ledger, "0")

	assert.ErrorIs(t, ledger.CreateAccount(ctx, used), domain.ErrAccountAlreadyExists)

	_, err := ledger.Commit(ctx, depositWork(used, "1"))
	require.NoError(t, err)
	assert.ErrorIs(t, ledger.DeleteAccount(ctx, used.ID), domain.ErrHasHistory)
	assert.ErrorIs(t, ledger.DeleteAccount(ctx, uuid.NewString()), domain.ErrNotFound)
	require.NoError(t, ledger.DeleteAccount(ctx, unused.ID))

	_, err = ledger.GetAccount(ctx, unused.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
