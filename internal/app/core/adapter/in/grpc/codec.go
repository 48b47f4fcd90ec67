package grpc

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// 欄位名稱
const (
	fieldAccountID      = "account_id"
	fieldFromAccountID  = "from_account_id"
	fieldToAccountID    = "to_account_id"
	fieldAmount         = "amount"
	fieldOpeningBalance = "opening_balance"
	fieldBalance        = "balance"
	fieldDeletable      = "deletable"
	fieldAccounts       = "accounts"
	fieldDebit          = "debit"
	fieldCredit         = "credit"
)

// 金額與 Sequence 一律以字串傳遞，避免 float64 失真
func recordToMap(rec domain.TransactionRecord) map[string]any {
	return map[string]any{
		"id":             rec.ID,
		"sequence":       strconv.FormatInt(rec.Sequence, 10),
		"account_id":     rec.AccountID,
		"kind":           string(rec.Kind),
		"amount":         rec.Amount.String(),
		"balance_after":  rec.BalanceAfter.String(),
		"counterpart_id": rec.CounterpartID,
		"correlation_id": rec.CorrelationID,
		"created_at":     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func recordFromStruct(s *structpb.Struct) (domain.TransactionRecord, error) {
	seq, err := strconv.ParseInt(stringField(s, "sequence"), 10, 64)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("decode sequence: %w", err)
	}
	amount, err := decimalField(s, "amount")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	after, err := decimalField(s, "balance_after")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	createdAt, err := timeField(s, "created_at")
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return domain.TransactionRecord{
		Sequence:      seq,
		ID:            stringField(s, "id"),
		AccountID:     stringField(s, "account_id"),
		Kind:          domain.RecordKind(stringField(s, "kind")),
		Amount:        amount,
		BalanceAfter:  after,
		CounterpartID: stringField(s, "counterpart_id"),
		CorrelationID: stringField(s, "correlation_id"),
		CreatedAt:     createdAt,
	}, nil
}

func profileToMap(p domain.Profile) map[string]any {
	return map[string]any{
		"first_name":     p.FirstName,
		"last_name":      p.LastName,
		"email":          p.Email,
		"mobile":         p.Mobile,
		"date_of_birth":  p.DateOfBirth,
		"account_number": p.AccountNumber,
	}
}

func profileFromStruct(s *structpb.Struct) domain.Profile {
	return domain.Profile{
		FirstName:     stringField(s, "first_name"),
		LastName:      stringField(s, "last_name"),
		Email:         stringField(s, "email"),
		Mobile:        stringField(s, "mobile"),
		DateOfBirth:   stringField(s, "date_of_birth"),
		AccountNumber: stringField(s, "account_number"),
	}
}

func accountToMap(acc domain.Account) map[string]any {
	m := profileToMap(acc.Profile)
	m["id"] = acc.ID
	m["balance"] = acc.Balance.String()
	m["version"] = strconv.FormatInt(acc.Version, 10)
	m["created_at"] = acc.CreatedAt.UTC().Format(time.RFC3339Nano)
	m["updated_at"] = acc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return m
}

func accountFromStruct(s *structpb.Struct) (domain.Account, error) {
	balance, err := decimalField(s, "balance")
	if err != nil {
		return domain.Account{}, err
	}
	version, err := strconv.ParseInt(stringField(s, "version"), 10, 64)
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode version: %w", err)
	}
	createdAt, err := timeField(s, "created_at")
	if err != nil {
		return domain.Account{}, err
	}
	updatedAt, err := timeField(s, "updated_at")
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		ID:        stringField(s, "id"),
		Profile:   profileFromStruct(s),
		Balance:   balance,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func decimalField(s *structpb.Struct, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(stringField(s, key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return d, nil
}

func timeField(s *structpb.Struct, key string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, stringField(s, key))
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return t, nil
}

// amountField 解析請求中的金額
func amountField(s *structpb.Struct, key string) (decimal.Decimal, error) {
	return domain.ParseAmount(stringField(s, key))
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
