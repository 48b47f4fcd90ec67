package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
)

// Profile 帳戶持有人資料，不含餘額
type Profile struct {
	FirstName     string `json:"first_name" validate:"required,notblank"`
	LastName      string `json:"last_name" validate:"required,notblank"`
	Email         string `json:"email" validate:"omitempty,email"`
	Mobile        string `json:"mobile"`
	DateOfBirth   string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	AccountNumber string `json:"account_number"`
}

var (
	profileValidator     *validator.Validate
	profileValidatorErr  error
	profileValidatorOnce sync.Once
)

// getProfileValidator 延遲建立共用的 validator，只註冊一次
func getProfileValidator() (*validator.Validate, error) {
	profileValidatorOnce.Do(func() {
		vld := validator.New(validator.WithRequiredStructEnabled())
		if err := vld.RegisterValidation("notblank", validators.NotBlank); err != nil {
			profileValidatorErr = fmt.Errorf("register 'notblank': %w", err)
			return
		}
		profileValidator = vld
	})
	return profileValidator, profileValidatorErr
}

// Validate 檢查帳戶資料格式，只回報第一個不合法的欄位
func (p Profile) Validate() error {
	vld, err := getProfileValidator()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if err := vld.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed '%s'", ErrInvalidProfile, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	return nil
}

// Account 帳戶狀態
//
// Version 每次寫入 (餘額或資料) 都會 +1，儲存層以此做 compare-and-swap
type Account struct {
	ID        string          `json:"id"`
	Profile   Profile         `json:"profile"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccount 建立新帳戶，帳號未指定時沿用 ID
func NewAccount(id string, profile Profile, openingBalance decimal.Decimal, now time.Time) Account {
	if profile.AccountNumber == "" {
		profile.AccountNumber = id
	}
	return Account{
		ID:        id,
		Profile:   profile,
		Balance:   openingBalance,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Deposit 存款，回傳新的帳戶狀態 (不修改原值)
//
// 存入後餘額超過 MaxAmount 回傳 ErrInvalidAmount
func (a Account) Deposit(amount decimal.Decimal, now time.Time) (Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return a, err
	}
	balance := a.Balance.Add(amount)
	if balance.GreaterThan(MaxAmount) {
		return a, fmt.Errorf("%w: balance %s would exceed %s", ErrInvalidAmount, balance.String(), MaxAmount.String())
	}
	next := a
	next.Balance = balance
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// Withdraw 提款，餘額不足回傳 ErrInsufficientFunds
func (a Account) Withdraw(amount decimal.Decimal, now time.Time) (Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return a, err
	}
	if a.Balance.LessThan(amount) {
		return a, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, a.Balance.String(), amount.String())
	}
	next := a
	next.Balance = a.Balance.Sub(amount)
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// WithProfile 只替換持有人資料，餘額不變
func (a Account) WithProfile(profile Profile, now time.Time) Account {
	if profile.AccountNumber == "" {
		profile.AccountNumber = a.Profile.AccountNumber
	}
	next := a
	next.Profile = profile
	next.Version++
	next.UpdatedAt = now
	return next
}

func (a Account) FullName() string {
	return strings.TrimSpace(a.Profile.FirstName + " " + a.Profile.LastName)
}
