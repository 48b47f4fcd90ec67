package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyScale 金額精度：小數點後 4 位
const CurrencyScale int32 = 4

// MaxAmount 單筆金額與帳戶餘額上限，對應 DECIMAL(20,4) 欄位可存的最大值
var MaxAmount = decimal.New(1, 16).Sub(decimal.New(1, -CurrencyScale))

// ValidateAmount 檢查交易金額：必須為正數，不得超過 MaxAmount，且精度不得超過 CurrencyScale
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if err := checkRange(amount); err != nil {
		return err
	}
	return checkScale(amount)
}

// ValidateOpeningBalance 開戶金額可以為 0，但不可為負
func ValidateOpeningBalance(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: opening balance %s is negative", ErrInvalidAmount, amount.String())
	}
	if err := checkRange(amount); err != nil {
		return err
	}
	return checkScale(amount)
}

func checkRange(amount decimal.Decimal) error {
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.String(), MaxAmount.String())
	}
	return nil
}

func checkScale(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(CurrencyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), CurrencyScale)
	}
	return nil
}

// ParseAmount 解析十進位字串，格式錯誤視為金額不合法
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	return amount, nil
}
