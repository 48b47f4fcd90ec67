package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NotificationRequest 交易完成後送給帳戶持有人的通知
type NotificationRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

const confirmationBody = "Dear %s %s, Your %s of %s on your account %s has been Completed Successfully."

func confirmation(acc Account, subject, action string, amount decimal.Decimal) NotificationRequest {
	return NotificationRequest{
		Recipient: acc.Profile.Email,
		Subject:   subject,
		Body: fmt.Sprintf(confirmationBody,
			acc.Profile.FirstName, acc.Profile.LastName, action, amount.StringFixed(CurrencyScale), acc.Profile.AccountNumber),
	}
}

// DepositNotice 存款完成通知
func DepositNotice(acc Account, amount decimal.Decimal) NotificationRequest {
	return confirmation(acc, "Saving Transaction", "saving", amount)
}

// WithdrawNotice 提款完成通知
func WithdrawNotice(acc Account, amount decimal.Decimal) NotificationRequest {
	return confirmation(acc, "Withdraw Transaction", "withdraw", amount)
}

// TransferNotice 轉出方的通知
func TransferNotice(acc Account, amount decimal.Decimal) NotificationRequest {
	return confirmation(acc, "Transfer Transaction", "transfer", amount)
}

// TransferReceivedNotice 轉入方的通知
func TransferReceivedNotice(acc Account, amount decimal.Decimal) NotificationRequest {
	return confirmation(acc, "Transfer Received", "incoming transfer", amount)
}
