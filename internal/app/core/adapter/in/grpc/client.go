package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Client 呼叫 LedgerService 的客戶端，錯誤會還原成 domain error
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.TransactionRecord, error) {
	out, err := c.invoke(ctx, MethodDeposit, map[string]any{
		fieldAccountID: accountID,
		fieldAmount:    amount.String(),
	})
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return recordFromStruct(out)
}

func (c *Client) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (domain.TransactionRecord, error) {
	out, err := c.invoke(ctx, MethodWithdraw, map[string]any{
		fieldAccountID: accountID,
		fieldAmount:    amount.String(),
	})
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return recordFromStruct(out)
}

func (c *Client) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (usecase.TransferResult, error) {
	out, err := c.invoke(ctx, MethodTransfer, map[string]any{
		fieldFromAccountID: fromID,
		fieldToAccountID:   toID,
		fieldAmount:        amount.String(),
	})
	if err != nil {
		return usecase.TransferResult{}, err
	}
	debit, err := recordFromStruct(out.GetFields()[fieldDebit].GetStructValue())
	if err != nil {
		return usecase.TransferResult{}, err
	}
	credit, err := recordFromStruct(out.GetFields()[fieldCredit].GetStructValue())
	if err != nil {
		return usecase.TransferResult{}, err
	}
	return usecase.TransferResult{Debit: debit, Credit: credit}, nil
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	out, err := c.invoke(ctx, MethodGetBalance, map[string]any{fieldAccountID: accountID})
	if err != nil {
		return decimal.Zero, err
	}
	return decimalField(out, fieldBalance)
}

// History 讀完整個串流
func (c *Client) History(ctx context.Context, accountID string) ([]domain.TransactionRecord, error) {
	req, err := structpb.NewStruct(map[string]any{fieldAccountID: accountID})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodHistory))
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	var records []domain.TransactionRecord
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fromStatus(err)
		}
		rec, err := recordFromStruct(msg)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func (c *Client) CreateAccount(ctx context.Context, profile domain.Profile, openingBalance decimal.Decimal) (domain.Account, error) {
	in := profileToMap(profile)
	in[fieldOpeningBalance] = openingBalance.String()
	out, err := c.invoke(ctx, MethodCreateAccount, in)
	if err != nil {
		return domain.Account{}, err
	}
	return accountFromStruct(out)
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	out, err := c.invoke(ctx, MethodGetAccount, map[string]any{fieldAccountID: accountID})
	if err != nil {
		return domain.Account{}, err
	}
	return accountFromStruct(out)
}

func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	out, err := c.invoke(ctx, MethodListAccounts, map[string]any{})
	if err != nil {
		return nil, err
	}
	values := out.GetFields()[fieldAccounts].GetListValue().GetValues()
	accounts := make([]domain.Account, 0, len(values))
	for _, v := range values {
		acc, err := accountFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (c *Client) UpdateProfile(ctx context.Context, accountID string, profile domain.Profile) (domain.Account, error) {
	in := profileToMap(profile)
	in[fieldAccountID] = accountID
	out, err := c.invoke(ctx, MethodUpdateProfile, in)
	if err != nil {
		return domain.Account{}, err
	}
	return accountFromStruct(out)
}

func (c *Client) CanDeleteAccount(ctx context.Context, accountID string) (bool, error) {
	out, err := c.invoke(ctx, MethodCanDeleteAccount, map[string]any{fieldAccountID: accountID})
	if err != nil {
		return false, err
	}
	return out.GetFields()[fieldDeletable].GetBoolValue(), nil
}

func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := c.invoke(ctx, MethodDeleteAccount, map[string]any{fieldAccountID: accountID})
	return err
}
