package grpc

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// GrpcServer 是 gRPC 的 driving adapter
type GrpcServer struct {
	core     *usecase.CoreUseCase
	accounts *usecase.AccountUseCase
	logger   *zap.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, accounts *usecase.AccountUseCase, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		core:     core,
		accounts: accounts,
		logger:   logger.Named("grpc"),
	}
}

// fail 內部錯誤記錄完整內容，對外只回分類
func (s *GrpcServer) fail(method string, err error) error {
	if domain.CategoryOf(err) == domain.CategoryInternal {
		s.logger.Error("request failed", zap.String("method", method), zap.Error(err))
	}
	return toStatus(err)
}

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, fieldAmount)
	if err != nil {
		return nil, s.fail(MethodDeposit, err)
	}
	rec, err := s.core.Deposit(ctx, stringField(req, fieldAccountID), amount)
	if err != nil {
		return nil, s.fail(MethodDeposit, err)
	}
	return newStruct(recordToMap(rec))
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, fieldAmount)
	if err != nil {
		return nil, s.fail(MethodWithdraw, err)
	}
	rec, err := s.core.Withdraw(ctx, stringField(req, fieldAccountID), amount)
	if err != nil {
		return nil, s.fail(MethodWithdraw, err)
	}
	return newStruct(recordToMap(rec))
}

func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, fieldAmount)
	if err != nil {
		return nil, s.fail(MethodTransfer, err)
	}
	res, err := s.core.Transfer(ctx, stringField(req, fieldFromAccountID), stringField(req, fieldToAccountID), amount)
	if err != nil {
		return nil, s.fail(MethodTransfer, err)
	}
	return newStruct(map[string]any{
		fieldDebit:  recordToMap(res.Debit),
		fieldCredit: recordToMap(res.Credit),
	})
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID := stringField(req, fieldAccountID)
	balance, err := s.core.GetAccountBalance(ctx, accountID)
	if err != nil {
		return nil, s.fail(MethodGetBalance, err)
	}
	return newStruct(map[string]any{
		fieldAccountID: accountID,
		fieldBalance:   balance.String(),
	})
}

// History 逐筆串流，client 中斷時停止讀取
func (s *GrpcServer) History(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	for rec, err := range s.core.History(ctx, stringField(req, fieldAccountID)) {
		if err != nil {
			return s.fail(MethodHistory, err)
		}
		msg, err := newStruct(recordToMap(rec))
		if err != nil {
			return s.fail(MethodHistory, err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *GrpcServer) CreateAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	opening := decimal.Zero
	if raw := stringField(req, fieldOpeningBalance); raw != "" {
		var err error
		if opening, err = domain.ParseAmount(raw); err != nil {
			return nil, s.fail(MethodCreateAccount, err)
		}
	}
	acc, err := s.accounts.CreateAccount(ctx, profileFromStruct(req), opening)
	if err != nil {
		return nil, s.fail(MethodCreateAccount, err)
	}
	return newStruct(accountToMap(acc))
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accounts.GetAccount(ctx, stringField(req, fieldAccountID))
	if err != nil {
		return nil, s.fail(MethodGetAccount, err)
	}
	return newStruct(accountToMap(acc))
}

func (s *GrpcServer) ListAccounts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, s.fail(MethodListAccounts, err)
	}
	list := make([]any, 0, len(accounts))
	for _, acc := range accounts {
		list = append(list, accountToMap(acc))
	}
	return newStruct(map[string]any{fieldAccounts: list})
}

func (s *GrpcServer) UpdateProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	acc, err := s.accounts.UpdateProfile(ctx, stringField(req, fieldAccountID), profileFromStruct(req))
	if err != nil {
		return nil, s.fail(MethodUpdateProfile, err)
	}
	return newStruct(accountToMap(acc))
}

func (s *GrpcServer) CanDeleteAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ok, err := s.accounts.CanDelete(ctx, stringField(req, fieldAccountID))
	if err != nil {
		return nil, s.fail(MethodCanDeleteAccount, err)
	}
	return newStruct(map[string]any{fieldDeletable: ok})
}

func (s *GrpcServer) DeleteAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.accounts.DeleteAccount(ctx, stringField(req, fieldAccountID)); err != nil {
		return nil, s.fail(MethodDeleteAccount, err)
	}
	return &structpb.Struct{}, nil
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
