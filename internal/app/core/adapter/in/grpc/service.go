package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務名稱
const ServiceName = "ledger.v1.LedgerService"

// 訊息一律使用 google.protobuf.Struct，不需要另外產生 pb 程式碼
const (
	MethodDeposit          = "Deposit"
	MethodWithdraw         = "Withdraw"
	MethodTransfer         = "Transfer"
	MethodGetBalance       = "GetBalance"
	MethodHistory          = "History"
	MethodCreateAccount    = "CreateAccount"
	MethodGetAccount       = "GetAccount"
	MethodListAccounts     = "ListAccounts"
	MethodUpdateProfile    = "UpdateProfile"
	MethodCanDeleteAccount = "CanDeleteAccount"
	MethodDeleteAccount    = "DeleteAccount"
)

// LedgerServiceServer 服務端介面
type LedgerServiceServer interface {
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(*structpb.Struct, grpc.ServerStream) error
	CreateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAccounts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CanDeleteAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func historyHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LedgerServiceServer).History(in, stream)
}

// ServiceDesc 手寫的 service descriptor，等同 protoc 產生的 _ServiceDesc
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodDeposit, LedgerServiceServer.Deposit),
		unary(MethodWithdraw, LedgerServiceServer.Withdraw),
		unary(MethodTransfer, LedgerServiceServer.Transfer),
		unary(MethodGetBalance, LedgerServiceServer.GetBalance),
		unary(MethodCreateAccount, LedgerServiceServer.CreateAccount),
		unary(MethodGetAccount, LedgerServiceServer.GetAccount),
		unary(MethodListAccounts, LedgerServiceServer.ListAccounts),
		unary(MethodUpdateProfile, LedgerServiceServer.UpdateProfile),
		unary(MethodCanDeleteAccount, LedgerServiceServer.CanDeleteAccount),
		unary(MethodDeleteAccount, LedgerServiceServer.DeleteAccount),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodHistory,
			Handler:       historyHandler,
			ServerStreams: true,
		},
	},
}

// RegisterLedgerServiceServer 註冊到 grpc.Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
