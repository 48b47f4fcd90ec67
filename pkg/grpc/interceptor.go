package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ClientLoggingInterceptor 記錄失敗的呼叫，成功的呼叫只在 Debug 等級記錄
func ClientLoggingInterceptor(logger *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("target", cc.Target()),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
			return err
		}
		logger.Debug("rpc call", fields...)
		return nil
	}
}
