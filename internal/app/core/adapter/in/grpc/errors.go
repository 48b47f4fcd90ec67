package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// ErrorDomain 放在 ErrorInfo.Domain
const ErrorDomain = "ledger"

var categoryCodes = map[domain.Category]codes.Code{
	domain.CategoryInvalidRequest: codes.InvalidArgument,
	domain.CategoryNotFound:       codes.NotFound,
	domain.CategoryStateConflict:  codes.FailedPrecondition,
	domain.CategoryRetryable:      codes.Aborted,
	domain.CategoryInternal:       codes.Internal,
}

// toStatus domain error 轉成 gRPC status，原因代碼放在 ErrorInfo
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	category := domain.CategoryOf(err)
	if category == domain.CategoryInternal {
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(categoryCodes[category], err.Error())
	withInfo, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   domain.ReasonOf(err),
		Domain:   ErrorDomain,
		Metadata: map[string]string{"category": string(category)},
	})
	if detailErr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// fromStatus client 端把 gRPC status 還原成可用 errors.Is 判斷的 domain error
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		if sentinel, ok := domain.ErrorForReason(info.GetReason()); ok {
			return fmt.Errorf("%w: %s", sentinel, st.Message())
		}
	}
	return err
}
