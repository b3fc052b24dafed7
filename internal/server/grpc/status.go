package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ToStatus maps a vault error to a gRPC status. Errors that already carry a
// status pass through. Unclassified errors become Internal without their
// text.
func ToStatus(err error) *status.Status {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	var rl *common.RateLimitError
	if errors.As(err, &rl) {
		st := status.New(codes.ResourceExhausted, rl.Error())
		if withRetry, derr := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(rl.RetryAfter)}); derr == nil {
			return withRetry
		}
		return st
	}

	switch {
	case errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, common.ErrInvalidHashFormat):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrAuthenticationFailed):
		return status.New(codes.Unauthenticated, common.ErrAuthenticationFailed.Error())
	case errors.Is(err, common.ErrSessionExpired),
		errors.Is(err, common.ErrSessionRevoked),
		errors.Is(err, common.ErrSessionNotFound):
		return status.New(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	default:
		return status.New(codes.Internal, common.ErrorInternal.Error())
	}
}

// RetryAfter extracts the retry delay from a ResourceExhausted status.
func RetryAfter(st *status.Status) (time.Duration, bool) {
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok {
			return ri.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}
