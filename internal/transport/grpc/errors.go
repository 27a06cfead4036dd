package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nailsdash/backend/internal/domain"
	"nailsdash/backend/internal/service/appointments"
	"nailsdash/backend/internal/store"
)

// statusFor maps a service error to a gRPC status and logs it at the level its cause
// deserves: caller mistakes at Warn, scheduling outcomes at Info, everything else at Error.
func statusFor(log *slog.Logger, msg string, err error, attrs ...any) error {
	if _, ok := status.FromError(err); ok {
		// already a status, produced while decoding the request
		log.Warn("invalid request", append(attrs, slog.Any("err", err))...)
		return err
	}

	args := append(attrs, slog.Any("err", err))

	var (
		vErr   *appointments.ValidationError
		dErr   *domain.DateFormatError
		cErr   *domain.ConflictError
		svcErr *domain.InvalidServiceError
		tErr   *domain.TransitionError
	)
	switch {
	case errors.As(err, &cErr):
		log.Info(msg+": time conflict", append(args, slog.String("dimension", string(cErr.Dimension)))...)
		return status.Error(codes.FailedPrecondition, cErr.Message)
	case errors.As(err, &svcErr):
		log.Warn(msg+": invalid service", args...)
		return status.Error(codes.InvalidArgument, "service not found")
	case errors.As(err, &tErr):
		log.Info(msg+": invalid transition", args...)
		return status.Error(codes.FailedPrecondition, tErr.Error())
	case errors.As(err, &vErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.As(err, &dErr):
		log.Warn("invalid request", args...)
		return status.Error(codes.InvalidArgument, dErr.Error())
	case errors.Is(err, appointments.ErrForbidden):
		log.Info(msg+": forbidden", args...)
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(msg+": idempotency conflict", args...)
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, store.ErrNotFound):
		log.Info(msg+": not found", args...)
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrTransient):
		log.Warn(msg+": transient storage failure", args...)
		return status.Error(codes.Unavailable, "temporarily unavailable, retry the request")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg+": deadline exceeded", args...)
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	default:
		log.Error(msg+" failed", args...)
		return status.Error(codes.Internal, "internal error")
	}
}
