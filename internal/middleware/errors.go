package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error returned by a handler to an HTTP status and a
// stable machine-readable code.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "request_error"
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusConflict, "invariant_violation"
	case errors.Is(err, ledger.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, ledger.ErrStorage):
		return http.StatusServiceUnavailable, "storage_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ErrorHandler renders every handler error as JSON. Server-side failures are
// logged and their details withheld from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		resp := errorResponse{Error: code, Message: err.Error(), RequestID: RequestIDFrom(c)}

		var ve *ledger.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
			resp.Message = ve.Message
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.String("request_id", resp.RequestID), slog.Any("error", err))
			resp.Message = http.StatusText(status)
		}
		return c.Status(status).JSON(resp)
	}
}
