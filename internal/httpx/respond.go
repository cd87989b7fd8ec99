package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type errorResp struct {
	Error             string        `json:"error"`
	Code              string        `json:"code"`
	CurrentStatus     orders.Status `json:"current_status,omitempty"`
	AttemptsRemaining *int          `json:"attempts_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrExpired):
		return http.StatusGone
	case errors.Is(err, orders.ErrAttemptsExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, orders.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrCartEmpty),
		errors.Is(err, orders.ErrItemNotInCart),
		errors.Is(err, orders.ErrProductUnavailable),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrOTPNotEligible),
		errors.Is(err, orders.ErrAlreadyVerified),
		errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps err onto the HTTP surface. Internal errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := statusFor(err)
	body := errorResp{Error: err.Error(), Code: orders.Code(err)}
	if status >= 500 {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		body.Error = http.StatusText(status)
		if status == http.StatusServiceUnavailable {
			body.Code = "unavailable"
		}
	}
	var se *orders.StateError
	if errors.As(err, &se) {
		body.CurrentStatus = se.Current
	}
	var ce *orders.CodeError
	if errors.As(err, &ce) {
		n := ce.AttemptsRemaining
		body.AttemptsRemaining = &n
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("%w: request body is required", orders.ErrValidation)
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", orders.ErrValidation)
	}
	return nil
}
