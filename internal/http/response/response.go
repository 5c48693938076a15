// Package response renders the JSON envelope every endpoint speaks and maps
// service faults onto HTTP statuses. Auth-class failures deliberately share
// one generic message; the precise cause stays in logs and metrics.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/service"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// Fault translates a service error into the wire form. Unknown errors become
// an opaque 500 so internals never leak.
func Fault(w http.ResponseWriter, r *http.Request, err error) {
	var rl *service.RateLimitedError
	if errors.As(err, &rl) {
		retryAfter := int(rl.RetryAfter.Round(time.Second) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		Error(w, r, http.StatusTooManyRequests, fault.CodeRateLimited, "too many attempts", nil)
		return
	}

	code := fault.CodeOf(err)
	switch fault.KindOf(err) {
	case fault.KindValidation:
		if code == fault.CodeNotFound {
			Error(w, r, http.StatusNotFound, code, "resource not found", nil)
			return
		}
		Error(w, r, http.StatusBadRequest, code, "invalid request", nil)
	case fault.KindAuth:
		Error(w, r, http.StatusUnauthorized, code, "authentication failed", nil)
	case fault.KindPolicy:
		Error(w, r, http.StatusForbidden, code, "request refused by policy", nil)
	case fault.KindConflict:
		Error(w, r, http.StatusConflict, code, "conflicting concurrent change, retry", nil)
	case fault.KindUnavailable:
		Error(w, r, http.StatusServiceUnavailable, code, "temporarily unavailable", nil)
	default:
		Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
