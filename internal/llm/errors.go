package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformed marks a response that arrived but could not be parsed into
// the requested shape. It is recoverable by asking again.
var ErrMalformed = errors.New("malformed model response")

// Reason categorizes why a provider call failed.
type Reason string

const (
	ReasonAuth           Reason = "auth"
	ReasonBilling        Reason = "billing"
	ReasonRateLimit      Reason = "rate_limit"
	ReasonTimeout        Reason = "timeout"
	ReasonServerError    Reason = "server_error"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonEmpty          Reason = "empty_response"
	ReasonUnknown        Reason = "unknown"
)

// IsRetryable reports whether asking again may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonAuth, ReasonBilling, ReasonInvalidRequest:
		return false
	default:
		return true
	}
}

// ProviderError is a failure reported by (or while reaching) a model
// provider, as opposed to a malformed but delivered response.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Reason   Reason
	Err      error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason), e.Provider)
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err carries a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsRetryable reports whether a failed call is worth repeating. Malformed
// responses and timeouts are; authentication and billing failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return true
}

func newProviderError(provider, model string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Reason:   classify(status, err),
		Err:      err,
	}
}

func classify(status int, err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
			return ReasonTimeout
		case strings.Contains(msg, "rate limit"):
			return ReasonRateLimit
		}
	}
	return ReasonUnknown
}
