package ai

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrDuplicateTool    = errors.New("duplicate tool name")
	ErrMaxTurnsExceeded = errors.New("max tool turns exceeded")
	ErrToolInput        = errors.New("tool input rejected")
	ErrFlowInput        = errors.New("flow input rejected")
	ErrFlowOutput       = errors.New("flow output rejected")
)

// Provider errors. Model implementations wrap their SDK errors with one of these
// so callers can classify failures without knowing the provider.
var (
	ErrModelUnauthorized = errors.New("model provider rejected credentials")
	ErrModelRateLimited  = errors.New("model provider rate limited")
	ErrModelBadRequest   = errors.New("model provider rejected request")
	ErrModelUnavailable  = errors.New("model provider unavailable")
	ErrEmptyResponse     = errors.New("model returned no output")
)

// ErrorForStatus maps a provider HTTP status to a provider sentinel.
func ErrorForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrModelUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrModelRateLimited
	case status >= 500:
		return ErrModelUnavailable
	case status >= 400:
		return ErrModelBadRequest
	}
	return ErrModelUnavailable
}

// Stable error categories for model and flow metrics.
const (
	CategoryUnauthorized = "unauthorized"
	CategoryRateLimited  = "rate_limited"
	CategoryBadRequest   = "bad_request"
	CategoryUnavailable  = "unavailable"
	CategoryEmpty        = "empty_response"
	CategoryUnknownTool  = "unknown_tool"
	CategoryMaxTurns     = "max_turns_exceeded"
	CategoryInvalidInput = "invalid_input"
	CategoryTimeout      = "timeout"
	CategoryCanceled     = "canceled"
	CategoryError        = "error"
)

// CategorizeError returns a stable label for err, or "" for nil.
func CategorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolInput), errors.Is(err, ErrFlowInput):
		return CategoryInvalidInput
	case errors.Is(err, ErrModelUnauthorized):
		return CategoryUnauthorized
	case errors.Is(err, ErrModelRateLimited):
		return CategoryRateLimited
	case errors.Is(err, ErrModelBadRequest):
		return CategoryBadRequest
	case errors.Is(err, ErrModelUnavailable):
		return CategoryUnavailable
	case errors.Is(err, ErrEmptyResponse):
		return CategoryEmpty
	case errors.Is(err, ErrUnknownTool):
		return CategoryUnknownTool
	case errors.Is(err, ErrMaxTurnsExceeded):
		return CategoryMaxTurns
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	}
	return CategoryError
}
