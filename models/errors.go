package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"
	ErrCodePoolExhausted = "POOL_EXHAUSTED"
	ErrCodeEngineLoad    = "ENGINE_LOAD_FAILED"
	ErrCodeTimeout       = "EXTRACTION_TIMEOUT"
	ErrCodeResourceLimit = "RESOURCE_LIMIT_EXCEEDED"
	ErrCodeEngine        = "ENGINE_ERROR"
	ErrCodeExhausted     = "ALL_MODES_EXHAUSTED"
	ErrCodeFetch         = "FETCH_FAILED"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ExtractError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// NewExtractError creates a new ExtractError.
func NewExtractError(code, message string, err error) *ExtractError {
	return &ExtractError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ExtractError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
