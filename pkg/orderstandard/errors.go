package orderstandard

import "fmt"

// ErrorCode classifies an order-standard failure. Codes surface as the
// error_code attribute on structured log entries (logging.WithError
// reads them through the Code() method).
type ErrorCode string

const (
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeInvalidOrder     ErrorCode = "INVALID_ORDER"
)

// ValidationFailedError is returned for well-formed-but-rejected orders.
// Parse returns it for an expired order or one with no fill instruction;
// the coordinator then logs it and publishes IntentRejected, and nothing
// is persisted. Same-chain orders pass Parse and are persisted; the fill
// and claim builders return this error for them, and the coordinator
// only logs the failed fill build (no IntentRejected event). An intent
// naming an unsupported standard is rejected with a plain error, not
// this type.
type ValidationFailedError struct {
	Reason string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("orderstandard: validation failed: %s", e.Reason)
}

// Code reports the error's classification for structured logging.
func (e *ValidationFailedError) Code() string {
	return string(ErrorCodeValidationFailed)
}

// ValidationFailed constructs a ValidationFailedError.
func ValidationFailed(reason string) error {
	return &ValidationFailedError{Reason: reason}
}

// AsValidationFailed reports whether err is a ValidationFailedError and
// returns its reason.
func AsValidationFailed(err error) (string, bool) {
	ve, ok := err.(*ValidationFailedError)
	if !ok {
		return "", false
	}
	return ve.Reason, true
}

// OrderError signals a malformed Open event or similarly unparseable
// intent payload.
type OrderError struct {
	Msg string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("orderstandard: %s", e.Msg)
}

// Code reports the error's classification for structured logging.
func (e *OrderError) Code() string {
	return string(ErrorCodeInvalidOrder)
}

func orderErrorf(format string, args ...interface{}) error {
	return &OrderError{Msg: fmt.Sprintf(format, args...)}
}
