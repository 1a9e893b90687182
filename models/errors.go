package models

import "fmt"

// Error codes used across the engine.
const (
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeScanTimeout  = "SCAN_TIMEOUT"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeDecode       = "DECODE_FAILED"

	// ErrCodeStoreGone marks a persistence layer that has become
	// unreachable because the surrounding context was torn down. It is
	// surfaced once; further store operations are skipped, not retried.
	ErrCodeStoreGone = "STORE_UNAVAILABLE"
)

// MosaicError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type MosaicError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *MosaicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MosaicError) Unwrap() error {
	return e.Err
}

// NewError creates a new MosaicError.
func NewError(code, message string, err error) *MosaicError {
	return &MosaicError{Code: code, Message: message, Err: err}
}
