package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so wrapped errors compare equal to the sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

const (
	CodeConfigInvalid    = "CONFIG_001"
	CodeValidation       = "INPUT_001"
	CodeNotFound         = "GEN_001"
	CodeInternal         = "GEN_003"
	CodeStoreIO          = "STORE_001"
	CodeAlreadyTaken     = "DOSE_001"
	CodePermissionDenied = "NOTIFY_001"
	CodeUnknownHandle    = "NOTIFY_002"
	CodeAlertFailed      = "ALERT_001"
	CodeScanFailed       = "SCAN_001"
)

var (
	ErrConfigInvalid = &AppError{Code: CodeConfigInvalid, Message: "invalid configuration"}

	ErrValidation = &AppError{Code: CodeValidation, Message: "invalid input"}
	ErrNotFound   = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrInternal   = &AppError{Code: CodeInternal, Message: "internal error"}

	ErrStoreIO = &AppError{Code: CodeStoreIO, Message: "storage operation failed"}

	ErrAlreadyTaken = &AppError{Code: CodeAlreadyTaken, Message: "dose already taken today"}

	ErrPermissionDenied = &AppError{Code: CodePermissionDenied, Message: "notification permission not granted"}
	ErrUnknownHandle    = &AppError{Code: CodeUnknownHandle, Message: "unknown notification handle"}

	ErrAlertFailed = &AppError{Code: CodeAlertFailed, Message: "caretaker alert failed"}
	ErrScanFailed  = &AppError{Code: CodeScanFailed, Message: "prescription scan failed"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
