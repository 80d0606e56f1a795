package services

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of failure kinds pulse reports
type ErrorCode string

const (
	ErrCodeProviderNotFound            ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeProviderConnectionFailed    ErrorCode = "PROVIDER_CONNECTION_FAILED"
	ErrCodeProviderDisconnectionFailed ErrorCode = "PROVIDER_DISCONNECTION_FAILED"
	ErrCodeAccountFetchFailed          ErrorCode = "ACCOUNT_FETCH_FAILED"
	ErrCodeTransactionFetchFailed      ErrorCode = "TRANSACTION_FETCH_FAILED"
	ErrCodeAccountRefreshFailed        ErrorCode = "ACCOUNT_REFRESH_FAILED"
	ErrCodeValidation                  ErrorCode = "VALIDATION_ERROR"
	ErrCodeConfiguration               ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeMethodNotSupported          ErrorCode = "METHOD_NOT_SUPPORTED"
	ErrCodeUnknown                     ErrorCode = "UNKNOWN_ERROR"
)

// PulseError is the tagged error every pulse operation returns
type PulseError struct {
	Code      ErrorCode
	Message   string
	Provider  string
	UserID    string
	AccountID string
	Method    string
	Details   map[string]interface{}
	Err       error
}

// Error implements the error interface
func (e *PulseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *PulseError) Unwrap() error {
	return e.Err
}

// Is matches another PulseError by code
func (e *PulseError) Is(target error) bool {
	t, ok := target.(*PulseError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithProvider sets the provider the failure belongs to
func (e *PulseError) WithProvider(provider string) *PulseError {
	e.Provider = provider
	return e
}

// WithUser sets the user the failure belongs to
func (e *PulseError) WithUser(userID string) *PulseError {
	e.UserID = userID
	return e
}

// WithAccount sets the account the failure belongs to
func (e *PulseError) WithAccount(accountID string) *PulseError {
	e.AccountID = accountID
	return e
}

// WithMethod sets the operation that failed
func (e *PulseError) WithMethod(method string) *PulseError {
	e.Method = method
	return e
}

// WithDetail adds a detail to the error
func (e *PulseError) WithDetail(key string, value interface{}) *PulseError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Fields returns the populated metadata as a flat map, for logging and HTTP responses
func (e *PulseError) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Details)+4)
	for k, v := range e.Details {
		out[k] = v
	}
	if e.Provider != "" {
		out["provider"] = e.Provider
	}
	if e.UserID != "" {
		out["user_id"] = e.UserID
	}
	if e.AccountID != "" {
		out["account_id"] = e.AccountID
	}
	if e.Method != "" {
		out["method"] = e.Method
	}
	return out
}

// NewPulseError creates a new pulse error
func NewPulseError(code ErrorCode, message string, err error) *PulseError {
	return &PulseError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is checks
var (
	ErrProviderNotFound            = NewPulseError(ErrCodeProviderNotFound, "provider not found", nil)
	ErrProviderConnectionFailed    = NewPulseError(ErrCodeProviderConnectionFailed, "provider connection failed", nil)
	ErrProviderDisconnectionFailed = NewPulseError(ErrCodeProviderDisconnectionFailed, "provider disconnection failed", nil)
	ErrAccountFetchFailed          = NewPulseError(ErrCodeAccountFetchFailed, "account fetch failed", nil)
	ErrTransactionFetchFailed      = NewPulseError(ErrCodeTransactionFetchFailed, "transaction fetch failed", nil)
	ErrAccountRefreshFailed        = NewPulseError(ErrCodeAccountRefreshFailed, "account refresh failed", nil)
	ErrValidation                  = NewPulseError(ErrCodeValidation, "invalid input", nil)
	ErrConfiguration               = NewPulseError(ErrCodeConfiguration, "invalid configuration", nil)
	ErrMethodNotSupported          = NewPulseError(ErrCodeMethodNotSupported, "method not supported", nil)
	ErrUnknown                     = NewPulseError(ErrCodeUnknown, "unknown error", nil)
)

// AsPulseError extracts a PulseError from an error chain
func AsPulseError(err error) (*PulseError, bool) {
	var pulseErr *PulseError
	if errors.As(err, &pulseErr) {
		return pulseErr, true
	}
	return nil, false
}

// GetErrorCode returns the code of a pulse error, or empty string if not a pulse error
func GetErrorCode(err error) ErrorCode {
	if pulseErr, ok := AsPulseError(err); ok {
		return pulseErr.Code
	}
	return ""
}

// IsCode checks if an error is a pulse error with the given code
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// Wrap tags err with code unless it already carries a PulseError, in which case the
// existing one is returned untouched. A nil err yields nil.
func Wrap(code ErrorCode, message string, err error) *PulseError {
	if err == nil {
		return nil
	}
	if pulseErr, ok := AsPulseError(err); ok {
		return pulseErr
	}
	if message == "" {
		message = err.Error()
	}
	return NewPulseError(code, message, err)
}

// FromPanic converts a recovered panic value into an error
func FromPanic(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return errors.New(fmt.Sprint(recovered))
}
