// Package apperror classifies engine failures so callers can choose the
// right user-facing reaction: connectivity problems surface a persistent
// offline state, transfer problems a one-shot notice.
package apperror

import "errors"

type Code string

const (
	// Connectivity covers probe and snapshot failures: timeout, transport
	// error, or a non-success status from the reachability endpoint.
	Connectivity Code = "CONNECTIVITY"
	// TransferInit covers a failed upload start; the optimistic record is
	// discarded and nothing is retried.
	TransferInit Code = "TRANSFER_INIT"
	// TransferBody covers a download that fails before the full body is
	// assembled; partial bytes are discarded.
	TransferBody Code = "TRANSFER_BODY"
	// Channel covers a dropped or rejected push channel session.
	Channel Code = "CHANNEL"
)

type AppError struct {
	code    Code
	message string
	err     error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap attaches a cause reachable via errors.Unwrap.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{code: code, message: message, err: err}
}

func (e *AppError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *AppError) Unwrap() error   { return e.err }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

// CodeOf extracts the classification from an error chain. The second return
// is false for errors that did not originate in this package.
func CodeOf(err error) (Code, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code, true
	}
	return "", false
}

// IsConnectivity reports whether err represents backend unreachability.
func IsConnectivity(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == Connectivity
}
