package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates an API caller failed authentication
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the API bearer token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the API bearer token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrAuth indicates the remote credentials or access token were rejected.
	// Not retried automatically; the account must be reconnected.
	ErrAuth = errors.New("remote authentication failed")

	// ErrRateLimited indicates the call budget is exhausted and the caller must back off
	ErrRateLimited = errors.New("rate limited")

	// ErrRemote indicates the remote service rejected the request
	ErrRemote = errors.New("remote error")

	// ErrNetwork indicates a transient transport failure or remote 5xx
	ErrNetwork = errors.New("network error")

	// ErrConflict indicates local and remote state diverged on a locked record
	ErrConflict = errors.New("conflict")

	// ErrRecordLocked indicates another sync of the same record is in progress
	ErrRecordLocked = errors.New("record is being synced")

	// ErrReconciliationRunning indicates an overlapping report is still running
	ErrReconciliationRunning = errors.New("reconciliation already running")

	// ErrNotConfigured indicates OAuth credentials have not been saved yet
	ErrNotConfigured = errors.New("credentials not configured")
)

// ErrorKind is the persisted classification of a failure.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindRemote      ErrorKind = "remote"
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindLocked      ErrorKind = "locked"
	ErrorKindInvalid     ErrorKind = "invalid_input"
	ErrorKindInternal    ErrorKind = "internal"
)

// Retryable reports whether a record-level retry can succeed without local correction.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindNetwork, ErrorKindRateLimited, ErrorKindLocked:
		return true
	}
	return false
}

// ErrorKindOf classifies err against the domain sentinels.
func ErrorKindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrAuth), errors.Is(err, ErrNotConfigured):
		return ErrorKindAuth
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrConflict):
		return ErrorKindConflict
	case errors.Is(err, ErrRecordLocked):
		return ErrorKindLocked
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	case errors.Is(err, ErrRemote):
		return ErrorKindRemote
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalid
	default:
		return ErrorKindInternal
	}
}

// RemoteError carries the classified outcome of a failed remote call.
// Unwrap returns the kind sentinel so errors.Is(err, ErrRemote) and friends work.
type RemoteError struct {
	Kind       error
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d, code %s): %s", e.Operation, e.Kind, e.StatusCode, e.Code, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d): %s", e.Operation, e.Kind, e.StatusCode, msg)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Operation, e.Kind, msg)
	}
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// NewRemoteError builds a RemoteError of the given kind.
func NewRemoteError(kind error, op string, status int, code, message string) *RemoteError {
	return &RemoteError{Kind: kind, Operation: op, StatusCode: status, Code: code, Message: message}
}

// ConflictError describes a locked remote invoice that no longer matches the local record.
type ConflictError struct {
	RecordID      string
	InvoiceID     string
	InvoiceStatus RemoteInvoiceStatus
	Mismatches    []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: remote invoice %s is %s and differs from record %s (%v)",
		e.InvoiceID, e.InvoiceStatus, e.RecordID, e.Mismatches)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
