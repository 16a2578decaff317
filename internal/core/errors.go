package core

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error discriminator. Display strings are
// kept separate from the code, mirroring msgjson.Error's (Code, Message)
// shape in the teacher's comms layer.
type Code string

const (
	// WalletVault / Session engine
	CodeInvalidPassword  Code = "INVALID_PASSWORD"
	CodeEncryptionFailed Code = "ENCRYPTION_FAILED"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionExpired   Code = "SESSION_EXPIRED"

	// OrderStateMachine / Executor
	CodeFilterRejected      Code = "FILTER_REJECTED"
	CodeNoRoute             Code = "NO_ROUTE"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeMinimumAmount       Code = "MINIMUM_AMOUNT"
	CodeSlippageExceeded    Code = "SLIPPAGE_EXCEEDED"
	CodeTransactionTimeout  Code = "TRANSACTION_TIMEOUT"
	CodeTransactionFailed   Code = "TRANSACTION_FAILED"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeAPIError            Code = "API_ERROR"
	CodeTimeout             Code = "TIMEOUT"
	CodeMaxRetriesExceeded  Code = "MAX_RETRIES_EXCEEDED"
	CodeUnknown             Code = "UNKNOWN"

	// WalletRotator
	CodeNoActiveWallet Code = "NO_ACTIVE_WALLET"
	CodeWalletNotOwned Code = "WALLET_NOT_OWNED"

	// CircuitBreaker
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

// Error is the discriminated result type used instead of panics/exceptions
// for everything that is not an invariant violation. Per the spec's design
// notes, invalid state transitions and accepted-length mismatches remain
// panics; everything else is an *Error.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewError constructs an *Error with a formatted detail string. The detail
// must never carry a secret (password, signing key, derived key) — callers
// are responsible for that guarantee, and no helper here accepts raw key
// material.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from an error if it is (or wraps) an *Error,
// otherwise returns CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
