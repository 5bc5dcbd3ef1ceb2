package payment

import (
	"errors"
	"fmt"

	"github.com/musclefoot/musclefoot/internal/solana"
)

// ErrorKind is the category of a failed payment.
type ErrorKind string

const (
	ErrInsufficientBalance ErrorKind = "insufficient_balance"
	ErrWalletNotReady      ErrorKind = "wallet_not_ready"
	ErrConnectFailed       ErrorKind = "connect_failed"
	ErrNetworkUnavailable  ErrorKind = "network_unavailable"
	ErrUserRejected        ErrorKind = "user_rejected"
	ErrBroadcast           ErrorKind = "broadcast_error"
	ErrOnChainFailure      ErrorKind = "on_chain_failure"
	ErrConfirmationTimeout ErrorKind = "confirmation_timeout"
	ErrBusy                ErrorKind = "busy"
	ErrInvalidPurchase     ErrorKind = "invalid_purchase"
)

// Error is returned for every failed payment. Broadcast reports whether the
// transaction reached the network, in which case funds may have left the
// wallet even though no game effect was applied.
type Error struct {
	Kind      ErrorKind
	Signature solana.Signature
	Broadcast bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "payment failed: " + string(e.Kind)
	}
	return fmt.Sprintf("payment failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a payment error, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
