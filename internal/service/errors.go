package service

import "errors"

// Business-rule errors returned synchronously to the caller. The engine
// never retries these.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrRecipientNotFound   = errors.New("recipient wallet not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrWalletLocked = errors.New("wallet is locked")

	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrSelfTransfer      = errors.New("cannot transfer to your own wallet")

	// ErrLockTimeout means the operation exceeded its lock-wait bound;
	// the caller may retry with backoff.
	ErrLockTimeout = errors.New("operation timed out waiting for wallet lock")

	// ErrGatewayFailure wraps any payment-provider failure. For
	// withdrawals it is surfaced only after compensation completed.
	ErrGatewayFailure = errors.New("payment gateway request failed")

	// ErrWalletNumberExhausted means wallet number generation hit its
	// attempt ceiling without finding a free number.
	ErrWalletNumberExhausted = errors.New("could not allocate a unique wallet number")
)
