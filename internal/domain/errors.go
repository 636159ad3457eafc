package domain

import "github.com/pkg/errors"

// Engine failure taxonomy. Every failure is recoverable at the conversation
// layer and leaves account state unchanged. Callers check with errors.Is.
var (
	// ErrInvalidAmount rejects a buy with usd amount <= 0.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidPercent rejects a sell with percent outside (0, 100].
	ErrInvalidPercent = errors.New("percent must be in (0, 100]")

	// ErrInvalidAddress rejects text that is not a valid token or wallet address.
	ErrInvalidAddress = errors.New("not a valid address")

	// ErrPriceUnavailable means the oracle could not quote the token. The
	// operation is aborted without retry; retry policy belongs to the caller.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInsufficientFunds rejects a buy exceeding the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPosition rejects a sell or PnL query on a token that is not held.
	ErrNoPosition = errors.New("no position in token")

	// ErrAccountNotFound is returned by stores for unknown accounts. The
	// ledger treats it as a trigger for lazy creation, never a user-facing error.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPersistence wraps adapter failures. The in-progress mutation is
	// rolled back wholesale; partial writes are unacceptable.
	ErrPersistence = errors.New("persistence failure")
)
