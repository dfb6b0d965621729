// Package ledger stores account credit balances. One credit pays for one
// completed separation job.
package ledger

import (
	"context"
	"errors"
)

// Static errors for ledger operations.
var (
	// ErrAccountNotFound is returned for unknown accounts when automatic
	// provisioning is disabled.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountRequired is returned when an operation is called without an account id.
	ErrAccountRequired = errors.New("account id is required")
)

// Ledger is the account balance store.
// Implementations must make Decrement atomic per account.
type Ledger interface {
	// Balance returns the current credits of account.
	Balance(ctx context.Context, account string) (int, error)
	// Decrement removes one credit unconditionally and returns the new balance,
	// which may be negative.
	Decrement(ctx context.Context, account string) (int, error)
	// SetBalance overwrites the balance of account, creating it if needed.
	SetBalance(ctx context.Context, account string, credits int) error
}
