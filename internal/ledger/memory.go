package ledger

import (
	"context"
	"strings"
	"sync"
)

// Compile-time check that MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-memory Ledger for development and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
	initial  int
}

// NewMemoryLedger creates a MemoryLedger. Unknown accounts are provisioned
// with initialCredits on first use when it is positive.
func NewMemoryLedger(initialCredits int) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int),
		initial:  initialCredits,
	}
}

// Balance returns the credits of account.
func (l *MemoryLedger) Balance(_ context.Context, account string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(account)
}

// Decrement removes one credit from account.
func (l *MemoryLedger) Decrement(_ context.Context, account string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.lookup(account); err != nil {
		return 0, err
	}
	l.balances[account]--
	return l.balances[account], nil
}

// SetBalance overwrites the credits of account.
func (l *MemoryLedger) SetBalance(_ context.Context, account string, credits int) error {
	if strings.TrimSpace(account) == "" {
		return ErrAccountRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = credits
	return nil
}

// lookup returns the balance, provisioning the account if configured.
// Callers hold l.mu.
func (l *MemoryLedger) lookup(account string) (int, error) {
	if strings.TrimSpace(account) == "" {
		return 0, ErrAccountRequired
	}
	if b, ok := l.balances[account]; ok {
		return b, nil
	}
	if l.initial <= 0 {
		return 0, ErrAccountNotFound
	}
	l.balances[account] = l.initial
	return l.initial, nil
}
