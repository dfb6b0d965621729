package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Compile-time check that SQLiteLedger implements Ledger.
var _ Ledger = (*SQLiteLedger)(nil)

const createAccountsTable = `create table if not exists accounts(
	id text primary key,
	credits integer not null,
	updated_at DATETIME not null
);`

// SQLiteLedger is a Ledger backed by a single SQLite table.
type SQLiteLedger struct {
	db      *sql.DB
	initial int
}

// OpenSQLite opens (creating if needed) the ledger database at path.
// Unknown accounts are provisioned with initialCredits when it is positive.
func OpenSQLite(path string, initialCredits int) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	// Single connection: writers are serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	if _, err := db.Exec(createAccountsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create accounts table: %w", err)
	}
	return &SQLiteLedger{db: db, initial: initialCredits}, nil
}

// dsn appends the driver options used by the ledger unless path already
// carries a query string.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Balance returns the credits of account.
func (l *SQLiteLedger) Balance(ctx context.Context, account string) (int, error) {
	if err := l.provision(ctx, account); err != nil {
		return 0, err
	}
	var credits int
	err := l.db.QueryRowContext(ctx, `select credits from accounts where id = ?`, account).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return credits, nil
}

// Decrement removes one credit in a single statement.
func (l *SQLiteLedger) Decrement(ctx context.Context, account string) (int, error) {
	if err := l.provision(ctx, account); err != nil {
		return 0, err
	}
	var credits int
	err := l.db.QueryRowContext(ctx,
		`update accounts set credits = credits - 1, updated_at = ? where id = ? returning credits`,
		time.Now().UTC(), account,
	).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("decrement balance: %w", err)
	}
	return credits, nil
}

// SetBalance overwrites the credits of account.
func (l *SQLiteLedger) SetBalance(ctx context.Context, account string, credits int) error {
	if strings.TrimSpace(account) == "" {
		return ErrAccountRequired
	}
	_, err := l.db.ExecContext(ctx,
		`insert into accounts (id, credits, updated_at) values (?, ?, ?)
		 on conflict(id) do update set credits = excluded.credits, updated_at = excluded.updated_at`,
		account, credits, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// provision creates account with the initial credits if configured.
func (l *SQLiteLedger) provision(ctx context.Context, account string) error {
	if strings.TrimSpace(account) == "" {
		return ErrAccountRequired
	}
	if l.initial <= 0 {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`insert into accounts (id, credits, updated_at) values (?, ?, ?) on conflict(id) do nothing`,
		account, l.initial, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("provision account: %w", err)
	}
	return nil
}
