package db

import (
	"database/sql"
	"fmt"
	"regexp"
)

// Tx is a store transaction. All reads and writes of the trust graph go
// through one.
type Tx struct {
	tx *sql.Tx
}

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Savepoint opens a named savepoint inside the transaction.
func (t *Tx) Savepoint(name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.Exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("opening savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackTo undoes everything since the savepoint and releases it.
func (t *Tx) RollbackTo(name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.Exec("ROLLBACK TO SAVEPOINT " + name); err != nil {
		return fmt.Errorf("rolling back to savepoint %s: %w", name, err)
	}
	return t.Release(name)
}

// Release keeps the work done since the savepoint.
func (t *Tx) Release(name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.Exec("RELEASE SAVEPOINT " + name); err != nil {
		return fmt.Errorf("releasing savepoint %s: %w", name, err)
	}
	return nil
}
