package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// OnCommit registers an observer that runs after a WithTx transaction
// commits. Observers are opt-in and run on the calling goroutine.
func (s *Store) OnCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHooks = append(s.commitHooks, fn)
}

// OnRollback registers an observer that runs after a WithTx transaction
// rolls back.
func (s *Store) OnRollback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackHooks = append(s.rollbackHooks, fn)
}

// Suppress disables transaction observers until the returned release
// function is called. Calls nest: observers fire again only once every
// release has run. The synchronizer suppresses observers around its own
// internal transactions so a save-on-commit observer cannot recurse.
func (s *Store) Suppress() (release func()) {
	s.mu.Lock()
	s.suppress++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.suppress--
		s.mu.Unlock()
	}
}

// WithTx runs fn inside a transaction. The transaction commits if fn
// returns nil and rolls back otherwise; registered observers fire after
// the outcome unless suppressed.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		s.fire(s.snapshotHooks(false))
		return err
	}
	if err := tx.Commit(); err != nil {
		s.fire(s.snapshotHooks(false))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.fire(s.snapshotHooks(true))
	return nil
}

// snapshotHooks returns the observers to fire, or nil when suppressed.
func (s *Store) snapshotHooks(commit bool) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppress > 0 {
		return nil
	}
	if commit {
		return slices.Clone(s.commitHooks)
	}
	return slices.Clone(s.rollbackHooks)
}

func (s *Store) fire(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
