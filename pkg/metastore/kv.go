package metastore

import (
	"context"
	"database/sql"
	"errors"
)

// Get returns the value stored under key. The second return is false if no
// record exists. Get is a single select: it never blocks on another
// operation's lock and never opens a multi-statement transaction.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var value string
	err := s.db.QueryRowContext(ctx, s.queries[queryGet], key, s.region).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, backendErr("get", err)
	}
	return value, true, nil
}

// PutIfAbsent stores value under key only if no record exists. It returns
// the previous value and existed=true if a record was already present
// (whether stored earlier or by a concurrent racer), or existed=false if
// this call created the record.
//
// After PutIfAbsent returns, exactly one record exists for key. The
// conditional insert is serialized against concurrent inserters by the
// table's primary key, not by any application lock. If the fallback read
// finds nothing (a concurrent Remove won the race), the whole sequence
// restarts from the insert; partial state is never reused across retries.
func (s *Store) PutIfAbsent(ctx context.Context, key, value string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	for {
		res, err := s.db.ExecContext(ctx, s.queries[queryInsertIfMissing], key, value, s.region)
		if err != nil {
			return "", false, backendErr("putIfAbsent", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", false, backendErr("putIfAbsent", err)
		}
		if affected > 0 {
			// The record did not exist before this call.
			return "", false, nil
		}

		// A record exists (or existed microseconds ago); report its value.
		var prev string
		err = s.db.QueryRowContext(ctx, s.queries[queryGet], key, s.region).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			// Deleted between the insert attempt and the read; start over.
			continue
		}
		if err != nil {
			return "", false, backendErr("putIfAbsent", err)
		}
		return prev, true, nil
	}
}

// Put stores value under key, creating or overwriting the record.
//
// The common "doesn't exist yet" path is a bare conditional insert with no
// lock taken. Only when a record already exists does Put open a
// transaction, take a locking read on the row, and update it while holding
// the lock. If the locking read finds the row gone (deleted concurrently),
// the attempt is abandoned and the whole operation restarts from the
// insert.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	for {
		res, err := s.db.ExecContext(ctx, s.queries[queryInsertIfMissing], key, value, s.region)
		if err != nil {
			return backendErr("put", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return backendErr("put", err)
		}
		if affected > 0 {
			return nil
		}

		done, err := s.updateExisting(ctx, key, value)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// Row vanished before it could be locked; retry from the insert.
	}
}

// updateExisting performs the update path of Put: lock the row, then
// overwrite it inside the same transaction. Returns done=false if the row
// no longer exists, in which case the caller restarts from the insert.
func (s *Store) updateExisting(ctx context.Context, key, value string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, backendErr("put", err)
	}
	defer tx.Rollback() // No-op if committed

	// Lock the row. The read value is deliberately discarded: holding the
	// lock is what makes the unconditional update below safe, and Put
	// promises no compare-and-swap semantics.
	var current string
	err = tx.QueryRowContext(ctx, s.queries[queryGetForUpdate], key, s.region).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, backendErr("put", err)
	}

	if _, err := tx.ExecContext(ctx, s.queries[queryReplaceByKey], value, key, s.region); err != nil {
		return false, backendErr("put", err)
	}

	if err := tx.Commit(); err != nil {
		return false, backendErr("put", err)
	}
	return true, nil
}

// Replace performs a compare-and-swap: the record's value becomes newValue
// only if its current value equals oldValue, using the backend's exact
// string comparison. Returns true iff the swap happened.
//
// A false return is a normal outcome, not an error, and Replace never
// retries - callers decide whether to re-read and try again.
func (s *Store) Replace(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	res, err := s.db.ExecContext(ctx, s.queries[queryReplace], newValue, key, oldValue, s.region)
	if err != nil {
		return false, backendErr("replace", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, backendErr("replace", err)
	}
	return affected > 0, nil
}

// Remove atomically reads and deletes the record under key, returning the
// removed value. If no record exists it returns existed=false and changes
// nothing.
//
// The read takes a row lock inside a transaction, so a concurrent Put on
// the same key blocks until the delete commits - no update can slip in
// between the read and the delete.
func (s *Store) Remove(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, backendErr("remove", err)
	}
	defer tx.Rollback() // No-op if committed

	var value string
	err = tx.QueryRowContext(ctx, s.queries[queryGetForUpdate], key, s.region).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing to delete.
		return "", false, nil
	}
	if err != nil {
		return "", false, backendErr("remove", err)
	}

	res, err := tx.ExecContext(ctx, s.queries[queryRemove], key, s.region)
	if err != nil {
		return "", false, backendErr("remove", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, backendErr("remove", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, backendErr("remove", err)
	}

	// Under correct row locking the delete always hits the locked row;
	// checked anyway so a miss degrades to "not found" rather than
	// reporting a value that was not removed.
	if affected == 0 {
		return "", false, nil
	}
	return value, true, nil
}
