// Package lock implements a cooperative, TTL-based lock registry on top of
// the metastore's backing database.
//
// Locks live in a prefixed table next to the metadata table and are
// acquired with the same conditional-insert primitive the store uses: the
// table's primary key decides the winner between concurrent acquirers. A
// lock is held by a client ID, is reentrant for that client, and expires
// after its TTL so a crashed holder cannot wedge other processes forever.
//
// This is advisory locking for coordination between cooperating processes,
// not a fencing mechanism: an expired holder is not prevented from acting,
// it only loses the ability to renew.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbrandywine/metakv/pkg/metastore"
)

// DefaultTTL is how long an acquired lock lives without renewal.
const DefaultTTL = 10 * time.Second

// ErrNilStore is returned by New when no store is provided.
var ErrNilStore = errors.New("store must not be nil")

// ErrEmptyKey is returned when a lock operation is called with an empty key.
var ErrEmptyKey = errors.New("lock key must not be empty")

// Repository grants and tracks locks in the %PREFIX%LOCK table.
//
// Each Repository instance has its own client ID, so two repositories are
// distinct lock holders even inside one process. A Repository is safe for
// concurrent use.
type Repository struct {
	store    *metastore.Store
	clientID string
	ttl      time.Duration
	queries  map[lockQuery]string
}

type lockQuery int

const (
	lockInsert lockQuery = iota
	lockRefresh
	lockRelease
	lockDeleteExpired
)

var lockTemplates = map[lockQuery]string{
	lockInsert: `
		INSERT INTO %PREFIX%LOCK (lock_key, region, client_id, created_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
	lockRefresh: `
		UPDATE %PREFIX%LOCK SET created_date = ?
		WHERE lock_key = ? AND region = ? AND client_id = ?`,
	lockRelease: `
		DELETE FROM %PREFIX%LOCK
		WHERE lock_key = ? AND region = ? AND client_id = ?`,
	lockDeleteExpired: `
		DELETE FROM %PREFIX%LOCK
		WHERE region = ? AND created_date < ?`,
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithTTL overrides the default lock time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.ttl = ttl }
}

// WithClientID fixes the client identity instead of generating one.
// Useful for a process that must survive a restart still holding its locks.
func WithClientID(id string) Option {
	return func(r *Repository) { r.clientID = id }
}

// New creates a lock repository over the store's database, table prefix,
// and region. The client ID defaults to a fresh UUID per repository.
func New(store *metastore.Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	r := &Repository{
		store:    store,
		clientID: uuid.NewString(),
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %v", r.ttl)
	}

	driver := store.Driver()
	r.queries = make(map[lockQuery]string, len(lockTemplates))
	for kind, tmpl := range lockTemplates {
		q := strings.ReplaceAll(tmpl, "%PREFIX%", store.TablePrefix())
		r.queries[kind] = driver.Rebind(q)
	}

	return r, nil
}

// ClientID returns the identity this repository acquires locks under.
func (r *Repository) ClientID() string {
	return r.clientID
}

// TTL returns the configured lock time-to-live.
func (r *Repository) TTL() time.Duration {
	return r.ttl
}

// Acquire attempts to take the lock for key. It returns true if this
// client now holds the lock - either freshly acquired, re-entered, or
// stolen from a holder whose TTL expired. A false return means another
// live client holds it.
//
// Expired rows are swept first so that the conditional insert below sees
// a clean table; the insert itself is the atomic step, decided by the
// lock table's primary key exactly like the metadata store's putIfAbsent.
func (r *Repository) Acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	if _, err := r.DeleteExpired(ctx); err != nil {
		return false, err
	}

	now := time.Now().UnixMilli()

	// Reentrant path: refresh a lock this client already holds.
	held, err := r.refresh(ctx, key, now)
	if err != nil {
		return false, err
	}
	if held {
		return true, nil
	}

	res, err := r.store.DB().ExecContext(ctx, r.queries[lockInsert],
		key, r.store.Region(), r.clientID, now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return affected > 0, nil
}

// Await blocks until the lock for key is acquired, polling at the given
// interval, or until ctx is done.
func (r *Repository) Await(ctx context.Context, key string, poll time.Duration) error {
	for {
		held, err := r.Acquire(ctx, key)
		if err != nil {
			return err
		}
		if held {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Renew extends the TTL of a lock this client holds. Returns false if the
// lock is no longer held by this client (released, expired and stolen, or
// never acquired).
func (r *Repository) Renew(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return r.refresh(ctx, key, time.Now().UnixMilli())
}

// refresh updates created_date on a row owned by this client.
func (r *Repository) refresh(ctx context.Context, key string, now int64) (bool, error) {
	res, err := r.store.DB().ExecContext(ctx, r.queries[lockRefresh],
		now, key, r.store.Region(), r.clientID)
	if err != nil {
		return false, fmt.Errorf("renew lock %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lock %q: %w", key, err)
	}
	return affected > 0, nil
}

// Release drops the lock for key if this client holds it. Returns false
// if there was nothing to release. Another client's lock is never touched.
func (r *Repository) Release(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	res, err := r.store.DB().ExecContext(ctx, r.queries[lockRelease],
		key, r.store.Region(), r.clientID)
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", key, err)
	}
	return affected > 0, nil
}

// DeleteExpired removes every lock in this region older than the TTL,
// regardless of holder. Returns the number of locks swept.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.ttl).UnixMilli()
	res, err := r.store.DB().ExecContext(ctx, r.queries[lockDeleteExpired],
		r.store.Region(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	return affected, nil
}
