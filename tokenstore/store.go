package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or its entry has expired.
	ErrNotFound = errors.New("token not found")
	// ErrBackend wraps failures of the underlying storage.
	ErrBackend = errors.New("token store backend unavailable")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("token store update conflict")
	// ErrInvalidTTL is returned when a write is attempted without a positive TTL.
	ErrInvalidTTL = errors.New("token store ttl must be positive")
)

// UpdateFunc computes the next value for a key from its current value.
//
// found reports whether a live entry existed. Returning a nil slice deletes
// the entry. Returning an error aborts the update without writing and the
// error is handed back to the caller of Update unchanged.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a keyed cache where every entry carries an absolute expiry.
//
// Entries past their expiry are indistinguishable from absent entries.
// Expiry is never extended by reads. Set replaces any prior entry for the key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take atomically reads and removes an entry.
	Take(ctx context.Context, key string) ([]byte, error)
	// Incr atomically increments a counter. A counter created by Incr expires
	// ttl after its creation; later increments keep the original expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Update performs an atomic read-modify-write. The stored entry, when
	// written, expires ttl from the write.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}
