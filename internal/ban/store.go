// Package ban owns address lockout state. A record is active while the
// current time is before its expiry; expired records are removed lazily by
// the next read that touches them, never by a background sweep.
package ban

import (
	"context"
	"errors"
	"time"
)

const DefaultLockDuration = 15 * time.Minute

var ErrEmptyAddress = errors.New("empty address")

type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

type Record struct {
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	// Active reports whether address is locked out, evicting an expired record.
	Active(ctx context.Context, address string) (bool, error)
	// Upsert inserts or overwrites the record for address.
	Upsert(ctx context.Context, address string, expiresAt time.Time) error
	// List returns active records ordered by expiry.
	List(ctx context.Context) ([]Record, error)
	// Delete lifts a lockout. It reports whether a record existed.
	Delete(ctx context.Context, address string) (bool, error)
}
