// Package artifact caches dependency-bootstrap downloads — ONNX runtime
// libraries and model files — behind a small key/value Store interface.
// Backends compose into tiers (memory in front of disk, optionally a
// shared Redis tier) so a restarted worker never re-downloads an artifact
// another worker already fetched.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("artifact: not found")

// Store is a content cache keyed by artifact key (see Key).
type Store interface {
	// Get returns the cached bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, overwriting any previous value.
	Put(ctx context.Context, key string, data []byte) error
}

// Key derives a stable cache key from an artifact URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Tiered is a Store that consults tiers in order on Get — first hit wins,
// and the value is backfilled into the tiers in front of it — and writes
// through every tier on Put. Tier errors other than ErrNotFound are
// treated as misses on Get; a Put error aborts.
type Tiered struct {
	tiers []Store
}

// NewTiered creates a tiered store. Order tiers fastest first.
func NewTiered(tiers ...Store) *Tiered {
	return &Tiered{tiers: tiers}
}

// Get implements Store.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range t.tiers {
		data, err := tier.Get(ctx, key)
		if err != nil {
			continue
		}
		// Backfill the faster tiers that missed.
		for j := range i {
			_ = t.tiers[j].Put(ctx, key, data)
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// Put implements Store.
func (t *Tiered) Put(ctx context.Context, key string, data []byte) error {
	for _, tier := range t.tiers {
		if err := tier.Put(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}
