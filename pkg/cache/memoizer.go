package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Producer computes the value for a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// Memoizer couples a Store with singleflight: concurrent callers that miss
// on the same fingerprint share one in-flight producer invocation.
type Memoizer struct {
	store Store
	group singleflight.Group
	log   *slog.Logger
}

// NewMemoizer wraps a store.
func NewMemoizer(store Store) *Memoizer {
	return &Memoizer{
		store: store,
		log:   slog.Default().With("component", "memoizer"),
	}
}

// Do returns the cached value for the fingerprint, invoking produce at most
// once across concurrent callers on a miss. The produced value is stored
// with the given ttl; producer errors are not cached.
func (m *Memoizer) Do(ctx context.Context, fingerprint string, ttl time.Duration, produce Producer) ([]byte, error) {
	if v, ok := m.store.Get(ctx, fingerprint); ok {
		return v, nil
	}

	v, err, shared := m.group.Do(fingerprint, func() (any, error) {
		// Recheck under the flight: a concurrent producer may have
		// populated the store between the miss and the flight start.
		if v, ok := m.store.Get(ctx, fingerprint); ok {
			return v, nil
		}
		value, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		m.store.Put(ctx, fingerprint, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.log.Debug("Memoized result shared across callers", "fingerprint", redactKey(fingerprint))
	}
	return v.([]byte), nil
}

// Invalidate drops the fingerprint from the store.
func (m *Memoizer) Invalidate(ctx context.Context, fingerprint string) {
	m.store.Delete(ctx, fingerprint)
}
