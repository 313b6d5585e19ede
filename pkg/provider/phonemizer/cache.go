package phonemizer

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/MrWong99/readtutor/pkg/types"
)

// Cached memoises a [Provider]. Phonemization is deterministic per (text,
// dialect), so a cached sequence is always identical to a fresh one. Only
// successful results are stored, and callers always receive their own copy
// of the symbol slice.
//
// Cached is safe for concurrent use. Call Close to release the cache.
type Cached struct {
	next  Provider
	cache *ristretto.Cache[string, []string]
}

var (
	_ Provider    = (*Cached)(nil)
	_ VoiceLister = (*Cached)(nil)
)

// NewCached wraps next with a cache bounded to roughly maxBytes of symbol
// data.
func NewCached(next Provider, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("phonemizer: cache size must be positive, got %d", maxBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		// ~10x the expected number of entries, assuming ~100 bytes each.
		NumCounters: max(maxBytes/10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("phonemizer: create cache: %w", err)
	}
	return &Cached{next: next, cache: c}, nil
}

// Phonemize implements [Provider]. Both hits and misses are tagged with the
// canonical dialect, whatever spelling the caller used.
func (c *Cached) Phonemize(ctx context.Context, text, dialect string) (types.PhonemeSequence, error) {
	dialect = types.CanonicalDialect(dialect)
	key := dialect + "\x00" + text
	if syms, ok := c.cache.Get(key); ok {
		return types.PhonemeSequence{Dialect: dialect, Symbols: slices.Clone(syms)}, nil
	}

	seq, err := c.next.Phonemize(ctx, text, dialect)
	if err != nil {
		return seq, err
	}
	seq.Dialect = dialect
	c.cache.Set(key, slices.Clone(seq.Symbols), cost(key, seq.Symbols))
	return seq, nil
}

// Supports delegates to the wrapped provider.
func (c *Cached) Supports(dialect string) bool { return c.next.Supports(dialect) }

// Voices delegates to the wrapped provider when it can list voices.
func (c *Cached) Voices(ctx context.Context) ([]string, error) {
	vl, ok := c.next.(VoiceLister)
	if !ok {
		return nil, fmt.Errorf("phonemizer: %T cannot list voices", c.next)
	}
	return vl.Voices(ctx)
}

// Wait blocks until pending writes are visible to Get.
func (c *Cached) Wait() { c.cache.Wait() }

// Close stops the cache's background goroutines.
func (c *Cached) Close() { c.cache.Close() }

func cost(key string, syms []string) int64 {
	n := int64(len(key))
	for _, s := range syms {
		n += int64(len(s))
	}
	return n
}
