// Package token implements the cached-token contract shared by the auth
// module and the metadata gate client: a token is fresh only while its
// remaining lifetime exceeds a safety margin, and a stale entry must never
// be handed back to a caller.
package token

import (
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Margin is the minimum remaining lifetime a cached token must have to be
// considered fresh. Anything at or below this must be re-minted.
const Margin = 5 * time.Minute

// Cached is an opaque access token plus its absolute expiry instant.
type Cached struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Fresh reports whether the token has more than margin left at now.
func (c Cached) Fresh(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && now.Add(margin).Before(c.ExpiresAt)
}

// Cache is a thread-safe, per-scope-key store of Cached tokens. It never
// blocks on I/O and never panics; Get simply reports a miss for anything it
// can't find or that has gone stale.
//
// It is backed by an expirable LRU (the same family
// apps/ReleaseParty/backend pulls in) purely as a bounded, concurrency-safe
// map; the expirable.LRU's own TTL is set far longer than any realistic
// token lifetime so whether an entry is served is decided by this
// package's Fresh check, not by the LRU's internal clock.
type Cache struct {
	margin time.Duration
	store  *lru.LRU[string, Cached]
}

// New returns a cache with the default freshness margin and a generous
// capacity (scope-key cardinality for a single user's dev tokens is tiny).
func New() *Cache {
	return NewWithMargin(Margin)
}

// NewWithMargin returns a cache using a custom freshness margin, for tests.
func NewWithMargin(margin time.Duration) *Cache {
	return &Cache{
		margin: margin,
		store:  lru.NewLRU[string, Cached](256, nil, 24*time.Hour),
	}
}

// Get returns the cached entry for key only if it is still fresh as of now.
func (c *Cache) Get(key string, now time.Time) (Cached, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		return Cached{}, false
	}
	if !entry.Fresh(now, c.margin) {
		return Cached{}, false
	}
	return entry, true
}

// Put stores entry under key, overwriting any prior value.
func (c *Cache) Put(key string, entry Cached) {
	c.store.Add(key, entry)
}

// ScopeKey canonicalizes a scope list into a stable cache key: sorted,
// deduplicated, comma-joined. An empty scope list canonicalizes to "".
func ScopeKey(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	cleaned := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		cleaned = append(cleaned, s)
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}
