package cache

import (
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/dataset"
)

// Entry is a cached dataset.
type Entry struct {
	// Dataset is owned by the entry; readers get clones.
	Dataset *dataset.Dataset `json:"dataset"`

	// CachedAt is when the dataset was stored.
	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is the last instant the entry counts as a hit.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the entry is stale at now. An entry is still
// valid at exactly ExpiresAt.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTL returns the lifetime the entry was stored with.
// Returns 0 for inconsistent timestamps.
func (e *Entry) TTL() time.Duration {
	ttl := e.ExpiresAt.Sub(e.CachedAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Remaining returns the time until expiration at now.
// Returns 0 if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
