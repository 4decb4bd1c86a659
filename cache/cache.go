// Package cache provides a small read-through cache for derived views
// (member summaries, compliance reports) that are cheap to rebuild but
// hot on the HTTP surface. Entries are JSON strings keyed by group and
// member; writers invalidate by key after any state change.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the minimal surface the API layer needs. Implementations must
// be safe for concurrent use.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores a value with a time-to-live. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// SummaryKey is the cache key for one member's period summary.
func SummaryKey(groupID, memberID string) string {
	return fmt.Sprintf("summary:%s:%s", groupID, memberID)
}

// ComplianceKey is the cache key for a group's compliance report.
func ComplianceKey(groupID string) string {
	return fmt.Sprintf("compliance:%s", groupID)
}
