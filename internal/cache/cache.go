// Package cache implements the analytics result cache.
//
// Computed risk scores and dashboard list queries are cached under
// deterministic keys with explicit TTLs. Invalidation is group-scoped:
// per student, per course, or a full flush. Backends that cannot delete
// by pattern may flush a whole group instead; that is a deliberately
// coarse but correctness-preserving fallback.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cache is a key/value store with TTLs and group-scoped invalidation.
// All operations are best-effort: a failing cache never blocks a
// computation, callers log errors and move on.
type Cache interface {
	// Get returns the cached value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// InvalidateUser drops all entries referencing the given student.
	InvalidateUser(ctx context.Context, userID int64) error

	// InvalidateCourse drops list/stat entries for the given course.
	InvalidateCourse(ctx context.Context, courseID int64) error

	// Flush drops everything.
	Flush(ctx context.Context) error
}

const keyPrefix = "edupulse"

// RiskScoreKey is the cache key for a (student, course) risk result.
func RiskScoreKey(userID, courseID int64) string {
	return fmt.Sprintf("%s:risk:u%d:c%d", keyPrefix, userID, courseID)
}

// AtRiskListKey is the cache key for an at-risk dashboard query.
func AtRiskListKey(filters map[string]string) string {
	return fmt.Sprintf("%s:list:atrisk:%s", keyPrefix, FilterHash(filters))
}

// StatsKey is the cache key for per-course intervention statistics.
func StatsKey(courseID int64, days int) string {
	return fmt.Sprintf("%s:stats:c%d:d%d", keyPrefix, courseID, days)
}

// FilterHash produces a deterministic digest of a filter set. Keys are
// sorted before hashing so equal logical queries always hash identically
// regardless of map iteration order.
func FilterHash(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// Patterns used by group invalidation. Only a single '*' wildcard is
// supported; both backends understand this subset.
func userRiskPattern(userID int64) string {
	return fmt.Sprintf("%s:risk:u%d:c*", keyPrefix, userID)
}

func courseStatsPattern(courseID int64) string {
	return fmt.Sprintf("%s:stats:c%d:*", keyPrefix, courseID)
}

func listPattern() string {
	return keyPrefix + ":list:*"
}

// matchPattern reports whether key matches a pattern containing at most
// one '*' wildcard.
func matchPattern(key, pattern string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return key == pattern
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix)
}
