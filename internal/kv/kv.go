// Package kv provides the persisted key-value contract for verification state.
//
// All gate state lives under a session namespace so that one person's
// attempt history never collides with another's. The engine packages never
// touch storage directly; they receive a Store and operate on the named
// keys below.
//
// Keys per session:
//  1. verified-flag     - "true" once verification succeeds
//  2. verified-at       - unix milliseconds of success
//  3. last-attempt-at   - unix milliseconds of the most recent attempt
//  4. attempt-count     - total attempts for the session
//  5. block-level       - escalation level for backoff (never decreases)
//  6. blocked-until     - unix milliseconds until which attempts are refused
//  7. verification-log  - JSON array of outcome records, capped at 50
package kv

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when a key has no value for the session.
	ErrNotFound = errors.New("key not found")
)

// Well-known keys. Engines must use these constants rather than literals
// so the persisted contract stays stable across store backends.
const (
	KeyVerifiedFlag    = "verified-flag"
	KeyVerifiedAt      = "verified-at"
	KeyLastAttemptAt   = "last-attempt-at"
	KeyAttemptCount    = "attempt-count"
	KeyBlockLevel      = "block-level"
	KeyBlockedUntil    = "blocked-until"
	KeyVerificationLog = "verification-log"
)

// Store is the minimal persistence interface the gate depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key in the session namespace,
	// or ErrNotFound.
	Get(ctx context.Context, session, key string) (string, error)

	// Set writes the value for key in the session namespace.
	Set(ctx context.Context, session, key, value string) error

	// Delete removes key from the session namespace. Deleting a missing
	// key is not an error.
	Delete(ctx context.Context, session, key string) error

	// DeleteAll removes every key for the session.
	DeleteAll(ctx context.Context, session string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// GetInt reads an integer value, returning def when the key is missing
// or unparseable. Counters and levels are stored as decimal strings.
func GetInt(ctx context.Context, s Store, session, key string, def int) int {
	v, err := s.Get(ctx, session, key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SetInt writes an integer value as a decimal string.
func SetInt(ctx context.Context, s Store, session, key string, n int) error {
	return s.Set(ctx, session, key, strconv.Itoa(n))
}

// GetTime reads a timestamp stored as unix milliseconds. The zero time is
// returned when the key is missing or malformed.
func GetTime(ctx context.Context, s Store, session, key string) time.Time {
	v, err := s.Get(ctx, session, key)
	if err != nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SetTime writes a timestamp as unix milliseconds.
func SetTime(ctx context.Context, s Store, session, key string, t time.Time) error {
	return s.Set(ctx, session, key, strconv.FormatInt(t.UnixMilli(), 10))
}
