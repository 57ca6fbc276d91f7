// Package session is the Session Service: a subject-kind-keyed resolver
// registry plus a Redis-backed versioned token store (opaque refresh
// tokens, a per-subject version counter, atomic Lua rotation). Sessions
// are not hardcoded to one subject kind; any number of plugin-registered
// kinds (subject, guest, api-key holder, ...) can mint one.
package session

import (
	"context"
	"time"
)

// Store is the minimal Redis surface the session service drives. It is an
// interface so both a real go-redis client and miniredis (or a hand-rolled
// fake) can back it in tests.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) error
	// Move atomically relocates the value at src to dst with a new TTL,
	// returning (value, true) if src existed or ("", false) if it did not.
	// The Redis implementation does this with a single Lua script so the
	// read, delete and write can't interleave with a concurrent rotation.
	Move(ctx context.Context, src, dst string, ttl time.Duration) (string, bool, error)
}
