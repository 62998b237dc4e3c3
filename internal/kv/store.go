// Package kv is the thin typed facade over a clustered key/value store
// that every higher layer (sessions, slots, the upstream response cache)
// is built on. It never retries — callers decide whether a failure is
// recoverable.
package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrUnavailable wraps any failure reaching the underlying cluster.
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is the minimal interface the rest of the gateway depends on.
// ttl<=0 on Set means "leave any existing TTL untouched".
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
	Healthy(ctx context.Context) bool
}
