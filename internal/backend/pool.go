// Package backend is the connection-pooled client to the counter store: it
// pipelines batched increments, optionally splits per-second traffic onto a
// dedicated store, and reports per-operation failures without retrying them
// (retry, if any, is a caller policy per §4.4 of the spec).
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/yufeireal/ratelimit/internal/config"
)

// Op is one counter increment to perform: INCR key BY Addend, then EXPIRE
// key TTL (set unconditionally; harmless since TTL is stable per unit).
type Op struct {
	Key    string
	Addend uint32
	TTL    time.Duration
	Unit   config.Unit
}

// Result is the outcome of one Op within a pipelined batch. Err is set on
// backend failure for that counter only; other counters in the same batch
// are unaffected.
type Result struct {
	Value uint64
	Err   error
}

// Error wraps a backend failure for one operation, preserving which key and
// which kind of operation failed without leaking the underlying driver's
// error type to callers.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pool is the backend contract the cache core depends on. Implementations
// must be safe for concurrent use by many in-flight requests.
type Pool interface {
	// Pipeline executes every op as INCR+EXPIRE in one round-trip per
	// routed store and returns one Result per op, in input order.
	Pipeline(ctx context.Context, ops []Op) []Result

	// HealthProbe reports whether the backend is currently reachable.
	HealthProbe(ctx context.Context) error
}
