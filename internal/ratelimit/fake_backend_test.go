package ratelimit_test

import (
	"context"
	"errors"
	"sync"

	"github.com/yufeireal/ratelimit/internal/backend"
)

// fakeBackend is an in-memory backend.Pool for cache-core tests: it tracks
// every pipelined op so tests can assert on call counts, and can be told to
// fail every subsequent op to exercise fail-open behavior.
type fakeBackend struct {
	mu       sync.Mutex
	counters map[string]uint64
	calls    int
	failing  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{counters: map[string]uint64{}}
}

func (f *fakeBackend) Pipeline(_ context.Context, ops []backend.Op) []backend.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls += len(ops)
	results := make([]backend.Result, len(ops))
	for i, op := range ops {
		if f.failing {
			results[i] = backend.Result{Err: errors.New("backend unreachable")}
			continue
		}
		f.counters[op.Key] += uint64(op.Addend)
		results[i] = backend.Result{Value: f.counters[op.Key]}
	}
	return results
}

func (f *fakeBackend) HealthProbe(context.Context) error {
	if f.failing {
		return errors.New("backend unreachable")
	}
	return nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
