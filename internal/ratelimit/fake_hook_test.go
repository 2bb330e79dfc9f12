package ratelimit_test

import (
	"sync"
	"time"
)

// fakeHook records metric-hook invocations so tests can assert on them
// without standing up a Prometheus registry.
type fakeHook struct {
	mu               sync.Mutex
	shadowedOverLim  int
	nearLimit        int
	backendErrors    int
}

func (h *fakeHook) RequestProcessed(string, string) {}
func (h *fakeHook) BackendOp(_ string, err error) {
	if err != nil {
		h.mu.Lock()
		h.backendErrors++
		h.mu.Unlock()
	}
}
func (h *fakeHook) LocalCacheHit()     {}
func (h *fakeHook) LocalCacheEvicted() {}
func (h *fakeHook) ShadowedOverLimit(string) {
	h.mu.Lock()
	h.shadowedOverLim++
	h.mu.Unlock()
}
func (h *fakeHook) NearLimit(string) {
	h.mu.Lock()
	h.nearLimit++
	h.mu.Unlock()
}
func (h *fakeHook) RequestLatency(time.Duration) {}

func (h *fakeHook) shadowedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shadowedOverLim
}
