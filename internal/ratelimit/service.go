// Package ratelimit is the cache core: given a resolved limit, it builds the
// per-window counter key, short-circuits against the local over-limit cache,
// batches backend increments, and classifies the result as OK, near-limit,
// or over-limit (§4.3 of the spec).
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/yufeireal/ratelimit/internal/backend"
	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/metrics"
	"github.com/yufeireal/ratelimit/internal/resolver"
)

// backendTTLSlack is added to the window divisor when setting a counter's
// TTL, so a key outlives its window slightly rather than expiring exactly
// at the boundary under clock skew between instances.
const backendTTLSlack = time.Second

// Code is the visible per-descriptor (and overall) verdict.
type Code int

const (
	OK Code = iota
	OverLimit
)

func (c Code) String() string {
	if c == OverLimit {
		return "OVER_LIMIT"
	}
	return "OK"
}

// classification is the pre-shadow-mask internal result of comparing a
// counter against its limit; only OverLimit can ever become the visible
// OverLimit code, and only after shadow-mode masking.
type classification int

const (
	classOK classification = iota
	classNearLimit
	classOverLimit
)

// DescriptorList is one descriptor chain within a batched request, with the
// number of hits it should count as.
type DescriptorList struct {
	Entries    []resolver.Entry
	HitsAddend uint32
}

// Request batches one or more descriptor lists under a single domain, per
// §4.3's should_rate_limit(domain, [(descriptors_i, hits_i)]).
type Request struct {
	Domain      string
	Descriptors []DescriptorList
}

// DescriptorStatus is the per-entry result §6 describes.
type DescriptorStatus struct {
	Code                Code
	CurrentLimit        *config.RateLimit
	LimitRemaining      uint32
	DurationUntilReset  time.Duration
}

// Response is the overall verdict plus one DescriptorStatus per input
// DescriptorList, in the same order.
type Response struct {
	OverallCode Code
	Statuses    []DescriptorStatus
}

// Service is the cache core.
type Service struct {
	compiler       *config.Compiler
	backend        backend.Pool
	local          *localOverLimitCache
	hook           metrics.Hook
	prefix         string
	nearLimitRatio float64
	now            func() time.Time
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	prefix             string
	nearLimitRatio     float64
	localCacheCapacity int64
	hook               metrics.Hook
	now                func() time.Time
}

// WithPrefix sets the counter key prefix. Default "ratelimit".
func WithPrefix(prefix string) Option {
	return func(o *serviceOptions) { o.prefix = prefix }
}

// WithNearLimitRatio sets the near-limit threshold ratio. Default 0.8.
func WithNearLimitRatio(ratio float64) Option {
	return func(o *serviceOptions) { o.nearLimitRatio = ratio }
}

// WithLocalCacheCapacity bounds the local over-limit cache. Default 1000.
func WithLocalCacheCapacity(capacity int64) Option {
	return func(o *serviceOptions) { o.localCacheCapacity = capacity }
}

// WithMetricHook overrides the metrics.Hook. Default metrics.Noop{}.
func WithMetricHook(hook metrics.Hook) Option {
	return func(o *serviceOptions) { o.hook = hook }
}

// WithClock overrides the time source, for deterministic window-boundary
// tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// New builds a Service backed by compiler and pool.
func New(compiler *config.Compiler, pool backend.Pool, opts ...Option) (*Service, error) {
	o := &serviceOptions{
		prefix:             "ratelimit",
		nearLimitRatio:     0.8,
		localCacheCapacity: 1000,
		hook:               metrics.Noop{},
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	local, err := newLocalOverLimitCache(o.localCacheCapacity, o.hook)
	if err != nil {
		return nil, err
	}

	return &Service{
		compiler:       compiler,
		backend:        pool,
		local:          local,
		hook:           o.hook,
		prefix:         o.prefix,
		nearLimitRatio: o.nearLimitRatio,
		now:            o.now,
	}, nil
}

type pendingOp struct {
	idx            int
	key            string
	limit          *config.RateLimit
	unitStartEpoch int64
}

// ShouldRateLimit is the cache core's one operation (§4.3). The overall
// verdict is OverLimit iff any descriptor list's limit is over, after
// shadow-mode masking.
func (s *Service) ShouldRateLimit(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	defer func() { s.hook.RequestLatency(s.now().Sub(start)) }()

	if len(req.Descriptors) == 0 {
		return &Response{OverallCode: OK}, nil
	}

	compiled := s.compiler.Current()
	now := s.now()
	nowEpoch := now.Unix()

	statuses := make([]DescriptorStatus, len(req.Descriptors))
	var ops []backend.Op
	var pending []pendingOp

	for i, dl := range req.Descriptors {
		limit := resolver.ResolveDeepest(compiled, req.Domain, dl.Entries)
		if limit == nil {
			statuses[i] = DescriptorStatus{Code: OK}
			continue
		}
		if limit.Unlimited {
			statuses[i] = DescriptorStatus{Code: OK, CurrentLimit: limit}
			continue
		}

		epoch := unitStart(now, limit.Unit)
		key := counterKey(s.prefix, req.Domain, dl.Entries, epoch)

		if s.local.overLimit(key, nowEpoch) {
			code := OverLimit
			if limit.ShadowMode {
				s.hook.ShadowedOverLimit(req.Domain)
				code = OK
			}
			statuses[i] = DescriptorStatus{
				Code:               code,
				CurrentLimit:       limit,
				LimitRemaining:     0,
				DurationUntilReset: remainingWindow(epoch, limit.Unit, now),
			}
			continue
		}

		// hits_addend == 0 still probes the counter rather than skipping
		// it: INCR BY 0 reads the current value without changing it
		// (besides creating the key at 0 if absent), matching a
		// read-without-modify use of the request per the open question
		// in §9.
		ttl := time.Duration(limit.Unit.Divisor())*time.Second + backendTTLSlack
		ops = append(ops, backend.Op{Key: key, Addend: dl.HitsAddend, TTL: ttl, Unit: limit.Unit})
		pending = append(pending, pendingOp{idx: i, key: key, limit: limit, unitStartEpoch: epoch})
	}

	if len(ops) > 0 {
		results := s.backend.Pipeline(ctx, ops)
		for n, result := range results {
			p := pending[n]
			s.hook.BackendOp(storeLabel(p.limit.Unit), result.Err)

			if result.Err != nil {
				// Fail-open: this counter's status is OK, the local
				// over-limit cache is left untouched, and the failure was
				// already surfaced via the hook above.
				statuses[p.idx] = DescriptorStatus{
					Code:               OK,
					CurrentLimit:       p.limit,
					LimitRemaining:     p.limit.RequestsPerUnit,
					DurationUntilReset: remainingWindow(p.unitStartEpoch, p.limit.Unit, now),
				}
				continue
			}

			statuses[p.idx] = s.classifyResult(req.Domain, p, result.Value, now)
		}
	}

	overall := OK
	for _, st := range statuses {
		if st.Code == OverLimit {
			overall = OverLimit
			break
		}
	}
	s.hook.RequestProcessed(req.Domain, overall.String())

	return &Response{OverallCode: overall, Statuses: statuses}, nil
}

func (s *Service) classifyResult(domain string, p pendingOp, counterValue uint64, now time.Time) DescriptorStatus {
	cls := classify(counterValue, p.limit, s.nearLimitRatio)

	if cls == classOverLimit {
		s.local.markOverLimit(p.key, p.unitStartEpoch+p.limit.Unit.Divisor())
	}
	if cls == classNearLimit {
		s.hook.NearLimit(domain)
	}

	visible := OK
	if cls == classOverLimit {
		visible = OverLimit
	}
	if cls == classOverLimit && p.limit.ShadowMode {
		s.hook.ShadowedOverLimit(domain)
		visible = OK
	}

	var remaining uint32
	if uint64(p.limit.RequestsPerUnit) > counterValue {
		remaining = p.limit.RequestsPerUnit - uint32(counterValue)
	}

	return DescriptorStatus{
		Code:               visible,
		CurrentLimit:       p.limit,
		LimitRemaining:     remaining,
		DurationUntilReset: remainingWindow(p.unitStartEpoch, p.limit.Unit, now),
	}
}

// classify compares a post-increment counter value against its limit.
// Strict greater-than is required for OverLimit: a counter exactly equal to
// requests_per_unit is OK.
func classify(n uint64, limit *config.RateLimit, nearLimitRatio float64) classification {
	limitVal := uint64(limit.RequestsPerUnit)
	if n > limitVal {
		return classOverLimit
	}
	threshold := uint64(math.Ceil(float64(limitVal) * nearLimitRatio))
	if n >= threshold {
		return classNearLimit
	}
	return classOK
}

func remainingWindow(epoch int64, unit config.Unit, now time.Time) time.Duration {
	resetEpoch := epoch + unit.Divisor()
	left := resetEpoch - now.Unix()
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * time.Second
}

func storeLabel(unit config.Unit) string {
	if unit == config.Second {
		return "persecond"
	}
	return "primary"
}
