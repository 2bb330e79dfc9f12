// Package metrics is the named hook the cache core calls into for
// observability, including the outcome of each backend operation (§4, §7
// of the spec); exposition itself (the
// /metrics HTTP handler) is a collaborator wired in cmd/ratelimit-service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hook is the observability surface the CORE depends on. Production code
// uses Prometheus; tests use a recording no-op implementation.
type Hook interface {
	RequestProcessed(domain string, code string)
	BackendOp(store string, err error)
	LocalCacheHit()
	LocalCacheEvicted()
	ShadowedOverLimit(domain string)
	NearLimit(domain string)
	RequestLatency(d time.Duration)
}

// Prometheus is the production Hook, registering the same families the
// teacher's rate-limit-service exposes, extended with the cache-core and
// backend-pool signals this CORE additionally needs.
type Prometheus struct {
	requestsTotal    *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	backendErrors    *prometheus.CounterVec
	localCacheHits   prometheus.Counter
	localCacheEvicts prometheus.Counter
	shadowedOverLim  *prometheus.CounterVec
	nearLimit        *prometheus.CounterVec
}

// NewPrometheus registers all metric families against reg and returns the
// Hook implementation.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_requests_total",
				Help: "Total number of rate limit requests processed",
			},
			[]string{"domain", "code"},
		),
		requestLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rate_limit_latency_seconds",
				Help:    "Rate limit request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		backendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_errors_total",
				Help: "Total number of backend store errors, by store",
			},
			[]string{"store"},
		),
		localCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "local_cache_hits_total",
				Help: "Requests short-circuited by the local over-limit cache",
			},
		),
		localCacheEvicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "local_cache_evictions_total",
				Help: "Entries evicted from the local over-limit cache",
			},
		),
		shadowedOverLim: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadow_mode_over_limit_total",
				Help: "Over-limit conditions detected under shadow_mode, by domain",
			},
			[]string{"domain"},
		),
		nearLimit: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "near_limit_total",
				Help: "Counters observed at or above the near-limit ratio, by domain",
			},
			[]string{"domain"},
		),
	}
}

func (p *Prometheus) RequestProcessed(domain, code string) {
	p.requestsTotal.WithLabelValues(domain, code).Inc()
}

func (p *Prometheus) BackendOp(store string, err error) {
	if err != nil {
		p.backendErrors.WithLabelValues(store).Inc()
	}
}

func (p *Prometheus) LocalCacheHit() { p.localCacheHits.Inc() }

func (p *Prometheus) LocalCacheEvicted() { p.localCacheEvicts.Inc() }

func (p *Prometheus) ShadowedOverLimit(domain string) {
	p.shadowedOverLim.WithLabelValues(domain).Inc()
}

func (p *Prometheus) NearLimit(domain string) {
	p.nearLimit.WithLabelValues(domain).Inc()
}

func (p *Prometheus) RequestLatency(d time.Duration) {
	p.requestLatency.Observe(d.Seconds())
}

// Noop is a Hook that discards every observation, useful for tests and for
// callers that don't want metrics wired at all.
type Noop struct{}

func (Noop) RequestProcessed(string, string) {}
func (Noop) BackendOp(string, error)         {}
func (Noop) LocalCacheHit()                  {}
func (Noop) LocalCacheEvicted()              {}
func (Noop) ShadowedOverLimit(string)        {}
func (Noop) NearLimit(string)                {}
func (Noop) RequestLatency(time.Duration)    {}
