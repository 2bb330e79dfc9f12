// Command loadtest drives a running ratelimit-service over gRPC at a fixed
// rate for a fixed duration, reporting latency and OVER_LIMIT ratios through
// Prometheus so the results can be scraped the same way the service itself
// is scraped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	rlproto "github.com/envoyproxy/go-control-plane/envoy/extensions/common/ratelimit/v3"
	envoy "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadtest_requests_total",
			Help: "Total number of ShouldRateLimit calls made, by result code",
		},
		[]string{"code"},
	)
	requestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loadtest_request_duration_seconds",
			Help:    "ShouldRateLimit call latency distribution",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"domain"},
	)
)

type config struct {
	target        string
	domain        string
	descriptorKey string
	descriptorVal string
	numUsers      int
	rps           int
	duration      time.Duration
	concurrency   int
	enableMetrics bool
	metricsPort   int
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.target, "target", "localhost:8081", "ratelimit-service grpc address")
	flag.StringVar(&cfg.domain, "domain", "api", "descriptor domain to exercise")
	flag.StringVar(&cfg.descriptorKey, "key", "endpoint", "descriptor key to send")
	flag.StringVar(&cfg.descriptorVal, "value", "search", "descriptor value to send")
	flag.IntVar(&cfg.numUsers, "users", 3, "number of distinct simulated callers, appended as a user descriptor")
	flag.IntVar(&cfg.rps, "rps", 100, "requests per second")
	flag.DurationVar(&cfg.duration, "duration", 5*time.Minute, "test duration")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.BoolVar(&cfg.enableMetrics, "metrics", true, "enable prometheus metrics")
	flag.IntVar(&cfg.metricsPort, "metrics-port", 9091, "metrics port")
	flag.Parse()
	return cfg
}

func serveMetrics(port int) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("starting metrics server on :%d", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		log.Fatalf("failed to start metrics server: %v", err)
	}
}

func main() {
	cfg := parseFlags()

	if cfg.enableMetrics {
		go serveMetrics(cfg.metricsPort)
	}

	conn, err := grpc.NewClient(cfg.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("error: cannot dial ratelimit-service at %s: %v\n", cfg.target, err)
		os.Exit(1)
	}
	defer conn.Close()
	client := envoy.NewRateLimitServiceClient(conn)

	fmt.Printf("starting load test for %v with %d concurrent workers against %s\n", cfg.duration, cfg.concurrency, cfg.target)
	runLoadTest(client, cfg)
}

func runLoadTest(client envoy.RateLimitServiceClient, cfg *config) {
	ticker := time.NewTicker(time.Second / time.Duration(cfg.rps))
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.duration)
		close(done)
	}()

	jobs := make(chan int, cfg.rps)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go worker(client, cfg, jobs, &wg)
	}

loop:
	for userSeq := 0; ; userSeq++ {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			select {
			case jobs <- userSeq % cfg.numUsers:
			default:
			}
		}
	}

	close(jobs)
	wg.Wait()
}

func worker(client envoy.RateLimitServiceClient, cfg *config, jobs <-chan int, wg *sync.WaitGroup) {
	defer wg.Done()
	for userSeq := range jobs {
		req := &envoy.RateLimitRequest{
			Domain: cfg.domain,
			Descriptors: []*rlproto.RateLimitDescriptor{
				{
					Entries: []*rlproto.RateLimitDescriptor_Entry{
						{Key: cfg.descriptorKey, Value: cfg.descriptorVal},
						{Key: "user", Value: fmt.Sprintf("user-%d", userSeq)},
					},
				},
			},
			HitsAddend: 1,
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resp, err := client.ShouldRateLimit(ctx, req)
		cancel()
		requestLatency.WithLabelValues(cfg.domain).Observe(time.Since(start).Seconds())

		if err != nil {
			requestsTotal.WithLabelValues("transport_error").Inc()
			continue
		}
		requestsTotal.WithLabelValues(resp.GetOverallCode().String()).Inc()
	}
}
