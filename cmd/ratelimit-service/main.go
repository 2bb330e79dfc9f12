// Command ratelimit-service wires the rate limit CORE to an Envoy-compatible
// gRPC listener and a Prometheus/health HTTP listener. It is the one
// reference wiring of the transport collaborator the spec deliberately
// keeps out of the CORE packages.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	envoy "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/yufeireal/ratelimit/internal/backend"
	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/metrics"
	"github.com/yufeireal/ratelimit/internal/ratelimit"
	"github.com/yufeireal/ratelimit/internal/transport"
)

type settings struct {
	configDir        string
	redisURL         string
	redisPerSecond   string
	redisTLS         bool
	cacheSize        int64
	nearLimitRatio   float64
	keyPrefix        string
	backendTimeout   time.Duration
	grpcPort         int
	metricsPort      int
	poolSize         int
}

func settingsFromEnv() settings {
	return settings{
		configDir:      getenv("RATELIMIT_CONFIG_DIR", "/etc/ratelimit/config"),
		redisURL:       getenv("RATELIMIT_REDIS_URL", "redis://localhost:6379/0"),
		redisPerSecond: os.Getenv("RATELIMIT_REDIS_PERSECOND_URL"),
		redisTLS:       getenvBool("RATELIMIT_REDIS_TLS", false),
		cacheSize:      getenvInt64("RATELIMIT_CACHE_SIZE", 1000),
		nearLimitRatio: getenvFloat("RATELIMIT_NEAR_LIMIT_RATIO", 0.8),
		keyPrefix:      getenv("RATELIMIT_KEY_PREFIX", "ratelimit"),
		backendTimeout: time.Duration(getenvInt64("RATELIMIT_BACKEND_TIMEOUT_MS", 100)) * time.Millisecond,
		grpcPort:       int(getenvInt64("RATELIMIT_GRPC_PORT", 8081)),
		metricsPort:    int(getenvInt64("RATELIMIT_METRICS_PORT", 9090)),
		poolSize:       int(getenvInt64("RATELIMIT_POOL_SIZE", 10)),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			logger.Warn("failed to sync logger", zap.Error(err))
		}
	}()

	cfg := settingsFromEnv()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ratelimit-service exited with error", zap.Error(err))
	}
}

func run(cfg settings, logger *zap.Logger) error {
	compiler, err := config.NewCompiler(cfg.configDir, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := compiler.WatchAndReload(500 * time.Millisecond); err != nil {
		logger.Warn("config hot-reload disabled", zap.Error(err))
	}
	defer compiler.Stop()

	var perSecond *backend.StoreConfig
	if cfg.redisPerSecond != "" {
		perSecond = &backend.StoreConfig{URL: cfg.redisPerSecond, PoolSize: cfg.poolSize, TLS: cfg.redisTLS}
	}
	pool, err := backend.NewRedisPool(
		backend.StoreConfig{URL: cfg.redisURL, PoolSize: cfg.poolSize, TLS: cfg.redisTLS},
		perSecond,
		cfg.backendTimeout,
	)
	if err != nil {
		return fmt.Errorf("connecting to backend store: %w", err)
	}
	defer pool.Close()

	hook := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	core, err := ratelimit.New(compiler, pool,
		ratelimit.WithPrefix(cfg.keyPrefix),
		ratelimit.WithNearLimitRatio(cfg.nearLimitRatio),
		ratelimit.WithLocalCacheCapacity(cfg.cacheSize),
		ratelimit.WithMetricHook(hook),
	)
	if err != nil {
		return fmt.Errorf("constructing cache core: %w", err)
	}

	grpcServer := grpc.NewServer()
	envoy.RegisterRateLimitServiceServer(grpcServer, transport.NewServer(core, logger))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.grpcPort))
	if err != nil {
		return fmt.Errorf("listening on grpc port: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/healthcheck", transport.HealthHandler(pool))
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.metricsPort), Handler: httpMux}

	go func() {
		logger.Info("http listener starting", zap.Int("port", cfg.metricsPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http listener error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("grpc listener starting", zap.Int("port", cfg.grpcPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc listener error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
