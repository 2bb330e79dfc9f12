package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yufeireal/ratelimit/internal/config"
)

// StoreConfig describes one backend store connection.
type StoreConfig struct {
	// URL is a redis:// or rediss:// connection string, as accepted by
	// redis.ParseURL.
	URL string
	// PoolSize bounds the number of pooled connections to this store.
	PoolSize int
	// TLS enables a TLS handshake on the connection regardless of the
	// scheme in URL.
	TLS bool
	// InsecureSkipVerify disables certificate verification. Must be an
	// explicit opt-in; never defaulted on.
	InsecureSkipVerify bool
	// DialTimeout bounds the time spent establishing a new connection.
	DialTimeout time.Duration
}

func (s StoreConfig) client() (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(s.URL)
	if err != nil {
		return nil, fmt.Errorf("backend: parsing store url: %w", err)
	}
	if s.PoolSize > 0 {
		opts.PoolSize = s.PoolSize
	}
	if s.DialTimeout > 0 {
		opts.DialTimeout = s.DialTimeout
	}
	if s.TLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify} //nolint:gosec // opt-in only
	}
	return redis.NewClient(opts), nil
}

// RedisPool is the Pool implementation backed by go-redis. It routes
// SECOND-unit operations to an optional dedicated store and everything else
// to the primary store, matching §4.4's dual-store routing.
type RedisPool struct {
	primary   redis.UniversalClient
	perSecond redis.UniversalClient
	deadline  time.Duration
}

// NewRedisPool builds a RedisPool. perSecond may be nil to disable the
// per-second store split, in which case every op routes to primary.
func NewRedisPool(primary StoreConfig, perSecond *StoreConfig, deadline time.Duration) (*RedisPool, error) {
	primaryClient, err := primary.client()
	if err != nil {
		return nil, err
	}

	pool := &RedisPool{primary: primaryClient, deadline: deadline}

	if perSecond != nil {
		perSecondClient, err := perSecond.client()
		if err != nil {
			return nil, err
		}
		pool.perSecond = perSecondClient
	}

	return pool, nil
}

// storeFor returns the client that should handle ops of the given unit.
func (p *RedisPool) storeFor(unit config.Unit) redis.UniversalClient {
	if unit == config.Second && p.perSecond != nil {
		return p.perSecond
	}
	return p.primary
}

// Pipeline groups ops by destination store, issues one pipelined round-trip
// per store, and returns results in the original input order. A failure
// establishing or executing one store's pipeline fails every op routed to
// that store; ops routed to the other store are unaffected.
func (p *RedisPool) Pipeline(ctx context.Context, ops []Op) []Result {
	results := make([]Result, len(ops))

	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	groups := map[redis.UniversalClient][]int{}
	for i, op := range ops {
		client := p.storeFor(op.Unit)
		groups[client] = append(groups[client], i)
	}

	for client, indices := range groups {
		p.runGroup(ctx, client, ops, indices, results)
	}

	return results
}

func (p *RedisPool) runGroup(ctx context.Context, client redis.UniversalClient, ops []Op, indices []int, results []Result) {
	pipe := client.Pipeline()
	incrCmds := make([]*redis.IntCmd, len(indices))

	for n, idx := range indices {
		op := ops[idx]
		incrCmds[n] = pipe.IncrBy(ctx, op.Key, int64(op.Addend))
		pipe.Expire(ctx, op.Key, op.TTL)
	}

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		for _, idx := range indices {
			results[idx] = Result{Err: &Error{Op: "pipeline", Key: ops[idx].Key, Err: err}}
		}
		return
	}

	for n, idx := range indices {
		val, cmdErr := incrCmds[n].Result()
		if cmdErr != nil {
			results[idx] = Result{Err: &Error{Op: "incr", Key: ops[idx].Key, Err: cmdErr}}
			continue
		}
		results[idx] = Result{Value: uint64(val)}
	}
}

// HealthProbe pings every configured store.
func (p *RedisPool) HealthProbe(ctx context.Context) error {
	if err := p.primary.Ping(ctx).Err(); err != nil {
		return &Error{Op: "ping", Key: "primary", Err: err}
	}
	if p.perSecond != nil {
		if err := p.perSecond.Ping(ctx).Err(); err != nil {
			return &Error{Op: "ping", Key: "persecond", Err: err}
		}
	}
	return nil
}

// Close releases both store connections.
func (p *RedisPool) Close() error {
	if err := p.primary.Close(); err != nil {
		return err
	}
	if p.perSecond != nil {
		return p.perSecond.Close()
	}
	return nil
}
