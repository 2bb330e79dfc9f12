// Package transport adapts the CORE's own ratelimit.Service to the
// Envoy-compatible gRPC contract (§6 of the spec). The CORE packages never
// import the proto types directly; this is the one place the conversion
// happens, the same separation the spec calls out in §1 by listing the
// transport layer as an external collaborator.
package transport

import (
	"context"

	envoy "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/ratelimit"
	"github.com/yufeireal/ratelimit/internal/resolver"
)

// Server implements envoy.RateLimitServiceServer over a ratelimit.Service.
type Server struct {
	envoy.UnimplementedRateLimitServiceServer
	core   *ratelimit.Service
	logger *zap.Logger
}

// NewServer wraps core as a gRPC RateLimitServiceServer.
func NewServer(core *ratelimit.Service, logger *zap.Logger) *Server {
	return &Server{core: core, logger: logger}
}

// ShouldRateLimit implements envoy.RateLimitServiceServer.
func (s *Server) ShouldRateLimit(ctx context.Context, req *envoy.RateLimitRequest) (*envoy.RateLimitResponse, error) {
	coreReq := ratelimit.Request{
		Domain:      req.GetDomain(),
		Descriptors: make([]ratelimit.DescriptorList, len(req.GetDescriptors())),
	}

	hits := req.GetHitsAddend()
	if hits == 0 {
		hits = 1
	}

	for i, descriptor := range req.GetDescriptors() {
		entries := make([]resolver.Entry, len(descriptor.GetEntries()))
		for j, e := range descriptor.GetEntries() {
			entries[j] = resolver.Entry{Key: e.GetKey(), Value: e.GetValue()}
		}
		coreReq.Descriptors[i] = ratelimit.DescriptorList{Entries: entries, HitsAddend: hits}
	}

	resp, err := s.core.ShouldRateLimit(ctx, coreReq)
	if err != nil {
		s.logger.Error("should_rate_limit failed", zap.Error(err), zap.String("domain", coreReq.Domain))
		return nil, err
	}

	return toProtoResponse(resp), nil
}

func toProtoResponse(resp *ratelimit.Response) *envoy.RateLimitResponse {
	out := &envoy.RateLimitResponse{
		OverallCode: toProtoCode(resp.OverallCode),
		Statuses:    make([]*envoy.RateLimitResponse_DescriptorStatus, len(resp.Statuses)),
	}

	for i, st := range resp.Statuses {
		status := &envoy.RateLimitResponse_DescriptorStatus{
			Code:               toProtoCode(st.Code),
			LimitRemaining:     st.LimitRemaining,
			DurationUntilReset: durationpb.New(st.DurationUntilReset),
		}
		if st.CurrentLimit != nil {
			status.CurrentLimit = &envoy.RateLimitResponse_RateLimit{
				RequestsPerUnit: st.CurrentLimit.RequestsPerUnit,
				Unit:            toProtoUnit(st.CurrentLimit.Unit),
			}
		}
		out.Statuses[i] = status
	}

	return out
}

func toProtoCode(c ratelimit.Code) envoy.RateLimitResponse_Code {
	if c == ratelimit.OverLimit {
		return envoy.RateLimitResponse_OVER_LIMIT
	}
	return envoy.RateLimitResponse_OK
}

func toProtoUnit(u config.Unit) envoy.RateLimitResponse_RateLimit_Unit {
	switch u {
	case config.Second:
		return envoy.RateLimitResponse_RateLimit_SECOND
	case config.Minute:
		return envoy.RateLimitResponse_RateLimit_MINUTE
	case config.Hour:
		return envoy.RateLimitResponse_RateLimit_HOUR
	case config.Day:
		return envoy.RateLimitResponse_RateLimit_DAY
	default:
		return envoy.RateLimitResponse_RateLimit_UNKNOWN
	}
}
