package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/resolver"
)

func TestUnitStart_FloorsToWindowBoundary(t *testing.T) {
	now := time.Unix(125, 0)
	assert.Equal(t, int64(120), unitStart(now, config.Minute))
	assert.Equal(t, int64(125), unitStart(now, config.Second))
}

func TestCounterKey_Format(t *testing.T) {
	key := counterKey("ratelimit", "api", []resolver.Entry{
		{Key: "endpoint", Value: "search"},
		{Key: "user", Value: "alice"},
	}, 1000)
	assert.Equal(t, "ratelimit_api_endpoint_search_user_alice_1000", key)
}

func TestCounterKey_SharesEpochWithinOneRequest(t *testing.T) {
	now := time.Unix(1234, 0)
	epoch := unitStart(now, config.Minute)

	k1 := counterKey("ratelimit", "api", []resolver.Entry{{Key: "a", Value: "1"}}, epoch)
	k2 := counterKey("ratelimit", "api", []resolver.Entry{{Key: "b", Value: "2"}}, epoch)

	assert.Contains(t, k1, "1200")
	assert.Contains(t, k2, "1200")
}
