package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/resolver"
)

// unitStart floors now to the start of the current fixed window for unit.
func unitStart(now time.Time, unit config.Unit) int64 {
	divisor := unit.Divisor()
	if divisor <= 0 {
		divisor = 1
	}
	seconds := now.Unix()
	return (seconds / divisor) * divisor
}

// counterKey builds the cross-instance counter key described in §3:
// "{prefix}_{domain}_{k1}_{v1}_{k2}_{v2}..._{unit_start_epoch}".
func counterKey(prefix, domain string, descriptors []resolver.Entry, unitStartEpoch int64) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(domain)
	for _, d := range descriptors {
		b.WriteByte('_')
		b.WriteString(d.Key)
		b.WriteByte('_')
		b.WriteString(d.Value)
	}
	b.WriteByte('_')
	fmt.Fprintf(&b, "%d", unitStartEpoch)
	return b.String()
}

func secondsUntil(epoch int64) time.Duration {
	d := time.Duration(epoch) * time.Second
	now := time.Duration(time.Now().Unix()) * time.Second
	if d <= now {
		return 0
	}
	return d - now
}
