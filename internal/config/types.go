// Package config compiles declarative YAML rate limit definitions into the
// descriptor trie the resolver walks on the request hot path.
package config

import "fmt"

// Unit is a rate limit time unit, matching the Envoy-compatible contract.
type Unit int

const (
	UnitUnknown Unit = iota
	Second
	Minute
	Hour
	Day
)

// divisors maps each Unit to its window length in seconds.
var divisors = map[Unit]int64{
	Second: 1,
	Minute: 60,
	Hour:   3600,
	Day:    86400,
}

// Divisor returns the window length in seconds for u.
func (u Unit) Divisor() int64 {
	return divisors[u]
}

func (u Unit) String() string {
	switch u {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// ParseUnit converts the YAML unit string into a Unit, rejecting anything
// outside {second, minute, hour, day}.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "second":
		return Second, nil
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "day":
		return Day, nil
	default:
		return UnitUnknown, fmt.Errorf("unknown unit %q", s)
	}
}

// RateLimit is the compiled limit attached to a descriptor node.
type RateLimit struct {
	RequestsPerUnit uint32
	Unit            Unit
	Unlimited       bool
	ShadowMode      bool
}

// ValidationError reports a configuration problem with enough context to
// locate it: the source file and the descriptor path within it.
type ValidationError struct {
	File   string
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("%s: at %s: %s", e.File, e.Path, e.Reason)
}
