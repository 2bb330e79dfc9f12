// Package resolver walks the compiled descriptor trie to find which limit,
// if any, applies to each entry of a request's descriptor list.
package resolver

import "github.com/yufeireal/ratelimit/internal/config"

// Entry is one (key, value) pair from a request's descriptor list.
type Entry struct {
	Key   string
	Value string
}

// Resolve returns one result per entry in descriptors, following
// longest-specific-match semantics: the first entry with no matching node
// stops further matching, and every subsequent entry resolves to nil.
func Resolve(compiled *config.Compiled, domain string, descriptors []Entry) []*config.RateLimit {
	out := make([]*config.RateLimit, len(descriptors))

	root := compiled.Root(domain)
	if root == nil {
		return out
	}

	current := root
	for i, entry := range descriptors {
		child := current.Child(entry.Key, entry.Value)
		if child == nil {
			// No match at this position: this and all following entries
			// resolve to no limit.
			break
		}
		out[i] = child.RateLimit
		current = child
	}

	return out
}

// ResolveDeepest returns the rate limit carried by the deepest node reached
// while walking the descriptor chain: matching stops at the first entry with
// no corresponding child, and the limit (possibly nil) of the last node
// actually matched is returned. The cache core uses this to resolve "the"
// limit for a descriptor list as a whole, per §4.3 step 1.
func ResolveDeepest(compiled *config.Compiled, domain string, descriptors []Entry) *config.RateLimit {
	root := compiled.Root(domain)
	if root == nil {
		return nil
	}

	current := root
	for _, entry := range descriptors {
		child := current.Child(entry.Key, entry.Value)
		if child == nil {
			break
		}
		current = child
	}
	return current.RateLimit
}
