package resolver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yufeireal/ratelimit/internal/config"
	"github.com/yufeireal/ratelimit/internal/resolver"
)

func compileYAML(t *testing.T, yaml string) *config.Compiled {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "domain.yaml"), []byte(yaml), 0o644))
	compiled, err := config.LoadDir(dir)
	require.NoError(t, err)
	return compiled
}

func TestResolve_SimpleLimit(t *testing.T) {
	compiled := compileYAML(t, `
domain: api
descriptors:
  - key: endpoint
    value: search
    rate_limit:
      requests_per_unit: 100
      unit: minute
`)

	limits := resolver.Resolve(compiled, "api", []resolver.Entry{{Key: "endpoint", Value: "search"}})
	require.Len(t, limits, 1)
	require.NotNil(t, limits[0])
	require.Equal(t, uint32(100), limits[0].RequestsPerUnit)
	require.Equal(t, config.Minute, limits[0].Unit)
}

func TestResolve_WildcardValueMatchesAnyValue(t *testing.T) {
	compiled := compileYAML(t, `
domain: api
descriptors:
  - key: user
    rate_limit:
      requests_per_unit: 10
      unit: second
`)

	limits := resolver.Resolve(compiled, "api", []resolver.Entry{{Key: "user", Value: "alice"}})
	require.NotNil(t, limits[0])
	require.Equal(t, uint32(10), limits[0].RequestsPerUnit)
}

func TestResolve_ExactBeatsWildcard(t *testing.T) {
	compiled := compileYAML(t, `
domain: api
descriptors:
  - key: user
    rate_limit:
      requests_per_unit: 10
      unit: second
  - key: user
    value: admin
`)

	limits := resolver.Resolve(compiled, "api", []resolver.Entry{{Key: "user", Value: "admin"}})
	require.Nil(t, limits[0], "exact node has no rate_limit and must win over the wildcard sibling")
}

func TestResolve_NonMatchingPrefixStopsFurtherMatching(t *testing.T) {
	compiled := compileYAML(t, `
domain: api
descriptors:
  - key: a
    descriptors:
      - key: b
        rate_limit:
          requests_per_unit: 1
          unit: second
`)

	limits := resolver.Resolve(compiled, "api", []resolver.Entry{
		{Key: "a", Value: "x"},
		{Key: "nope", Value: "y"},
		{Key: "b", Value: "z"},
	})
	require.Len(t, limits, 3)
	require.Nil(t, limits[0])
	require.Nil(t, limits[1])
	require.Nil(t, limits[2], "entries after the first miss must all resolve to no limit")
}

func TestResolve_UnknownDomainYieldsAllNone(t *testing.T) {
	compiled := compileYAML(t, `
domain: api
descriptors:
  - key: a
`)

	limits := resolver.Resolve(compiled, "nonexistent", []resolver.Entry{{Key: "a", Value: "b"}})
	require.Len(t, limits, 1)
	require.Nil(t, limits[0])
}

func TestResolveDeepest_NestedDescriptors(t *testing.T) {
	compiled := compileYAML(t, `
domain: messaging
descriptors:
  - key: message_type
    value: marketing
    descriptors:
      - key: to_number
        rate_limit:
          requests_per_unit: 5
          unit: day
`)

	deep := resolver.ResolveDeepest(compiled, "messaging", []resolver.Entry{
		{Key: "message_type", Value: "marketing"},
		{Key: "to_number", Value: "+15551234"},
	})
	require.NotNil(t, deep)
	require.Equal(t, uint32(5), deep.RequestsPerUnit)

	shallow := resolver.ResolveDeepest(compiled, "messaging", []resolver.Entry{
		{Key: "message_type", Value: "marketing"},
	})
	require.Nil(t, shallow, "parent node defines no rate_limit on its own")
}
