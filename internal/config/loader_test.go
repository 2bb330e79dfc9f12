package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yufeireal/ratelimit/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDir_CompilesValidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "api.yaml", `
domain: api
descriptors:
  - key: endpoint
    value: search
    rate_limit:
      requests_per_unit: 100
      unit: minute
`)

	compiled, err := config.LoadDir(dir)
	require.NoError(t, err)
	root := compiled.Root("api")
	require.NotNil(t, root)
	child := root.Child("endpoint", "search")
	require.NotNil(t, child)
	require.Equal(t, uint32(100), child.RateLimit.RequestsPerUnit)
}

func TestLoadDir_EmptyDomainRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
domain: ""
descriptors:
  - key: a
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDir_EmptyDescriptorKeyRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
domain: api
descriptors:
  - key: ""
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDir_ZeroRequestsPerUnitWithoutUnlimitedRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
domain: api
descriptors:
  - key: a
    rate_limit:
      requests_per_unit: 0
      unit: minute
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDir_UnknownUnitRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
domain: api
descriptors:
  - key: a
    rate_limit:
      requests_per_unit: 1
      unit: fortnight
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDir_DuplicateSiblingsRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
domain: api
descriptors:
  - key: a
    value: x
  - key: a
    value: x
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)

	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoadDir_DisjointRootsAcrossFilesMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
domain: api
descriptors:
  - key: one
    rate_limit: {requests_per_unit: 1, unit: second}
`)
	writeFile(t, dir, "b.yaml", `
domain: api
descriptors:
  - key: two
    rate_limit: {requests_per_unit: 2, unit: second}
`)

	compiled, err := config.LoadDir(dir)
	require.NoError(t, err)
	root := compiled.Root("api")
	require.NotNil(t, root.Child("one", ""))
	require.NotNil(t, root.Child("two", ""))
}

func TestLoadDir_OverlappingRootsAcrossFilesRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
domain: api
descriptors:
  - key: one
    rate_limit: {requests_per_unit: 1, unit: second}
`)
	writeFile(t, dir, "b.yaml", `
domain: api
descriptors:
  - key: one
    rate_limit: {requests_per_unit: 2, unit: second}
`)

	_, err := config.LoadDir(dir)
	require.Error(t, err)
}

func TestLoadDir_UnlimitedSkipsRequestsPerUnit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "unlimited.yaml", `
domain: api
descriptors:
  - key: internal
    rate_limit:
      unlimited: true
      unit: second
`)

	compiled, err := config.LoadDir(dir)
	require.NoError(t, err)
	child := compiled.Root("api").Child("internal", "")
	require.True(t, child.RateLimit.Unlimited)
}

func TestLoadDir_ShadowMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shadow.yaml", `
domain: api
descriptors:
  - key: endpoint
    value: search
    shadow_mode: true
    rate_limit: {requests_per_unit: 100, unit: minute}
`)

	compiled, err := config.LoadDir(dir)
	require.NoError(t, err)
	child := compiled.Root("api").Child("endpoint", "search")
	require.True(t, child.RateLimit.ShadowMode)
}
