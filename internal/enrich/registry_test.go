package enrich

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `providers:
  - name: cheap
    base_url: https://cheap.example/v1
    api_key_env: CHEAP_API_KEY
    cost_per_lookup: 0.05
    daily_quota: 200
    min_confidence: 0.75
  - name: pricey
    base_url: https://pricey.example/v2
    api_key_env: PRICEY_API_KEY
    cost_per_lookup: 0.50
    daily_quota: 50
    min_confidence: 0.85
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)
	require.Len(t, reg.Providers, 2)

	cheap := reg.Providers[0]
	assert.Equal(t, "cheap", cheap.Name)
	assert.Equal(t, "https://cheap.example/v1", cheap.BaseURL)
	assert.Equal(t, "CHEAP_API_KEY", cheap.APIKeyEnv)
	assert.InDelta(t, 0.05, cheap.CostPerLookup, 1e-9)
	assert.Equal(t, 200, cheap.DailyQuota)
	assert.InDelta(t, 0.75, cheap.MinConfidence, 1e-9)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read registry")
}

func TestLoadRegistry_MalformedYAML(t *testing.T) {
	_, err := LoadRegistry(writeRegistry(t, "providers: [not: closed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse registry")
}

func TestLoadRegistry_RejectsFreeProvider(t *testing.T) {
	_, err := LoadRegistry(writeRegistry(t, `providers:
  - name: freebie
    base_url: https://free.example
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without cost")
}

func TestProviderAPIKey(t *testing.T) {
	p := Provider{APIKeyEnv: "REGISTRY_TEST_KEY"}
	assert.Empty(t, p.APIKey())

	t.Setenv("REGISTRY_TEST_KEY", "secret")
	assert.Equal(t, "secret", p.APIKey())

	assert.Empty(t, Provider{}.APIKey())
}
