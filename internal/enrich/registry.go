package enrich

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Provider is one entry in the tiered lookup chain.
type Provider struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the key; a provider
	// without a configured key is never eligible.
	APIKeyEnv string `yaml:"api_key_env"`
	// CostPerLookup in USD, charged per attempted call.
	CostPerLookup float64 `yaml:"cost_per_lookup"`
	// DailyQuota caps attempted calls per provider per UTC day.
	DailyQuota int `yaml:"daily_quota"`
	// MinConfidence is the bar above which a returned candidate is persisted
	// as verified.
	MinConfidence float64 `yaml:"min_confidence"`
}

// APIKey resolves the provider's key from the environment.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Registry is the static, ordered provider chain.
type Registry struct {
	Providers []Provider `yaml:"providers"`
}

// LoadRegistry reads a provider registry from a YAML file and validates it.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read registry %s", path)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, eris.Wrapf(err, "enrich: parse registry %s", path)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate rejects registries with unnamed or free providers.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Providers))
	for _, p := range r.Providers {
		if p.Name == "" {
			return eris.New("enrich: provider without a name")
		}
		if seen[p.Name] {
			return eris.Errorf("enrich: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return eris.Errorf("enrich: provider %q without base_url", p.Name)
		}
		if p.CostPerLookup <= 0 {
			return eris.Errorf("enrich: provider %q without cost", p.Name)
		}
	}
	return nil
}

// ByCost returns the providers sorted by ascending per-lookup cost; ties
// keep registry order.
func (r *Registry) ByCost() []Provider {
	out := make([]Provider, len(r.Providers))
	copy(out, r.Providers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CostPerLookup < out[j].CostPerLookup
	})
	return out
}
