// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sellerscout/internal/cost"
	"github.com/sells-group/sellerscout/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	MarketData MarketDataConfig    `yaml:"marketdata" mapstructure:"marketdata"`
	Whois      WhoisConfig         `yaml:"whois" mapstructure:"whois"`
	Estimate   EstimateConfig      `yaml:"estimate" mapstructure:"estimate"`
	Discovery  DiscoveryConfig     `yaml:"discovery" mapstructure:"discovery"`
	Contacts   ContactsConfig      `yaml:"contacts" mapstructure:"contacts"`
	Domains    DomainsConfig       `yaml:"domains" mapstructure:"domains"`
	Enrich     EnrichConfig        `yaml:"enrich" mapstructure:"enrich"`
	Metrics    store.MetricsPolicy `yaml:"metrics" mapstructure:"metrics"`
	Pricing    cost.Rates          `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// MarketDataConfig holds the product/seller/storefront data provider
// settings.
type MarketDataConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Platform         string `yaml:"platform" mapstructure:"platform"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollMaxAttempts  int    `yaml:"poll_max_attempts" mapstructure:"poll_max_attempts"`
}

// WhoisConfig holds the registrant-lookup provider settings.
type WhoisConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// EstimateConfig configures the revenue estimator.
type EstimateConfig struct {
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	TopTierFraction float64 `yaml:"top_tier_fraction" mapstructure:"top_tier_fraction"`
	RefreshDays     int     `yaml:"refresh_days" mapstructure:"refresh_days"`
}

// DiscoveryConfig configures the seller discovery scheduler.
type DiscoveryConfig struct {
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
	ChunkDelaySecs int `yaml:"chunk_delay_secs" mapstructure:"chunk_delay_secs"`
	BatchLimit     int `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// ContactsConfig configures storefront contact extraction.
type ContactsConfig struct {
	BatchLimit      int  `yaml:"batch_limit" mapstructure:"batch_limit"`
	PrioritizeWhale bool `yaml:"prioritize_whale" mapstructure:"prioritize_whale"`
}

// DomainsConfig configures WHOIS domain enrichment.
type DomainsConfig struct {
	ChunkSize      int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelaySecs int `yaml:"chunk_delay_secs" mapstructure:"chunk_delay_secs"`
	BatchLimit     int `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// EnrichConfig configures the tiered contact enricher.
type EnrichConfig struct {
	RegistryPath     string  `yaml:"registry_path" mapstructure:"registry_path"`
	MinRevenue       float64 `yaml:"min_revenue" mapstructure:"min_revenue"`
	NeedsContacts    int     `yaml:"needs_contacts" mapstructure:"needs_contacts"`
	MaxCostPerSeller float64 `yaml:"max_cost_per_seller" mapstructure:"max_cost_per_seller"`
	SellerDelaySecs  int     `yaml:"seller_delay_secs" mapstructure:"seller_delay_secs"`
	BatchLimit       int     `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SELLERSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("marketdata.base_url", "https://api.marketdata.example.com/v1")
	v.SetDefault("marketdata.platform", "amazon")
	v.SetDefault("marketdata.poll_interval_secs", 8)
	v.SetDefault("marketdata.poll_max_attempts", 10)
	v.SetDefault("whois.base_url", "https://api.whoisxmlapi.com/v1")
	v.SetDefault("estimate.chunk_size", 1000)
	v.SetDefault("estimate.top_tier_fraction", 0.2)
	v.SetDefault("estimate.refresh_days", 7)
	v.SetDefault("discovery.concurrency", 5)
	v.SetDefault("discovery.chunk_delay_secs", 2)
	v.SetDefault("discovery.batch_limit", 100)
	v.SetDefault("contacts.batch_limit", 50)
	v.SetDefault("contacts.prioritize_whale", true)
	v.SetDefault("domains.chunk_size", 10)
	v.SetDefault("domains.chunk_delay_secs", 2)
	v.SetDefault("domains.batch_limit", 100)
	v.SetDefault("enrich.registry_path", "providers.yaml")
	v.SetDefault("enrich.min_revenue", 10000)
	v.SetDefault("enrich.needs_contacts", 5)
	v.SetDefault("enrich.max_cost_per_seller", 1.0)
	v.SetDefault("enrich.seller_delay_secs", 1)
	v.SetDefault("enrich.batch_limit", 25)
	v.SetDefault("metrics.whale_threshold", 100000)
	v.SetDefault("pricing.seller_lookup", 0.001)
	v.SetDefault("pricing.storefront_parse", 0.001)
	v.SetDefault("pricing.product_search", 0.002)
	v.SetDefault("pricing.whois_lookup", 0.001)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
