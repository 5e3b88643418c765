// Package config implements TOML configuration loading and validation for
// sharepoint-go. Layering is defaults -> config file -> environment ->
// CLI flags, with CLI flags winning.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	SharePoint SharePointConfig `toml:"sharepoint"`
	Network    NetworkConfig    `toml:"network"`
	Logging    LoggingConfig    `toml:"logging"`
	Crawl      CrawlConfig      `toml:"crawl"`
}

// SharePointConfig carries the tenant credentials and the site-collection
// filter. site_collections is either ["*"] (crawl everything) or an explicit
// list of site names.
type SharePointConfig struct {
	TenantID        string   `toml:"tenant_id"`
	TenantName      string   `toml:"tenant_name"`
	ClientID        string   `toml:"client_id"`
	SecretValue     string   `toml:"secret_value"`
	SiteCollections []string `toml:"site_collections"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	UserAgent         string  `toml:"user_agent"` // empty uses the built-in default
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "text", "json", or "" for auto
}

// CrawlConfig controls consumer-side crawl behavior: where deferred
// downloads land, where incremental-sync state lives, and how old a
// document may be before it is skipped.
type CrawlConfig struct {
	DownloadDir    string `toml:"download_dir"`
	StateDB        string `toml:"state_db"`
	MaxDataAgeDays int    `toml:"max_data_age_days"`
	MaxDownloads   int    `toml:"max_parallel_downloads"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		SharePoint: SharePointConfig{
			SiteCollections: []string{"*"},
		},
		Network: NetworkConfig{
			TimeoutSeconds:    30,
			RequestsPerSecond: 10,
		},
		Logging: LoggingConfig{
			LogLevel: "info",
		},
		Crawl: CrawlConfig{
			MaxDownloads: 4,
		},
	}
}
