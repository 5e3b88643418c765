package config

import (
	"fmt"
	"strings"
)

// Validate checks a Config for values that would make a crawl fail in
// confusing ways later. Each message names the offending key.
func Validate(cfg *Config) error {
	sp := cfg.SharePoint

	if sp.TenantID == "" {
		return fmt.Errorf("sharepoint.tenant_id is required")
	}

	if sp.TenantName == "" {
		return fmt.Errorf("sharepoint.tenant_name is required")
	}

	// Tenant name is a hostname prefix, never a full host.
	if strings.Contains(sp.TenantName, ".") {
		return fmt.Errorf(
			"sharepoint.tenant_name must be the bare tenant prefix (got %q; drop the .sharepoint.com suffix)",
			sp.TenantName,
		)
	}

	if sp.ClientID == "" {
		return fmt.Errorf("sharepoint.client_id is required")
	}

	if sp.SecretValue == "" {
		return fmt.Errorf("sharepoint.secret_value is required")
	}

	if len(sp.SiteCollections) == 0 {
		return fmt.Errorf("sharepoint.site_collections must be [\"*\"] or an explicit list of site names")
	}

	for _, name := range sp.SiteCollections {
		if name == "" {
			return fmt.Errorf("sharepoint.site_collections contains an empty name")
		}
	}

	if cfg.Network.TimeoutSeconds <= 0 {
		return fmt.Errorf("network.timeout_seconds must be positive (got %d)", cfg.Network.TimeoutSeconds)
	}

	if cfg.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("network.requests_per_second must not be negative (got %g)", cfg.Network.RequestsPerSecond)
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level must be one of debug, info, warn, error (got %q)", cfg.Logging.LogLevel)
	}

	switch cfg.Logging.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.log_format must be text or json (got %q)", cfg.Logging.LogFormat)
	}

	if cfg.Crawl.MaxDataAgeDays < 0 {
		return fmt.Errorf("crawl.max_data_age_days must not be negative (got %d)", cfg.Crawl.MaxDataAgeDays)
	}

	if cfg.Crawl.MaxDownloads <= 0 {
		return fmt.Errorf("crawl.max_parallel_downloads must be positive (got %d)", cfg.Crawl.MaxDownloads)
	}

	return nil
}
