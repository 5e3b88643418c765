package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults plus environment overrides. Supports
// credential-only-via-environment setups with no config file at all.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnv(cfg)

		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// applyEnv overlays SHAREPOINT_* environment variables on cfg. Environment
// beats the config file so secrets can stay out of files entirely.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SHAREPOINT_TENANT_ID"); v != "" {
		cfg.SharePoint.TenantID = v
	}

	if v := os.Getenv("SHAREPOINT_TENANT_NAME"); v != "" {
		cfg.SharePoint.TenantName = v
	}

	if v := os.Getenv("SHAREPOINT_CLIENT_ID"); v != "" {
		cfg.SharePoint.ClientID = v
	}

	if v := os.Getenv("SHAREPOINT_SECRET_VALUE"); v != "" {
		cfg.SharePoint.SecretValue = v
	}

	if v := os.Getenv("SHAREPOINT_SITE_COLLECTIONS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		cfg.SharePoint.SiteCollections = parts
	}
}
