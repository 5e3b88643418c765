package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spocrawl/sharepoint-go/internal/crawl"
)

var flagRulesFile string

// newValidateCmd returns the "validate" command: check the configuration
// against the live tenant (credentials, tenant namespace, site-collection
// names) without emitting any documents. With --rules it additionally
// validates an advanced-filter rules file.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration against the tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flagRulesFile, "rules", "", "JSON file with advanced filter rules to validate")

	return cmd
}

func runValidate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)

	if flagRulesFile != "" {
		if err := validateRulesFile(flagRulesFile); err != nil {
			return err
		}

		fmt.Println("advanced rules valid")
	}

	client := buildClient(cfg, logger)
	source := crawl.NewSource(client, cfg.SharePoint.TenantName, cfg.SharePoint.SiteCollections, logger)

	if err := source.ValidateConfig(ctx); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("configuration valid")

	return nil
}

// validateRulesFile parses a JSON rules file and runs the structural check.
func validateRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rules file: %w", err)
	}

	var rules map[string]any
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	result := crawl.ValidateRules(rules)
	if !result.Valid {
		return fmt.Errorf("advanced rules invalid: %s", strings.Join(result.Errors, "; "))
	}

	return nil
}
