package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/spocrawl/sharepoint-go/internal/config"
	"github.com/spocrawl/sharepoint-go/internal/spo"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "sharepoint-go.toml"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sharepoint-go",
		Short:   "SharePoint Online crawler",
		Long:    "Crawls a SharePoint Online tenant and emits normalized documents for downstream indexing.",
		Version: version,
		// Silence Cobra's default error/usage printing — main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// loadConfig resolves the effective configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(flagConfigPath)
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level is the baseline; --verbose and --quiet
// override it because CLI flags always win. Format auto-detection picks the
// text handler on a terminal and JSON otherwise, so piped output stays
// machine-readable.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.LogFormat
	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildHTTPClient returns the HTTP client shared by both API sessions.
func buildHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout: time.Duration(cfg.Network.TimeoutSeconds) * time.Second,
	}
}

// buildClient assembles the SharePoint client from the resolved config.
func buildClient(cfg *config.Config, logger *slog.Logger) *spo.Client {
	return spo.NewClient(spo.Config{
		TenantID:          cfg.SharePoint.TenantID,
		TenantName:        cfg.SharePoint.TenantName,
		ClientID:          cfg.SharePoint.ClientID,
		ClientSecret:      cfg.SharePoint.SecretValue,
		HTTPClient:        buildHTTPClient(cfg),
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		UserAgent:         cfg.Network.UserAgent,
	}, logger)
}
