package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spocrawl/sharepoint-go/internal/config"
	"github.com/spocrawl/sharepoint-go/internal/crawl"
	"github.com/spocrawl/sharepoint-go/internal/state"
)

// Crawl-specific flags.
var (
	flagDownloadDir string
	flagStateDB     string
	flagMaxAgeDays  int
)

// newCrawlCmd returns the "crawl" command: validate the configuration, walk
// the tenant, and emit one JSON document per line on stdout. Deferred
// download actions are only invoked when --download-dir opts in.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the tenant and emit documents as NDJSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flagDownloadDir, "download-dir", "", "directory to download binary content into (omit to skip downloads)")
	cmd.Flags().StringVar(&flagStateDB, "state", "", "sqlite database for incremental sync state (skips unchanged documents)")
	cmd.Flags().IntVar(&flagMaxAgeDays, "max-age", 0, "skip documents last modified more than this many days ago (0 = no limit)")

	return cmd
}

func runCrawl(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	applyCrawlFlags(cfg)

	logger := buildLogger(cfg)

	client := buildClient(cfg, logger)
	source := crawl.NewSource(client, cfg.SharePoint.TenantName, cfg.SharePoint.SiteCollections, logger)

	if err := source.ValidateConfig(ctx); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	var store *state.Store
	if cfg.Crawl.StateDB != "" {
		store, err = state.NewStore(cfg.Crawl.StateDB, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	return emitDocs(ctx, cfg, source, store, logger)
}

// applyCrawlFlags overlays crawl command flags on the config; flags win.
func applyCrawlFlags(cfg *config.Config) {
	if flagDownloadDir != "" {
		cfg.Crawl.DownloadDir = flagDownloadDir
	}

	if flagStateDB != "" {
		cfg.Crawl.StateDB = flagStateDB
	}

	if flagMaxAgeDays > 0 {
		cfg.Crawl.MaxDataAgeDays = flagMaxAgeDays
	}
}

// emitDocs consumes the document stream: age and state filtering, NDJSON
// output, and bounded-parallel execution of download actions. The crawl
// itself stays sequential; only the deferred downloads fan out.
func emitDocs(ctx context.Context, cfg *config.Config, source *crawl.Source, store *state.Store, logger *slog.Logger) error {
	crawlID := uuid.NewString()
	encoder := json.NewEncoder(os.Stdout)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Crawl.MaxDownloads)

	var emitted, skipped int

	for result, err := range source.Docs(ctx) {
		if err != nil {
			// Drain in-flight downloads before reporting.
			if waitErr := group.Wait(); waitErr != nil {
				logger.Error("download failed during shutdown", slog.String("error", waitErr.Error()))
			}

			return err
		}

		doc := result.Document

		if skip, err := shouldSkip(ctx, cfg, store, doc); err != nil {
			return err
		} else if skip {
			skipped++

			continue
		}

		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("encoding document %s: %w", doc.ID, err)
		}

		emitted++

		if store != nil {
			if err := store.Record(ctx, doc.ID, string(doc.ObjectType), doc.ModifiedAt, crawlID); err != nil {
				return err
			}
		}

		if cfg.Crawl.DownloadDir != "" && result.Download != nil {
			download := result.Download
			docID := doc.ID

			group.Go(func() error {
				return saveContent(groupCtx, cfg.Crawl.DownloadDir, docID, download, logger)
			})
		}
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("crawl finished",
		slog.Int("documents", emitted),
		slog.Int("skipped", skipped),
	)

	return nil
}

// shouldSkip applies the consumer-side filters: the max-age window and the
// incremental-sync state, both driven by the document's carried
// last-modified instant.
func shouldSkip(ctx context.Context, cfg *config.Config, store *state.Store, doc crawl.Document) (bool, error) {
	if cfg.Crawl.MaxDataAgeDays > 0 && !doc.ModifiedAt.IsZero() {
		cutoff := time.Now().AddDate(0, 0, -cfg.Crawl.MaxDataAgeDays)
		if doc.ModifiedAt.Before(cutoff) {
			return true, nil
		}
	}

	if store != nil {
		unchanged, err := store.Unchanged(ctx, doc.ID, doc.ModifiedAt)
		if err != nil {
			return false, err
		}

		if unchanged {
			return true, nil
		}
	}

	return false, nil
}

// saveContent invokes one deferred download action (perform = true) and
// streams the raw bytes into a file under dir.
func saveContent(ctx context.Context, dir, docID string, download *crawl.DownloadAction, logger *slog.Logger) error {
	name := sanitizeFilename(docID)
	if download.Name != "" {
		name += "_" + sanitizeFilename(download.Name)
	}

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	n, err := download.Do(ctx, true, f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("downloading content for %s: %w", docID, err)
	}

	logger.Debug("downloaded content",
		slog.String("path", path),
		slog.Int64("bytes", n),
	)

	return nil
}

// sanitizeFilename maps an upstream identifier onto a safe file name.
func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
