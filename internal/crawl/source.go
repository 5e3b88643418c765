package crawl

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/spocrawl/sharepoint-go/internal/spo"
)

// reservedContentType marks list items that are system artifacts, not
// content. Items of this type are never emitted.
const reservedContentType = "Web Template Extensions"

// unknownNamespaceType is the login endpoint's answer for tenant names that
// do not resolve to a SharePoint Online tenant.
const unknownNamespaceType = "Unknown"

// API is the slice of the SharePoint client the orchestrator drives.
// Defined at the consumer so tests can substitute a fake tenant.
type API interface {
	CheckAccess(ctx context.Context) error
	TenantDetails(ctx context.Context) (*spo.TenantDetails, error)
	SiteCollections(ctx context.Context) iter.Seq2[spo.SiteCollection, error]
	Sites(ctx context.Context, rootSiteID string, names []string) iter.Seq2[spo.Site, error]
	SiteDrives(ctx context.Context, siteID string) iter.Seq2[spo.Drive, error]
	DriveItems(ctx context.Context, driveID string) iter.Seq2[spo.DriveItem, error]
	SiteLists(ctx context.Context, siteID string) iter.Seq2[spo.SiteList, error]
	SiteListItems(ctx context.Context, siteID, listID string) iter.Seq2[spo.ListItem, error]
	SiteListItemAttachments(ctx context.Context, siteWebURL, listTitle, listItemID string) iter.Seq2[spo.Attachment, error]
	SitePages(ctx context.Context, siteWebURL string) iter.Seq2[spo.SitePage, error]
	DownloadDriveItem(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error)
	DownloadAttachment(ctx context.Context, attachmentPath string, w io.Writer) (int64, error)
}

// ConfigField describes one recognized configuration key for the external
// configuration loader. The crawl only consumes resolved values; it never
// parses configuration itself.
type ConfigField struct {
	Key       string
	Label     string
	Sensitive bool
	Default   any
}

// DefaultConfiguration enumerates the configuration keys the source needs.
func DefaultConfiguration() []ConfigField {
	return []ConfigField{
		{Key: "tenant_id", Label: "Tenant Id"},
		{Key: "tenant_name", Label: "Tenant Name"},
		{Key: "client_id", Label: "Client ID"},
		{Key: "secret_value", Label: "Secret Value", Sensitive: true},
		{Key: "site_collections", Label: "Comma-separated list of site collections to index", Default: spo.Wildcard},
	}
}

// Source walks the tenant hierarchy (site collections → sites → drives →
// items, sites → lists → items → attachments, sites → pages) in a single
// lazy pass. Suspension happens at every network call; when the consumer
// stops pulling, no further requests are issued.
type Source struct {
	client          API
	tenantName      string
	siteCollections []string
	logger          *slog.Logger
}

// NewSource creates a crawl source over the given client. siteCollections
// is either the wildcard sentinel or the explicit site names to include.
func NewSource(client API, tenantName string, siteCollections []string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	if len(siteCollections) == 0 {
		siteCollections = []string{spo.Wildcard}
	}

	return &Source{
		client:          client,
		tenantName:      tenantName,
		siteCollections: siteCollections,
		logger:          logger,
	}
}

// wildcard reports whether the source crawls all sites.
func (s *Source) wildcard() bool {
	return len(s.siteCollections) == 1 && s.siteCollections[0] == spo.Wildcard
}

// ValidateConfig verifies the configuration end to end before any crawl
// work: both credentials must be able to issue tokens, the tenant must be a
// real SharePoint Online namespace, and every explicitly configured site
// collection name must exist. Every failure carries an operator-actionable
// message.
func (s *Source) ValidateConfig(ctx context.Context) error {
	if err := s.client.CheckAccess(ctx); err != nil {
		return err
	}

	details, err := s.client.TenantDetails(ctx)
	if err != nil {
		return fmt.Errorf("fetching tenant details: %w", err)
	}

	if details.NameSpaceType == "" || details.NameSpaceType == unknownNamespaceType {
		return fmt.Errorf(
			"tenant name %q could not be resolved to a SharePoint Online tenant (NameSpaceType: %q)",
			s.tenantName, details.NameSpaceType,
		)
	}

	if s.wildcard() {
		return nil
	}

	return s.validateSiteCollections(ctx)
}

// validateSiteCollections checks every configured site name against the
// sites actually present in the tenant, reporting all missing names at once.
func (s *Source) validateSiteCollections(ctx context.Context) error {
	remote := make(map[string]bool)

	for collection, err := range s.client.SiteCollections(ctx) {
		if err != nil {
			return fmt.Errorf("listing site collections: %w", err)
		}

		for site, err := range s.client.Sites(ctx, collection.Hostname, []string{spo.Wildcard}) {
			if err != nil {
				return fmt.Errorf("listing sites of %s: %w", collection.Hostname, err)
			}

			remote[site.Name] = true
		}
	}

	var missing []string

	for _, name := range s.siteCollections {
		if !remote[name] {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"the following configured site collections do not exist in the tenant: %s",
			strings.Join(missing, ", "),
		)
	}

	return nil
}

// Docs walks the hierarchy and yields one Result per document, interleaving
// containers with their descendants in branch order: the site collection,
// then per site the site itself, its drives and drive items, its lists,
// list items and attachments, and finally its pages.
func (s *Source) Docs(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		logger := s.logger.With(slog.String("crawl_id", uuid.NewString()))
		logger.Info("starting crawl", slog.String("tenant", s.tenantName))

		for collection, err := range s.client.SiteCollections(ctx) {
			if err != nil {
				yield(Result{}, err)

				return
			}

			if !yield(Result{Document: siteCollectionDoc(collection)}, nil) {
				return
			}

			for site, err := range s.client.Sites(ctx, collection.Hostname, s.siteCollections) {
				if err != nil {
					yield(Result{}, err)

					return
				}

				if !yield(Result{Document: siteDoc(site)}, nil) {
					return
				}

				if !s.emitDrives(ctx, site, yield) {
					return
				}

				if !s.emitLists(ctx, site, yield) {
					return
				}

				if !s.emitPages(ctx, site, yield) {
					return
				}
			}
		}

		logger.Info("crawl complete")
	}
}

// emitDrives walks the drives branch of one site. Returns false when the
// consumer stopped or an error was delivered.
func (s *Source) emitDrives(ctx context.Context, site spo.Site, yield func(Result, error) bool) bool {
	for drive, err := range s.client.SiteDrives(ctx, site.ID) {
		if err != nil {
			return yieldErr(yield, err)
		}

		if !yield(Result{Document: driveDoc(drive)}, nil) {
			return false
		}

		for item, err := range s.client.DriveItems(ctx, drive.ID) {
			if err != nil {
				return yieldErr(yield, err)
			}

			if !yield(Result{
				Document: driveItemDoc(item),
				Download: s.driveItemDownload(item),
			}, nil) {
				return false
			}
		}
	}

	return true
}

// emitLists walks the lists branch of one site, excluding reserved
// content-type items and expanding attachments for items that carry the
// Attachments marker.
func (s *Source) emitLists(ctx context.Context, site spo.Site, yield func(Result, error) bool) bool {
	for list, err := range s.client.SiteLists(ctx, site.ID) {
		if err != nil {
			return yieldErr(yield, err)
		}

		if !yield(Result{Document: listDoc(list)}, nil) {
			return false
		}

		for item, err := range s.client.SiteListItems(ctx, site.ID, list.ID) {
			if err != nil {
				return yieldErr(yield, err)
			}

			if item.ContentType == reservedContentType {
				continue
			}

			if !yield(Result{Document: listItemDoc(item, list)}, nil) {
				return false
			}

			if item.HasAttachments {
				if !s.emitAttachments(ctx, site, list, item, yield) {
					return false
				}
			}
		}
	}

	return true
}

// emitAttachments yields one document per attachment of a list item, each
// carrying a download action.
func (s *Source) emitAttachments(ctx context.Context, site spo.Site, list spo.SiteList, item spo.ListItem, yield func(Result, error) bool) bool {
	for attachment, err := range s.client.SiteListItemAttachments(ctx, site.WebURL, list.Name, item.ID) {
		if err != nil {
			return yieldErr(yield, err)
		}

		if !yield(Result{
			Document: attachmentDoc(attachment, item),
			Download: s.attachmentDownload(attachment),
		}, nil) {
			return false
		}
	}

	return true
}

// emitPages walks the pages branch of one site. Page bodies are inline, so
// no download action is attached.
func (s *Source) emitPages(ctx context.Context, site spo.Site, yield func(Result, error) bool) bool {
	for page, err := range s.client.SitePages(ctx, site.WebURL) {
		if err != nil {
			return yieldErr(yield, err)
		}

		if !yield(Result{Document: pageDoc(page)}, nil) {
			return false
		}
	}

	return true
}

// yieldErr delivers err to the consumer and always stops the walk.
func yieldErr(yield func(Result, error) bool, err error) bool {
	yield(Result{}, err)

	return false
}

// driveItemDownload builds the deferred download for a drive item, or nil
// when the item has no downloadable content (folders, zero-byte files).
func (s *Source) driveItemDownload(item spo.DriveItem) *DownloadAction {
	if !item.IsFile || item.Size == 0 {
		return nil
	}

	driveID, itemID := item.DriveID, item.ID

	return &DownloadAction{
		Name: item.Name,
		Size: item.Size,
		fetch: func(ctx context.Context, w io.Writer) (int64, error) {
			return s.client.DownloadDriveItem(ctx, driveID, itemID, w)
		},
	}
}

// attachmentDownload builds the deferred download for a list item attachment.
func (s *Source) attachmentDownload(attachment spo.Attachment) *DownloadAction {
	path := attachment.ODataID

	return &DownloadAction{
		Name: attachment.Name,
		fetch: func(ctx context.Context, w io.Writer) (int64, error) {
			return s.client.DownloadAttachment(ctx, path, w)
		},
	}
}

// Document builders. IDs follow the upstream identity of each object kind.

func siteCollectionDoc(c spo.SiteCollection) Document {
	return Document{
		ID:         c.WebURL,
		ObjectType: TypeSiteCollection,
		Fields:     c.Fields,
	}
}

func siteDoc(site spo.Site) Document {
	return Document{
		ID:         site.ID,
		ObjectType: TypeSite,
		ModifiedAt: site.ModifiedAt,
		Fields:     site.Fields,
	}
}

func driveDoc(drive spo.Drive) Document {
	return Document{
		ID:         drive.ID,
		ObjectType: TypeSiteDrive,
		ModifiedAt: drive.ModifiedAt,
		Fields:     drive.Fields,
	}
}

func driveItemDoc(item spo.DriveItem) Document {
	return Document{
		ID:         item.ID,
		ObjectType: TypeDriveItem,
		ModifiedAt: item.ModifiedAt,
		ParentID:   item.DriveID,
		Fields:     item.Fields,
	}
}

func listDoc(list spo.SiteList) Document {
	return Document{
		ID:         list.ID,
		ObjectType: TypeSiteList,
		ModifiedAt: list.ModifiedAt,
		Fields:     list.Fields,
	}
}

func listItemDoc(item spo.ListItem, list spo.SiteList) Document {
	return Document{
		ID:         item.ID,
		ObjectType: TypeListItem,
		ModifiedAt: item.ModifiedAt,
		ParentID:   list.ID,
		Fields:     item.Fields,
	}
}

func attachmentDoc(attachment spo.Attachment, item spo.ListItem) Document {
	return Document{
		ID:         attachment.ODataID,
		ObjectType: TypeListItemAttachment,
		ModifiedAt: item.ModifiedAt,
		ParentID:   item.ID,
		Fields:     attachment.Fields,
	}
}

// pageDoc synthesizes a page_text field from the canvas HTML alongside the
// verbatim page fields, so consumers get searchable text without parsing
// markup themselves.
func pageDoc(page spo.SitePage) Document {
	fields := make(map[string]any, len(page.Fields)+1)
	for k, v := range page.Fields {
		fields[k] = v
	}

	if text := PageText(page.CanvasHTML); text != "" {
		fields["page_text"] = text
	}

	return Document{
		ID:         page.GUID,
		ObjectType: TypeSitePage,
		ModifiedAt: page.ModifiedAt,
		Fields:     fields,
	}
}
