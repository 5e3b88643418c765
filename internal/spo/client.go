package spo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// Wildcard is the site-name filter sentinel meaning "all sites".
const Wildcard = "*"

// Pagination cursor field names. The Graph API and the legacy REST API spell
// their next-page links differently.
const (
	graphScrollField = "@odata.nextLink"
	restScrollField  = "odata.nextLink"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	defaultLoginBaseURL = "https://login.microsoftonline.com"
)

// Config carries the tenant credentials for a Client.
type Config struct {
	TenantID     string
	TenantName   string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// RequestsPerSecond bounds outgoing request rate across both APIs.
	// Zero disables client-side pacing.
	RequestsPerSecond float64

	// UserAgent overrides the default User-Agent header when non-empty.
	UserAgent string
}

// Client exposes typed, endpoint-specific operations over the Graph API and
// the legacy tenant-scoped REST API. It enforces that every fully-qualified
// SharePoint URL it is handed belongs to the configured tenant.
type Client struct {
	tenantName string

	graph *Session
	rest  *Session

	graphToken *TokenCache
	restToken  *TokenCache

	graphBaseURL string
	loginBaseURL string

	logger *slog.Logger
}

// NewClient creates a Client with two token caches (Graph OAuth2
// client-credentials, legacy REST ACS) and one rate limiter shared across
// both sessions, since SharePoint throttles per tenant.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	graphToken := NewGraphToken(httpClient, cfg.TenantID, cfg.ClientID, cfg.ClientSecret, logger)
	restToken := NewRestToken(httpClient, cfg.TenantID, cfg.TenantName, cfg.ClientID, cfg.ClientSecret, logger)

	graph := NewSession(httpClient, graphToken, graphScrollField, limiter, logger)
	rest := NewSession(httpClient, restToken, restScrollField, limiter, logger)

	if cfg.UserAgent != "" {
		graph.userAgent = cfg.UserAgent
		rest.userAgent = cfg.UserAgent
	}

	return &Client{
		tenantName:   cfg.TenantName,
		graph:        graph,
		rest:         rest,
		graphToken:   graphToken,
		restToken:    restToken,
		graphBaseURL: defaultGraphBaseURL,
		loginBaseURL: defaultLoginBaseURL,
		logger:       logger,
	}
}

// CheckAccess fetches both bearer tokens, surfacing *TokenFetchError with an
// operator-actionable message if either credential flow is misconfigured.
func (c *Client) CheckAccess(ctx context.Context) error {
	if _, err := c.graphToken.Get(ctx); err != nil {
		return fmt.Errorf("graph credentials: %w", err)
	}

	if _, err := c.restToken.Get(ctx); err != nil {
		return fmt.Errorf("rest credentials: %w", err)
	}

	return nil
}

// scrollRecords flattens the pages behind url into individual normalized
// records. R is the wire mirror, T the normalized record.
func scrollRecords[R any, T any](
	ctx context.Context,
	s *Session,
	url string,
	normalize func(*R, json.RawMessage) T,
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		for page, err := range s.Scroll(ctx, url) {
			if err != nil {
				yield(zero, err)

				return
			}

			for _, raw := range page {
				var r R
				if err := json.Unmarshal(raw, &r); err != nil {
					yield(zero, fmt.Errorf("spo: decoding record: %w", err))

					return
				}

				if !yield(normalize(&r, raw), nil) {
					return
				}
			}
		}
	}
}

// Groups lists the tenant's groups.
func (c *Client) Groups(ctx context.Context) iter.Seq2[map[string]any, error] {
	url := c.graphBaseURL + "/groups"

	return scrollGeneric(ctx, c.graph, url)
}

// GroupSites lists the sites owned by a group. A missing group yields an
// empty sequence rather than failing the crawl.
func (c *Client) GroupSites(ctx context.Context, groupID string) iter.Seq2[map[string]any, error] {
	url := fmt.Sprintf("%s/groups/%s/sites", c.graphBaseURL, groupID)

	return scrollGeneric(ctx, c.graph, url)
}

// scrollGeneric yields untyped records for endpoints the crawl does not
// interpret beyond passthrough.
func scrollGeneric(ctx context.Context, s *Session, url string) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for page, err := range s.Scroll(ctx, url) {
			if err != nil {
				yield(nil, err)

				return
			}

			for _, raw := range page {
				if !yield(rawFields(raw), nil) {
					return
				}
			}
		}
	}
}

// SiteCollections lists the tenant's root site collections.
func (c *Client) SiteCollections(ctx context.Context) iter.Seq2[SiteCollection, error] {
	url := c.graphBaseURL + "/sites/?$select=siteCollection,webUrl&$filter=siteCollection/root%20ne%20null"

	return scrollRecords(ctx, c.graph, url, (*siteCollectionResponse).normalize)
}

// Sites lists the sites under the given root site. names is either the
// Wildcard sentinel (return all) or an explicit set of site names matched by
// exact equality; non-matching sites are silently dropped and source order
// is preserved.
func (c *Client) Sites(ctx context.Context, rootSiteID string, names []string) iter.Seq2[Site, error] {
	url := fmt.Sprintf("%s/sites/%s/sites?search=*", c.graphBaseURL, rootSiteID)

	allowAll := len(names) == 1 && names[0] == Wildcard

	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	sites := scrollRecords(ctx, c.graph, url, (*siteResponse).normalize)

	return func(yield func(Site, error) bool) {
		for site, err := range sites {
			if err != nil {
				yield(Site{}, err)

				return
			}

			if !allowAll && !allowed[site.Name] {
				continue
			}

			if !yield(site, nil) {
				return
			}
		}
	}
}

// SiteDrives lists the document libraries of a site.
func (c *Client) SiteDrives(ctx context.Context, siteID string) iter.Seq2[Drive, error] {
	url := fmt.Sprintf("%s/sites/%s/drives", c.graphBaseURL, siteID)

	return scrollRecords(ctx, c.graph, url, (*driveResponse).normalize)
}

// DriveItems lists every item in a drive, recursing into folders with an
// explicit work-list so arbitrarily deep trees cannot exhaust the stack.
// Folder records are emitted too, before their children. A folder whose
// children turn out to be absent is skipped without failing the drive, and
// already-seen folders are never queued twice.
func (c *Client) DriveItems(ctx context.Context, driveID string) iter.Seq2[DriveItem, error] {
	return func(yield func(DriveItem, error) bool) {
		queue := []string{fmt.Sprintf("%s/drives/%s/root/children", c.graphBaseURL, driveID)}
		seen := make(map[string]bool)

		for len(queue) > 0 {
			url := queue[0]
			queue = queue[1:]

			for item, err := range scrollRecords(ctx, c.graph, url, (*driveItemResponse).normalize) {
				if err != nil {
					yield(DriveItem{}, err)

					return
				}

				if item.DriveID == "" {
					item.DriveID = driveID
				}

				if item.IsFolder && !seen[item.ID] {
					seen[item.ID] = true
					queue = append(queue, fmt.Sprintf("%s/drives/%s/items/%s/children", c.graphBaseURL, driveID, item.ID))
				}

				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// SiteLists lists the structured lists of a site.
func (c *Client) SiteLists(ctx context.Context, siteID string) iter.Seq2[SiteList, error] {
	url := fmt.Sprintf("%s/sites/%s/lists", c.graphBaseURL, siteID)

	return scrollRecords(ctx, c.graph, url, (*siteListResponse).normalize)
}

// SiteListItems lists the rows of a site list with their fields expanded.
func (c *Client) SiteListItems(ctx context.Context, siteID, listID string) iter.Seq2[ListItem, error] {
	url := fmt.Sprintf("%s/sites/%s/lists/%s/items?expand=fields", c.graphBaseURL, siteID, listID)

	return scrollRecords(ctx, c.graph, url, (*listItemResponse).normalize)
}

// SiteListItemAttachments yields the attachment descriptors of one list item
// via the REST API. The embedded tenant hostname of siteWebURL is validated
// before any network call; a missing item yields an empty sequence.
func (c *Client) SiteListItemAttachments(ctx context.Context, siteWebURL, listTitle, listItemID string) iter.Seq2[Attachment, error] {
	return func(yield func(Attachment, error) bool) {
		if err := c.validateTenantURL(siteWebURL); err != nil {
			yield(Attachment{}, err)

			return
		}

		itemURL := fmt.Sprintf("%s/_api/lists/GetByTitle('%s')/items(%s)?$expand=AttachmentFiles",
			siteWebURL, url.PathEscape(listTitle), listItemID)

		var body struct {
			AttachmentFiles []json.RawMessage `json:"AttachmentFiles"`
		}

		if err := c.rest.Fetch(ctx, itemURL, &body); err != nil {
			if isNotFound(err) {
				return
			}

			yield(Attachment{}, err)

			return
		}

		for _, raw := range body.AttachmentFiles {
			var r attachmentResponse
			if err := json.Unmarshal(raw, &r); err != nil {
				yield(Attachment{}, fmt.Errorf("spo: decoding attachment: %w", err))

				return
			}

			if !yield(r.normalize(raw), nil) {
				return
			}
		}
	}
}

// SitePages scrolls the Site Pages library of the site at siteWebURL via the
// REST API, after the same tenant-hostname guard as attachments.
func (c *Client) SitePages(ctx context.Context, siteWebURL string) iter.Seq2[SitePage, error] {
	return func(yield func(SitePage, error) bool) {
		if err := c.validateTenantURL(siteWebURL); err != nil {
			yield(SitePage{}, err)

			return
		}

		url := siteWebURL + "/_api/web/lists/GetByTitle('Site%20Pages')/items"

		for page, err := range scrollRecords(ctx, c.rest, url, (*sitePageResponse).normalize) {
			if !yield(page, err) {
				return
			}

			if err != nil {
				return
			}
		}
	}
}

// DownloadDriveItem streams a drive item's binary content into w.
func (c *Client) DownloadDriveItem(ctx context.Context, driveID, itemID string, w io.Writer) (int64, error) {
	url := fmt.Sprintf("%s/drives/%s/items/%s/content", c.graphBaseURL, driveID, itemID)

	return c.graph.Pipe(ctx, url, w)
}

// DownloadAttachment streams a list item attachment's content into w.
// attachmentPath is the attachment's absolute REST path (its odata.id).
func (c *Client) DownloadAttachment(ctx context.Context, attachmentPath string, w io.Writer) (int64, error) {
	if err := c.validateTenantURL(attachmentPath); err != nil {
		return 0, err
	}

	return c.rest.Pipe(ctx, attachmentPath+"/$value", w)
}

// TenantDetails probes the login user-realm endpoint for the configured
// tenant. A namespace type of "Unknown" means the tenant name does not
// resolve to a SharePoint Online tenant.
func (c *Client) TenantDetails(ctx context.Context) (*TenantDetails, error) {
	url := fmt.Sprintf(
		"%s/common/userrealm/?user=admin@%s.onmicrosoft.com&api-version=2.1&checkForMicrosoftAccount=false",
		c.loginBaseURL, c.tenantName,
	)

	var details TenantDetails
	if err := c.graph.Fetch(ctx, url, &details); err != nil {
		return nil, err
	}

	return &details, nil
}

// validateTenantURL checks that the hostname embedded in rawURL belongs to
// the configured tenant. The comparison is case-insensitive and happens
// before any network call; a mismatch is never retried.
func (c *Client) validateTenantURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("spo: parsing sharepoint url %q: %w", rawURL, err)
	}

	host := u.Hostname()

	found := host
	if idx := strings.Index(strings.ToLower(host), ".sharepoint.com"); idx >= 0 {
		found = host[:idx]
	}

	if !strings.EqualFold(found, c.tenantName) || !strings.HasSuffix(strings.ToLower(host), ".sharepoint.com") {
		return &InvalidTenantError{Found: found, Expected: c.tenantName}
	}

	return nil
}
