package crawl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spocrawl/sharepoint-go/internal/spo"
)

// fakeAPI is an in-memory tenant. Call counters let tests assert laziness.
type fakeAPI struct {
	details     *spo.TenantDetails
	checkErr    error
	collections []spo.SiteCollection
	sites       []spo.Site
	drives      map[string][]spo.Drive
	driveItems  map[string][]spo.DriveItem
	lists       map[string][]spo.SiteList
	listItems   map[string][]spo.ListItem
	attachments map[string][]spo.Attachment
	pages       map[string][]spo.SitePage

	driveContent      map[string]string
	attachmentContent map[string]string

	siteDrivesCalls int
}

func seq[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (f *fakeAPI) CheckAccess(_ context.Context) error {
	return f.checkErr
}

func (f *fakeAPI) TenantDetails(_ context.Context) (*spo.TenantDetails, error) {
	if f.details == nil {
		return nil, errors.New("no realm")
	}

	return f.details, nil
}

func (f *fakeAPI) SiteCollections(_ context.Context) iter.Seq2[spo.SiteCollection, error] {
	return seq(f.collections)
}

func (f *fakeAPI) Sites(_ context.Context, _ string, names []string) iter.Seq2[spo.Site, error] {
	if len(names) == 1 && names[0] == spo.Wildcard {
		return seq(f.sites)
	}

	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	var filtered []spo.Site
	for _, site := range f.sites {
		if allowed[site.Name] {
			filtered = append(filtered, site)
		}
	}

	return seq(filtered)
}

func (f *fakeAPI) SiteDrives(_ context.Context, siteID string) iter.Seq2[spo.Drive, error] {
	f.siteDrivesCalls++

	return seq(f.drives[siteID])
}

func (f *fakeAPI) DriveItems(_ context.Context, driveID string) iter.Seq2[spo.DriveItem, error] {
	return seq(f.driveItems[driveID])
}

func (f *fakeAPI) SiteLists(_ context.Context, siteID string) iter.Seq2[spo.SiteList, error] {
	return seq(f.lists[siteID])
}

func (f *fakeAPI) SiteListItems(_ context.Context, _, listID string) iter.Seq2[spo.ListItem, error] {
	return seq(f.listItems[listID])
}

func (f *fakeAPI) SiteListItemAttachments(_ context.Context, _, _, listItemID string) iter.Seq2[spo.Attachment, error] {
	return seq(f.attachments[listItemID])
}

func (f *fakeAPI) SitePages(_ context.Context, siteWebURL string) iter.Seq2[spo.SitePage, error] {
	return seq(f.pages[siteWebURL])
}

func (f *fakeAPI) DownloadDriveItem(_ context.Context, _, itemID string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, f.driveContent[itemID])

	return int64(n), err
}

func (f *fakeAPI) DownloadAttachment(_ context.Context, attachmentPath string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, f.attachmentContent[attachmentPath])

	return int64(n), err
}

// newFakeTenant builds a tenant with one site collection, one site, one drive
// with a folder and a file, one list with two content items plus one reserved
// system item, one attachment, and two pages.
func newFakeTenant() *fakeAPI {
	modified := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

	return &fakeAPI{
		details: &spo.TenantDetails{NameSpaceType: "Managed"},
		collections: []spo.SiteCollection{
			{Hostname: "acme.sharepoint.com", WebURL: "https://acme.sharepoint.com", Fields: map[string]any{"webUrl": "https://acme.sharepoint.com"}},
		},
		sites: []spo.Site{
			{ID: "site-1", Name: "engineering", WebURL: "https://acme.sharepoint.com/sites/engineering", ModifiedAt: modified},
		},
		drives: map[string][]spo.Drive{
			"site-1": {{ID: "drive-1", Name: "Documents", ModifiedAt: modified}},
		},
		driveItems: map[string][]spo.DriveItem{
			"drive-1": {
				{ID: "folder-1", Name: "specs", DriveID: "drive-1", IsFolder: true, ModifiedAt: modified},
				{ID: "file-1", Name: "design.docx", DriveID: "drive-1", IsFile: true, Size: 9, ModifiedAt: modified},
			},
		},
		lists: map[string][]spo.SiteList{
			"site-1": {{ID: "list-1", Name: "Tasks", ModifiedAt: modified}},
		},
		listItems: map[string][]spo.ListItem{
			"list-1": {
				{ID: "item-1", ContentType: "Item", HasAttachments: true, ModifiedAt: modified},
				{ID: "item-2", ContentType: "Item", ModifiedAt: modified},
				{ID: "item-3", ContentType: "Web Template Extensions", ModifiedAt: modified},
			},
		},
		attachments: map[string][]spo.Attachment{
			"item-1": {{ODataID: "https://acme.sharepoint.com/att/report.pdf", Name: "report.pdf"}},
		},
		pages: map[string][]spo.SitePage{
			"https://acme.sharepoint.com/sites/engineering": {
				{GUID: "page-1", Title: "Home", CanvasHTML: "<div><p>team handbook</p></div>", ModifiedAt: modified},
				{GUID: "page-2", Title: "About", ModifiedAt: modified},
			},
		},
		driveContent:      map[string]string{"file-1": "docx bytes"},
		attachmentContent: map[string]string{"https://acme.sharepoint.com/att/report.pdf": "pdf bytes"},
	}
}

func collectResults(t *testing.T, source *Source) []Result {
	t.Helper()

	var results []Result
	for result, err := range source.Docs(context.Background()) {
		require.NoError(t, err)
		results = append(results, result)
	}

	return results
}

func TestDocs_FullTenant(t *testing.T) {
	source := NewSource(newFakeTenant(), "acme", nil, nil)

	results := collectResults(t, source)
	require.Len(t, results, 11)

	counts := make(map[ObjectType]int)
	for _, r := range results {
		counts[r.Document.ObjectType]++
	}

	assert.Equal(t, map[ObjectType]int{
		TypeSiteCollection:     1,
		TypeSite:               1,
		TypeSiteDrive:          1,
		TypeDriveItem:          2,
		TypeSiteList:           1,
		TypeListItem:           2,
		TypeListItemAttachment: 1,
		TypeSitePage:           2,
	}, counts)

	// Containers come before their contents.
	assert.Equal(t, TypeSiteCollection, results[0].Document.ObjectType)
	assert.Equal(t, TypeSite, results[1].Document.ObjectType)
	assert.Equal(t, "https://acme.sharepoint.com", results[0].Document.ID)
	assert.Equal(t, "site-1", results[1].Document.ID)

	for _, r := range results {
		assert.NotEqual(t, "item-3", r.Document.ID, "reserved content type must be excluded")
	}
}

func TestDocs_DownloadActions(t *testing.T) {
	source := NewSource(newFakeTenant(), "acme", nil, nil)

	byID := make(map[string]Result)
	for _, r := range collectResults(t, source) {
		byID[r.Document.ID] = r
	}

	assert.Nil(t, byID["folder-1"].Download, "folders have no content")
	assert.Nil(t, byID["item-1"].Download, "list item content lives in its fields")
	assert.Nil(t, byID["page-1"].Download, "page bodies are inline")

	file := byID["file-1"]
	require.NotNil(t, file.Download)
	assert.Equal(t, "design.docx", file.Download.Name)
	assert.Equal(t, int64(9), file.Download.Size)

	var buf bytes.Buffer
	n, err := file.Download.Do(context.Background(), true, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("docx bytes")), n)
	assert.Equal(t, "docx bytes", buf.String())

	attachment := byID["https://acme.sharepoint.com/att/report.pdf"]
	require.NotNil(t, attachment.Download)
	assert.Equal(t, "item-1", attachment.Document.ParentID)

	buf.Reset()
	_, err = attachment.Download.Do(context.Background(), true, &buf)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", buf.String())
}

func TestDownloadAction_SkippedIsNoop(t *testing.T) {
	called := false
	action := &DownloadAction{
		Name: "f.txt",
		fetch: func(_ context.Context, _ io.Writer) (int64, error) {
			called = true

			return 0, nil
		},
	}

	var buf bytes.Buffer
	n, err := action.Do(context.Background(), false, &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, buf.Len())
	assert.False(t, called)
}

func TestDocs_PageText(t *testing.T) {
	source := NewSource(newFakeTenant(), "acme", nil, nil)

	var page *Document
	for _, r := range collectResults(t, source) {
		if r.Document.ID == "page-1" {
			doc := r.Document
			page = &doc
		}
	}

	require.NotNil(t, page)
	assert.Equal(t, "team handbook", page.Fields["page_text"])
}

func TestDocs_ConsumerStopsEarly(t *testing.T) {
	api := newFakeTenant()
	source := NewSource(api, "acme", nil, nil)

	pulled := 0
	for _, err := range source.Docs(context.Background()) {
		require.NoError(t, err)
		pulled++

		if pulled == 2 {
			break
		}
	}

	assert.Equal(t, 2, pulled)
	assert.Zero(t, api.siteDrivesCalls, "stopping the consumer must stop the walk")
}

func TestDocs_SiteFilter(t *testing.T) {
	api := newFakeTenant()
	api.sites = append(api.sites, spo.Site{ID: "site-2", Name: "marketing"})

	source := NewSource(api, "acme", []string{"marketing"}, nil)

	var siteIDs []string
	for _, r := range collectResults(t, source) {
		if r.Document.ObjectType == TypeSite {
			siteIDs = append(siteIDs, r.Document.ID)
		}
	}

	assert.Equal(t, []string{"site-2"}, siteIDs)
}

func TestValidateConfig_OK(t *testing.T) {
	source := NewSource(newFakeTenant(), "acme", []string{"engineering"}, nil)

	require.NoError(t, source.ValidateConfig(context.Background()))
}

func TestValidateConfig_CheckAccessFails(t *testing.T) {
	api := newFakeTenant()
	api.checkErr = errors.New("invalid client secret")

	source := NewSource(api, "acme", nil, nil)

	err := source.ValidateConfig(context.Background())
	require.ErrorIs(t, err, api.checkErr)
}

func TestValidateConfig_UnknownTenant(t *testing.T) {
	api := newFakeTenant()
	api.details = &spo.TenantDetails{NameSpaceType: "Unknown"}

	source := NewSource(api, "wrong-tenant", nil, nil)

	err := source.ValidateConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong-tenant")
	assert.Contains(t, err.Error(), "Unknown")
}

func TestValidateConfig_MissingCollections(t *testing.T) {
	source := NewSource(newFakeTenant(), "acme",
		[]string{"engineering", "payroll", "legal"}, nil)

	err := source.ValidateConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payroll")
	assert.Contains(t, err.Error(), "legal")
	assert.NotContains(t, err.Error(), "engineering")
}

func TestDefaultConfiguration(t *testing.T) {
	fields := DefaultConfiguration()
	require.Len(t, fields, 5)

	byKey := make(map[string]ConfigField, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}

	assert.True(t, byKey["secret_value"].Sensitive)
	assert.Equal(t, spo.Wildcard, byKey["site_collections"].Default)
}
