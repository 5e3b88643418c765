// Package crawl walks a SharePoint Online tenant's content tree and emits a
// lazy stream of normalized documents for downstream indexing, pairing each
// document with an optional deferred content-download action.
package crawl

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// ObjectType tags a Document with the kind of SharePoint object it came from.
type ObjectType string

const (
	TypeSiteCollection     ObjectType = "site_collection"
	TypeSite               ObjectType = "site"
	TypeSiteDrive          ObjectType = "site_drive"
	TypeDriveItem          ObjectType = "drive_item"
	TypeSiteList           ObjectType = "site_list"
	TypeListItem           ObjectType = "list_item"
	TypeListItemAttachment ObjectType = "list_item_attachment"
	TypeSitePage           ObjectType = "site_page"
)

// Document is one crawl output unit. Fields carries every upstream field
// verbatim; the typed members cover only what consumers routinely need.
// A Document is immutable once emitted.
type Document struct {
	// ID is the upstream identity (site id, drive item id, attachment
	// odata.id, page GUID, ...).
	ID string

	ObjectType ObjectType

	// ModifiedAt is the upstream last-modified instant, or the zero time
	// when the source does not carry one. The crawl never filters by age
	// itself; consumers use this for incremental sync.
	ModifiedAt time.Time

	// ParentID links hierarchical documents to their container, e.g. the
	// drive id for a drive item. Empty for top-level documents.
	ParentID string

	// Fields is the verbatim upstream payload.
	Fields map[string]any
}

// MarshalJSON emits the verbatim upstream fields with _id and object_type
// merged in, matching the shape downstream indexers expect.
func (d Document) MarshalJSON() ([]byte, error) {
	merged := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		merged[k] = v
	}

	merged["_id"] = d.ID
	merged["object_type"] = string(d.ObjectType)

	return json.Marshal(merged)
}

// DownloadAction is a deferred capability to stream one document's binary
// content. It is bound to the identifiers it needs at emission time, so the
// consumer can invoke it long after the crawl has moved on.
type DownloadAction struct {
	// Name is the upstream file name, for consumers that persist content.
	Name string

	// Size is the upstream byte size when known, 0 otherwise.
	Size int64

	fetch func(ctx context.Context, w io.Writer) (int64, error)
}

// Do streams the raw upstream bytes into w when perform is true. With
// perform false it is a no-op: no I/O happens and the consumer keeps the
// document unchanged. This lets callers skip expensive transfers based on
// size, age, or rules before paying the cost.
func (a *DownloadAction) Do(ctx context.Context, perform bool, w io.Writer) (int64, error) {
	if !perform {
		return 0, nil
	}

	return a.fetch(ctx, w)
}

// Result pairs an emitted document with its download action.
// Download is nil for document types without a binary payload.
type Result struct {
	Document Document
	Download *DownloadAction
}
