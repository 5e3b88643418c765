package spo

import (
	"encoding/json"
	"time"
)

// Record types are normalized from the upstream JSON. Every record keeps the
// verbatim upstream payload in Fields so downstream consumers see fields the
// core does not interpret; the typed accessors cover only what the crawl
// logic needs.

// SiteCollection is a tenant root site collection.
type SiteCollection struct {
	Hostname string
	WebURL   string
	Fields   map[string]any
}

// Site is a site within a site collection.
type Site struct {
	ID         string
	Name       string
	WebURL     string
	ModifiedAt time.Time
	Fields     map[string]any
}

// Drive is a document library attached to a site.
type Drive struct {
	ID         string
	Name       string
	ModifiedAt time.Time
	Fields     map[string]any
}

// DriveItem is a file or folder within a drive.
type DriveItem struct {
	ID         string
	Name       string
	DriveID    string // parent linkage
	Size       int64
	IsFolder   bool
	IsFile     bool
	ModifiedAt time.Time
	Fields     map[string]any
}

// SiteList is a structured list attached to a site.
type SiteList struct {
	ID         string
	Name       string
	ModifiedAt time.Time
	Fields     map[string]any
}

// ListItem is a row in a site list.
type ListItem struct {
	ID             string
	ContentType    string
	HasAttachments bool
	WebURL         string
	ModifiedAt     time.Time
	Fields         map[string]any
}

// Attachment is a file attached to a list item. ODataID doubles as the
// absolute REST path used to download the attachment content.
type Attachment struct {
	ODataID string
	Name    string
	Fields  map[string]any
}

// SitePage is a standalone page in a site's Site Pages library.
type SitePage struct {
	GUID       string
	Title      string
	CanvasHTML string
	ModifiedAt time.Time
	Fields     map[string]any
}

// TenantDetails is the login endpoint's view of a tenant, used to verify the
// configured tenant name resolves to a real SharePoint Online namespace.
type TenantDetails struct {
	NameSpaceType       string `json:"NameSpaceType"`
	FederationBrandName string `json:"FederationBrandName"`
	Login               string `json:"Login"`
}

// Response mirrors — unexported structs matching the upstream JSON exactly.
// Callers only ever see the normalized record types above.

type siteCollectionResponse struct {
	SiteCollection struct {
		Hostname string `json:"hostname"`
	} `json:"siteCollection"`
	WebURL string `json:"webUrl"`
}

func (r *siteCollectionResponse) normalize(raw json.RawMessage) SiteCollection {
	return SiteCollection{
		Hostname: r.SiteCollection.Hostname,
		WebURL:   r.WebURL,
		Fields:   rawFields(raw),
	}
}

type siteResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	WebURL               string `json:"webUrl"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

func (r *siteResponse) normalize(raw json.RawMessage) Site {
	return Site{
		ID:         r.ID,
		Name:       r.Name,
		WebURL:     r.WebURL,
		ModifiedAt: parseTimestamp(r.LastModifiedDateTime),
		Fields:     rawFields(raw),
	}
}

type driveResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

func (r *driveResponse) normalize(raw json.RawMessage) Drive {
	return Drive{
		ID:         r.ID,
		Name:       r.Name,
		ModifiedAt: parseTimestamp(r.LastModifiedDateTime),
		Fields:     rawFields(raw),
	}
}

type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	File                 *json.RawMessage `json:"file"`
	Folder               *json.RawMessage `json:"folder"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *struct {
		DriveID string `json:"driveId"`
	} `json:"parentReference"`
}

func (r *driveItemResponse) normalize(raw json.RawMessage) DriveItem {
	item := DriveItem{
		ID:         r.ID,
		Name:       r.Name,
		Size:       r.Size,
		IsFolder:   r.Folder != nil,
		IsFile:     r.File != nil,
		ModifiedAt: parseTimestamp(r.LastModifiedDateTime),
		Fields:     rawFields(raw),
	}

	if r.ParentReference != nil {
		item.DriveID = r.ParentReference.DriveID
	}

	return item
}

type siteListResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	DisplayName          string `json:"displayName"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

func (r *siteListResponse) normalize(raw json.RawMessage) SiteList {
	name := r.Name
	if name == "" {
		name = r.DisplayName
	}

	return SiteList{
		ID:         r.ID,
		Name:       name,
		ModifiedAt: parseTimestamp(r.LastModifiedDateTime),
		Fields:     rawFields(raw),
	}
}

type listItemResponse struct {
	ID          string `json:"id"`
	WebURL      string `json:"webUrl"`
	ContentType struct {
		Name string `json:"name"`
	} `json:"contentType"`
	Fields               map[string]any `json:"fields"`
	LastModifiedDateTime string         `json:"lastModifiedDateTime"`
}

func (r *listItemResponse) normalize(raw json.RawMessage) ListItem {
	_, hasAttachments := r.Fields["Attachments"]

	return ListItem{
		ID:             r.ID,
		ContentType:    r.ContentType.Name,
		HasAttachments: hasAttachments,
		WebURL:         r.WebURL,
		ModifiedAt:     parseTimestamp(r.LastModifiedDateTime),
		Fields:         rawFields(raw),
	}
}

type attachmentResponse struct {
	ODataID  string `json:"odata.id"`
	FileName string `json:"FileName"`
}

func (r *attachmentResponse) normalize(raw json.RawMessage) Attachment {
	return Attachment{
		ODataID: r.ODataID,
		Name:    r.FileName,
		Fields:  rawFields(raw),
	}
}

type sitePageResponse struct {
	GUID           string `json:"GUID"`
	Title          string `json:"Title"`
	CanvasContent1 string `json:"CanvasContent1"`
	Modified       string `json:"Modified"`
}

func (r *sitePageResponse) normalize(raw json.RawMessage) SitePage {
	return SitePage{
		GUID:       r.GUID,
		Title:      r.Title,
		CanvasHTML: r.CanvasContent1,
		ModifiedAt: parseTimestamp(r.Modified),
		Fields:     rawFields(raw),
	}
}

// parseTimestamp parses an RFC3339 timestamp, returning the zero time when
// the value is absent or malformed. Consumers treat the zero time as
// "last-modified unknown".
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}

// rawFields decodes the verbatim upstream payload into a generic map.
// A record whose body is not a JSON object gets a nil map.
func rawFields(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}

	return m
}
