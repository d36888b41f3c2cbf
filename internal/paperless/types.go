package paperless

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Kind is a taxonomy entity type; its value is the REST collection name.
type Kind string

const (
	KindTag           Kind = "tags"
	KindCorrespondent Kind = "correspondents"
	KindDocumentType  Kind = "document_types"
	KindStoragePath   Kind = "storage_paths"
)

// Kinds lists every taxonomy kind in a stable order.
var Kinds = []Kind{KindCorrespondent, KindDocumentType, KindStoragePath, KindTag}

func (k Kind) endpoint() string { return "/api/" + string(k) + "/" }

// Singular returns a human-readable label ("document type").
func (k Kind) Singular() string {
	return strings.ReplaceAll(strings.TrimSuffix(string(k), "s"), "_", " ")
}

// Document is the subset of the store's document representation the pipeline reads.
type Document struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Content          string  `json:"content"`
	Created          string  `json:"created"`
	Correspondent    *int    `json:"correspondent"`
	DocumentType     *int    `json:"document_type"`
	StoragePath      *int    `json:"storage_path"`
	Tags             []int   `json:"tags"`
	OriginalFileName string  `json:"original_file_name"`
	ArchivedFileName *string `json:"archived_file_name"`
	MimeType         string  `json:"mime_type,omitempty"`
}

// Filename prefers the original upload name.
func (d Document) Filename() string {
	if d.OriginalFileName != "" {
		return d.OriginalFileName
	}
	if d.ArchivedFileName != nil && *d.ArchivedFileName != "" {
		return *d.ArchivedFileName
	}
	return fmt.Sprintf("document-%d.pdf", d.ID)
}

// CreatedTime parses Created, which is either a date or an RFC3339 timestamp.
func (d Document) CreatedTime() (time.Time, bool) {
	if d.Created == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, d.Created); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", d.Created); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Item is a taxonomy entity (tag, correspondent, document type, storage path).
type Item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// DocumentFilter selects documents for bulk processing.
type DocumentFilter struct {
	TagIDs          []int
	CorrespondentID *int
	DocumentTypeID  *int
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

func (f DocumentFilter) values() url.Values {
	q := url.Values{}
	if len(f.TagIDs) > 0 {
		ids := make([]string, len(f.TagIDs))
		for i, id := range f.TagIDs {
			ids[i] = strconv.Itoa(id)
		}
		q.Set("tags__id__in", strings.Join(ids, ","))
	}
	if f.CorrespondentID != nil {
		q.Set("correspondent__id", strconv.Itoa(*f.CorrespondentID))
	}
	if f.DocumentTypeID != nil {
		q.Set("document_type__id", strconv.Itoa(*f.DocumentTypeID))
	}
	if f.CreatedFrom != nil {
		q.Set("created__date__gte", f.CreatedFrom.Format("2006-01-02"))
	}
	if f.CreatedTo != nil {
		q.Set("created__date__lte", f.CreatedTo.Format("2006-01-02"))
	}
	return q
}

// Update is a partial document update. Nil fields are not sent.
type Update struct {
	Title         *string
	Created       *time.Time
	Correspondent *int
	DocumentType  *int
	StoragePath   *int
	Tags          []int // nil leaves tags untouched; empty clears them
}

// Fields returns the PATCH body holding only the set fields.
func (u Update) Fields() map[string]any {
	m := map[string]any{}
	if u.Title != nil {
		m["title"] = *u.Title
	}
	if u.Created != nil {
		m["created"] = u.Created.Format("2006-01-02")
	}
	if u.Correspondent != nil {
		m["correspondent"] = *u.Correspondent
	}
	if u.DocumentType != nil {
		m["document_type"] = *u.DocumentType
	}
	if u.StoragePath != nil {
		m["storage_path"] = *u.StoragePath
	}
	if u.Tags != nil {
		m["tags"] = u.Tags
	}
	return m
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool { return len(u.Fields()) == 0 }

// APIError carries the store's non-2xx response verbatim.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paperless %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}
