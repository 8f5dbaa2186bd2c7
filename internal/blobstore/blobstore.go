// Package blobstore is the object-store capability every manifest operation consumes:
// put, get, paginated list and batch delete, addressed by path and public URL.
package blobstore

import (
	"context"
)

// PutOptions controls a single object write.
type PutOptions struct {
	ContentType string
	Public      bool
	// IfGenerationMatch, when non-zero, makes the write fail with a
	// *apperrors.ConflictError unless the stored object is at that generation.
	IfGenerationMatch int64
	// IfNotExists makes the write fail with a *apperrors.ConflictError when an
	// object already exists at the path.
	IfNotExists  bool
	CacheControl string
	// Metadata is stored as custom object metadata and delivered with storage events.
	Metadata map[string]string
}

// Object is one entry of a listing.
type Object struct {
	URL      string
	Pathname string
	Size     int64
}

// ListPage is one page of a listing; Cursor is empty on the last page.
type ListPage struct {
	Items  []Object
	Cursor string
}

// Store is implemented by GCSStore and MemoryStore.
type Store interface {
	// Put writes data at path and returns its public URL. The URL carries the new
	// generation, so successive writes at the same path return different URLs.
	Put(ctx context.Context, path string, data []byte, opts PutOptions) (string, error)
	// Get reads the object addressed by a public URL produced by this store.
	Get(ctx context.Context, url string) ([]byte, error)
	// List returns up to limit objects under prefix, starting after cursor.
	List(ctx context.Context, prefix string, limit int, cursor string) (ListPage, error)
	// Delete removes the objects addressed by urls. Missing objects are not an error;
	// the returned count only includes objects that existed.
	Delete(ctx context.Context, urls []string) (int, error)
	// URLFor returns the unversioned public URL of path.
	URLFor(path string) string
	// PathFor recovers the object path of a URL produced by this store.
	PathFor(url string) (string, bool)
}

// DefaultListLimit is the page size used when draining listings.
const DefaultListLimit = 1000

// ListAll drains a listing by following cursors until the store reports the last page.
func ListAll(ctx context.Context, s Store, prefix string) ([]Object, error) {
	var (
		all    []Object
		cursor string
	)
	for {
		page, err := s.List(ctx, prefix, DefaultListLimit, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Cursor == "" || page.Cursor == cursor {
			return all, nil
		}
		cursor = page.Cursor
	}
}
