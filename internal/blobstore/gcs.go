package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	// PublicBaseURL defaults to https://storage.googleapis.com/{bucket}.
	PublicBaseURL string
	// ObjectACL applies publicRead on public writes. Leave false for buckets with
	// uniform bucket-level access, where public reads are granted by IAM instead.
	ObjectACL bool
	// DeleteConcurrency bounds parallel deletes in one batch.
	DeleteConcurrency int
}

// GCSStore implements Store on a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	config GCSConfig
}

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *storage.Client, config GCSConfig) (*GCSStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("NewGCSStore: bucket cannot be empty")
	}
	if config.PublicBaseURL == "" {
		config.PublicBaseURL = "https://storage.googleapis.com/" + config.Bucket
	}
	config.PublicBaseURL = strings.TrimSuffix(config.PublicBaseURL, "/")
	if config.DeleteConcurrency <= 0 {
		config.DeleteConcurrency = 10
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(config.Bucket),
		config: config,
	}, nil
}

func (s *GCSStore) URLFor(path string) string {
	return s.config.PublicBaseURL + "/" + path
}

func (s *GCSStore) PathFor(url string) (string, bool) {
	return naming.ObjectPathFromURL(s.config.PublicBaseURL, url)
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, opts PutOptions) (string, error) {
	obj := s.bucket.Object(path)
	switch {
	case opts.IfNotExists:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case opts.IfGenerationMatch != 0:
		obj = obj.If(storage.Conditions{GenerationMatch: opts.IfGenerationMatch})
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.CacheControl = opts.CacheControl
	writer.Metadata = opts.Metadata
	if opts.Public && s.config.ObjectACL {
		writer.PredefinedACL = "publicRead"
	}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", s.putError(path, opts, err)
	}
	if err := writer.Close(); err != nil {
		return "", s.putError(path, opts, err)
	}
	return fmt.Sprintf("%s?v=%d", s.URLFor(path), writer.Attrs().Generation), nil
}

func (s *GCSStore) putError(path string, opts PutOptions, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return &apperrors.ConflictError{Path: path, ExpectedGeneration: opts.IfGenerationMatch}
	}
	slog.Error("Failed to write GCS object", "gcsObject", path, "error", err)
	return fmt.Errorf("failed to write gs://%s/%s: %w", s.config.Bucket, path, err)
}

func (s *GCSStore) Get(ctx context.Context, url string) ([]byte, error) {
	path, ok := s.PathFor(url)
	if !ok {
		return nil, fmt.Errorf("url %s is not served by bucket %s", url, s.config.Bucket)
	}
	reader, err := s.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", s.config.Bucket, path, apperrors.ErrObjectNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.config.Bucket, path, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.config.Bucket, path, err)
	}
	return data, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string, limit int, cursor string) (ListPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	pager := iterator.NewPager(it, limit, cursor)

	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return ListPage{}, fmt.Errorf("failed to list gs://%s/%s: %w", s.config.Bucket, prefix, err)
	}
	page := ListPage{Cursor: next, Items: make([]Object, 0, len(attrs))}
	for _, a := range attrs {
		page.Items = append(page.Items, Object{
			URL:      fmt.Sprintf("%s?v=%d", s.URLFor(a.Name), a.Generation),
			Pathname: a.Name,
			Size:     a.Size,
		})
	}
	return page, nil
}

func (s *GCSStore) Delete(ctx context.Context, urls []string) (int, error) {
	var deleted atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.DeleteConcurrency)

	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		path, ok := s.PathFor(u)
		if !ok {
			slog.Warn("Skipping delete of foreign url.", "url", u, "bucket", s.config.Bucket)
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		eg.Go(func() error {
			err := s.bucket.Object(path).Delete(gctx)
			if errors.Is(err, storage.ErrObjectNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to delete gs://%s/%s: %w", s.config.Bucket, path, err)
			}
			deleted.Add(1)
			return nil
		})
	}
	err := eg.Wait()
	return int(deleted.Load()), err
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
