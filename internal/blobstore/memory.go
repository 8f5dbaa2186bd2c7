package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// GenerationHeader carries the object generation on HTTP reads, as Cloud Storage does.
const GenerationHeader = "X-Goog-Generation"

// MetadataHeaderPrefix prefixes custom object metadata on HTTP reads.
const MetadataHeaderPrefix = "X-Goog-Meta-"

type memoryObject struct {
	data        []byte
	contentType string
	generation  int64
	metadata    map[string]string
}

// MemoryStore is an in-process Store used by tests and local runs. It also serves its
// objects over HTTP so URL-based reads behave like a public bucket.
type MemoryStore struct {
	mu         sync.Mutex
	baseURL    string
	objects    map[string]memoryObject
	generation int64
}

// NewMemoryStore returns an empty store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

// SetBaseURL changes the public base, typically to an httptest server URL.
func (s *MemoryStore) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimSuffix(baseURL, "/")
}

func (s *MemoryStore) URLFor(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL + "/" + path
}

func (s *MemoryStore) PathFor(url string) (string, bool) {
	s.mu.Lock()
	base := s.baseURL
	s.mu.Unlock()
	return naming.ObjectPathFromURL(base, url)
}

func (s *MemoryStore) versionedURL(path string, generation int64) string {
	return fmt.Sprintf("%s/%s?v=%d", s.baseURL, path, generation)
}

func (s *MemoryStore) Put(_ context.Context, path string, data []byte, opts PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.IfNotExists {
		if _, ok := s.objects[path]; ok {
			return "", &apperrors.ConflictError{Path: path}
		}
	}
	if opts.IfGenerationMatch != 0 {
		if current, ok := s.objects[path]; !ok || current.generation != opts.IfGenerationMatch {
			return "", &apperrors.ConflictError{Path: path, ExpectedGeneration: opts.IfGenerationMatch}
		}
	}
	s.generation++
	s.objects[path] = memoryObject{
		data:        append([]byte(nil), data...),
		contentType: opts.ContentType,
		generation:  s.generation,
		metadata:    opts.Metadata,
	}
	return s.versionedURL(path, s.generation), nil
}

func (s *MemoryStore) Get(_ context.Context, url string) ([]byte, error) {
	path, ok := s.PathFor(url)
	if !ok {
		return nil, fmt.Errorf("url %s is not served by this store", url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, apperrors.ErrObjectNotExist)
	}
	return append([]byte(nil), obj.data...), nil
}

// List pages through paths in lexical order; the cursor is the last path returned.
func (s *MemoryStore) List(_ context.Context, prefix string, limit int, cursor string) (ListPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) && p > cursor {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var page ListPage
	for i, p := range paths {
		if i == limit {
			page.Cursor = paths[i-1]
			break
		}
		obj := s.objects[p]
		page.Items = append(page.Items, Object{
			URL:      s.versionedURL(p, obj.generation),
			Pathname: p,
			Size:     int64(len(obj.data)),
		})
	}
	return page, nil
}

func (s *MemoryStore) Delete(_ context.Context, urls []string) (int, error) {
	deleted := 0
	for _, u := range urls {
		path, ok := s.PathFor(u)
		if !ok {
			continue
		}
		s.mu.Lock()
		if _, exists := s.objects[path]; exists {
			delete(s.objects, path)
			deleted++
		}
		s.mu.Unlock()
	}
	return deleted, nil
}

// Paths returns every stored path in lexical order.
func (s *MemoryStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ServeHTTP serves GET and HEAD for stored objects.
func (s *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	obj, ok := s.objects[path]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "No such object: "+path, http.StatusNotFound)
		return
	}
	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	}
	w.Header().Set(GenerationHeader, strconv.FormatInt(obj.generation, 10))
	for k, v := range obj.metadata {
		w.Header().Set(MetadataHeaderPrefix+k, v)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.data)
	}
}
