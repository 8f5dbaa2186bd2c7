// Package manifest loads and saves the project manifest against blob storage.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

const (
	cacheBustParam  = "cb"
	maxErrorBodyLen = 512
)

// Config controls the manifest store.
type Config struct {
	// ConditionalSaves makes Save fail with a ConflictError when the manifest was
	// overwritten since it was loaded. Off by default: the last writer wins.
	ConditionalSaves bool
}

// Store reads manifests over HTTP, bypassing caches, and writes them to blob storage.
type Store struct {
	blobs      blobstore.Store
	httpClient *http.Client
	config     Config
	now        func() time.Time
}

// NewStore builds a Store. A nil httpClient uses a client with a 30s timeout.
func NewStore(blobs blobstore.Store, httpClient *http.Client, config Config) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Store{blobs: blobs, httpClient: httpClient, config: config, now: time.Now}
}

// AddressFor returns the canonical, unversioned address of a project's manifest.
func (s *Store) AddressFor(projectID string) string {
	return s.blobs.URLFor(naming.ManifestPath(projectID))
}

// Load fetches the manifest at address directly from the origin.
func (s *Store) Load(ctx context.Context, address string) (*models.Manifest, error) {
	fetchURL, err := CacheBusted(address, s.now())
	if err != nil {
		return nil, apperrors.Invalid("manifestUrl", err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, apperrors.Invalid("manifestUrl", err.Error())
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, max-age=0")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.UpstreamFetchError{URL: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &apperrors.UpstreamFetchError{
			URL:        address,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var m models.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", address, err)
	}
	if m.Status == "" {
		m.Status = models.StatusEmpty
	}
	ledger.NormalizeAssets(&m)
	if gen := resp.Header.Get(blobstore.GenerationHeader); gen != "" {
		m.Generation, _ = strconv.ParseInt(gen, 10, 64)
	}
	return &m, nil
}

// Save overwrites the manifest at its canonical path and returns the new address.
func (s *Store) Save(ctx context.Context, m *models.Manifest) (string, error) {
	var opts blobstore.PutOptions
	if s.config.ConditionalSaves && m.Generation != 0 {
		opts.IfGenerationMatch = m.Generation
	}
	return s.write(ctx, m, opts)
}

func (s *Store) write(ctx context.Context, m *models.Manifest, opts blobstore.PutOptions) (string, error) {
	if !naming.ValidProjectID(m.ProjectID) {
		return "", apperrors.Invalid("projectId", "manifest has no valid projectId")
	}
	ledger.NormalizeAssets(m)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	opts.ContentType = "application/json"
	opts.Public = true
	opts.CacheControl = "no-cache, max-age=0"
	path := naming.ManifestPath(m.ProjectID)
	address, err := s.blobs.Put(ctx, path, data, opts)
	if err != nil {
		return "", err
	}
	slog.Debug("Saved manifest.", "projectId", m.ProjectID, "manifestUrl", address, "bytes", len(data))
	return address, nil
}

// Create saves a new empty manifest for projectID. It fails with a ConflictError when
// the project already has a manifest.
func (s *Store) Create(ctx context.Context, projectID string) (*models.Manifest, string, error) {
	if !naming.ValidProjectID(projectID) {
		return nil, "", apperrors.Invalid("projectId", "must be 1-128 letters, digits, '-' or '_'")
	}
	m := &models.Manifest{
		ProjectID: projectID,
		CreatedAt: s.now().UTC(),
		Status:    models.StatusEmpty,
		Pages:     []models.PageImage{},
	}
	address, err := s.write(ctx, m, blobstore.PutOptions{IfNotExists: true})
	if err != nil {
		return nil, "", err
	}
	return m, address, nil
}

// LoadFor loads address and checks that it belongs to projectID.
func (s *Store) LoadFor(ctx context.Context, projectID, address string) (*models.Manifest, error) {
	m, err := s.Load(ctx, address)
	if err != nil {
		return nil, err
	}
	if m.ProjectID != projectID {
		return nil, &apperrors.MismatchError{Expected: projectID, Actual: m.ProjectID}
	}
	return m, nil
}

// CacheBusted appends a unique query parameter so intermediaries cannot serve a stale copy.
func CacheBusted(address string, now time.Time) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(cacheBustParam, strconv.FormatInt(now.UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
