package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/gcp"
	"github.com/Lllllllleong/assetmanifest/internal/manifest"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// Detector finds visual assets on a page raster. Boxes are normalized to 0-1.
type Detector interface {
	Detect(ctx context.Context, image []byte, rules string) ([]models.DetectedBox, error)
}

// Tagger describes one asset crop.
type Tagger interface {
	Tag(ctx context.Context, image []byte, contextText, rules string) (models.TagResult, error)
}

// DocumentProcessor runs OCR over a whole PDF.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, pdf []byte) (models.DocumentResult, error)
}

// SchemaExtractor fills a user schema from document text.
type SchemaExtractor interface {
	ExtractSchema(ctx context.Context, text, schema string) ([]byte, error)
}

// Rasterizer renders every page of a PDF to PNG.
type Rasterizer interface {
	Render(ctx context.Context, pdf []byte) ([]models.RenderedPage, error)
}

// ProjectIndex mirrors project status for listing. It is never read back as truth.
type ProjectIndex interface {
	Upsert(ctx context.Context, rec models.ProjectRecord) error
	Delete(ctx context.Context, projectID string) error
	List(ctx context.Context, limit int) ([]models.ProjectRecord, error)
}

// PipelineTrigger starts downstream processing after a source PDF arrives.
type PipelineTrigger interface {
	Trigger(ctx context.Context, projectID, manifestURL string, pageCount int) (string, error)
}

// Config holds the tunables of the service.
type Config struct {
	ProjectID           string
	AssetsBucket        string
	PublicBaseURL       string
	VertexAIRegion      string
	DetectionModel      string
	TaggingModel        string
	OCRModel            string
	FirestoreCollection string
	WorkflowID          string
	WorkflowLocation    string
	ConditionalSaves    bool
	PruneConcurrency    int
	UploadConcurrency   int
	HTTPTimeout         time.Duration
	RenderDPI           float64
}

// Dependencies are the collaborators of a Service. Only Blobs is required; an
// operation whose collaborator is nil fails with a clear error.
type Dependencies struct {
	Blobs      blobstore.Store
	HTTPClient *http.Client
	Detector   Detector
	Tagger     Tagger
	Documents  DocumentProcessor
	Schema     SchemaExtractor
	Rasterizer Rasterizer
	Index      ProjectIndex
	Trigger    PipelineTrigger
	// Closers release the underlying clients on Close.
	Closers []func() error
}

// Service implements every manifest and asset operation. Each mutation loads the
// manifest, does its slow work, re-loads the latest manifest and merges into it
// right before saving.
type Service struct {
	blobs      blobstore.Store
	manifests  *manifest.Store
	httpClient *http.Client
	detector   Detector
	tagger     Tagger
	documents  DocumentProcessor
	schema     SchemaExtractor
	rasterizer Rasterizer
	index      ProjectIndex
	trigger    PipelineTrigger
	config     Config
	closers    []func() error

	now       func() time.Time
	newSuffix func() string
	newID     func() string
}

// LoadConfig loads and validates the environment variables of a deployed function.
func LoadConfig() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("ASSETS_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("ASSETS_BUCKET environment variable must be set")
	}
	return &Config{
		ProjectID:           projectID,
		AssetsBucket:        bucket,
		PublicBaseURL:       gcp.GetEnv("PUBLIC_BASE_URL", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		DetectionModel:      gcp.GetEnv("DETECTION_MODEL", ""),
		TaggingModel:        gcp.GetEnv("TAGGING_MODEL", ""),
		OCRModel:            gcp.GetEnv("OCR_MODEL", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "projects"),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		ConditionalSaves:    gcp.GetEnvBool("MANIFEST_CONDITIONAL_SAVES", false),
		PruneConcurrency:    gcp.GetEnvInt("PRUNE_CONCURRENCY", 8),
		UploadConcurrency:   gcp.GetEnvInt("UPLOAD_CONCURRENCY", 10),
		HTTPTimeout:         gcp.GetEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		RenderDPI:           float64(gcp.GetEnvInt("RENDER_DPI", 150)),
	}, nil
}

// New builds a Service from explicit dependencies.
func New(deps Dependencies, config Config) (*Service, error) {
	if deps.Blobs == nil {
		return nil, fmt.Errorf("a blob store is required")
	}
	if config.PruneConcurrency <= 0 {
		config.PruneConcurrency = 8
	}
	if config.UploadConcurrency <= 0 {
		config.UploadConcurrency = 10
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}
	return &Service{
		blobs:      deps.Blobs,
		manifests:  manifest.NewStore(deps.Blobs, httpClient, manifest.Config{ConditionalSaves: config.ConditionalSaves}),
		httpClient: httpClient,
		detector:   deps.Detector,
		tagger:     deps.Tagger,
		documents:  deps.Documents,
		schema:     deps.Schema,
		rasterizer: deps.Rasterizer,
		index:      deps.Index,
		trigger:    deps.Trigger,
		config:     config,
		closers:    deps.Closers,
		now:        time.Now,
		newSuffix:  func() string { return uuid.NewString()[:8] },
		newID:      uuid.NewString,
	}, nil
}

// Close releases the clients listed in Dependencies.Closers.
func (s *Service) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Manifests exposes the manifest store for callers that only need to read.
func (s *Service) Manifests() *manifest.Store {
	return s.manifests
}

func validateTarget(t models.ManifestTarget) error {
	if !naming.ValidProjectID(t.ProjectID) {
		return apperrors.Invalid("projectId", "must be 1-128 letters, digits, '-' or '_'")
	}
	if t.ManifestURL == "" {
		return apperrors.Invalid("manifestUrl", "is required")
	}
	return nil
}

// load validates t and fetches the manifest it addresses.
func (s *Service) load(ctx context.Context, t models.ManifestTarget) (*models.Manifest, error) {
	if err := validateTarget(t); err != nil {
		return nil, err
	}
	return s.manifests.LoadFor(ctx, t.ProjectID, t.ManifestURL)
}

// latest re-fetches the manifest right before a merge. The canonical address is used
// so a stale versioned URL supplied by the caller cannot hide a newer write.
func (s *Service) latest(ctx context.Context, projectID string) (*models.Manifest, error) {
	m, err := s.manifests.LoadFor(ctx, projectID, s.manifests.AddressFor(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to re-fetch latest manifest: %w", err)
	}
	return m, nil
}

// save writes m and mirrors its status to the index.
func (s *Service) save(ctx context.Context, logCtx *slog.Logger, m *models.Manifest) (string, error) {
	address, err := s.manifests.Save(ctx, m)
	if err != nil {
		logCtx.Error("Failed to save manifest", "error", err)
		return "", fmt.Errorf("failed to save manifest: %w", err)
	}
	s.syncIndex(ctx, logCtx, m, address, "")
	return address, nil
}

// syncIndex is best-effort: the manifest is the source of truth.
func (s *Service) syncIndex(ctx context.Context, logCtx *slog.Logger, m *models.Manifest, address, errDetails string) {
	if s.index == nil {
		return
	}
	rec := models.ProjectRecord{
		ProjectID:    m.ProjectID,
		ManifestPath: naming.ManifestPath(m.ProjectID),
		ManifestURL:  address,
		Status:       string(m.Status),
		PageCount:    len(m.Pages),
		ErrorDetails: errDetails,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    s.now().UTC(),
	}
	if m.SourcePDF != nil {
		rec.SourceFilename = m.SourcePDF.Filename
	}
	if err := s.index.Upsert(ctx, rec); err != nil {
		logCtx.Warn("Failed to update project index", "error", err)
	}
}

func (s *Service) logger(operation string, t models.ManifestTarget) *slog.Logger {
	return slog.With("operation", operation, "projectId", t.ProjectID)
}

func ok(address string) models.Result {
	return models.Result{OK: true, ManifestURL: address}
}
