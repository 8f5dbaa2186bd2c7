package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
	"github.com/Lllllllleong/assetmanifest/internal/pdfcheck"
)

const (
	artifactExtractedText = "extracted.txt"
	artifactFormattedText = "formatted.md"
	artifactDocAI         = "docai.json"
	artifactSchemaResults = "schema-results.json"

	defaultListLimit = 100

	// Source PDFs written by UploadSourcePDF carry this metadata so the storage event
	// they fire does not attach them a second time.
	uploadedByKey = "uploadedBy"
	uploadedByAPI = "api"
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateProject saves an empty manifest for a new project. An id that already has a
// manifest is a conflict; the existing manifest is left untouched.
func (s *Service) CreateProject(ctx context.Context, req *models.CreateProjectRequest) (*models.CreateProjectResponse, error) {
	projectID := req.ProjectID
	if projectID == "" {
		projectID = s.newID()
	}
	logCtx := s.logger("createProject", models.ManifestTarget{ProjectID: projectID})

	m, address, err := s.manifests.Create(ctx, projectID)
	if errors.Is(err, apperrors.ErrConflict) {
		logCtx.Warn("Project already exists.")
		return nil, err
	}
	if err != nil {
		logCtx.Error("Failed to create manifest", "error", err)
		return nil, err
	}
	s.syncIndex(ctx, logCtx, m, address, "")
	logCtx.Info("Created project.", "manifestUrl", address)
	return &models.CreateProjectResponse{Result: ok(address), ProjectID: projectID}, nil
}

// UploadSourcePDF validates and stores the project's source PDF, then attaches it to
// the manifest and optionally starts the processing pipeline.
func (s *Service) UploadSourcePDF(ctx context.Context, req *models.UploadSourcePDFRequest) (*models.UploadSourcePDFResponse, error) {
	if err := validateTarget(req.ManifestTarget); err != nil {
		return nil, err
	}
	if !strings.EqualFold(path.Ext(req.Filename), ".pdf") {
		return nil, apperrors.Invalid("filename", "must end in .pdf")
	}
	if len(req.Content) == 0 {
		return nil, apperrors.Invalid("content", "is required")
	}
	pageCount, err := pdfcheck.Inspect(req.Content)
	if err != nil {
		return nil, apperrors.Invalid("content", err.Error())
	}
	logCtx := s.logger("uploadSourcePdf", req.ManifestTarget).With("filename", req.Filename, "pageCount", pageCount)

	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	sourceURL, err := s.putWithRetry(ctx, naming.SourcePath(req.ProjectID, req.Filename), req.Content, sourcePutOptions())
	if err != nil {
		logCtx.Error("Failed to store source PDF", "error", err)
		return nil, fmt.Errorf("failed to store source PDF: %w", err)
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	latest.SourcePDF = &models.SourcePDF{URL: sourceURL, Filename: req.Filename}
	latest.Status = models.StatusUploaded
	ledger.AppendDebugLog(latest, s.now(), "uploadSourcePdf filename=%s pages=%d", req.Filename, pageCount)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	s.startPipeline(ctx, latest.ProjectID, address, pageCount)
	logCtx.Info("Stored source PDF.", "sourceUrl", sourceURL)
	return &models.UploadSourcePDFResponse{Result: ok(address), SourceURL: sourceURL, PageCount: pageCount}, nil
}

func sourcePutOptions() blobstore.PutOptions {
	return blobstore.PutOptions{
		ContentType: "application/pdf",
		Public:      true,
		Metadata:    map[string]string{uploadedByKey: uploadedByAPI},
	}
}

func (s *Service) startPipeline(ctx context.Context, projectID, address string, pageCount int) {
	if s.trigger == nil {
		return
	}
	logCtx := s.logger("startPipeline", models.ManifestTarget{ProjectID: projectID})
	execution, err := s.trigger.Trigger(ctx, projectID, address, pageCount)
	if err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return
	}
	logCtx.Info("Triggered workflow.", "execution", execution)
}

// ProcessDocument runs OCR on the source PDF and stores the text artifacts.
func (s *Service) ProcessDocument(ctx context.Context, req *models.ProcessDocumentRequest) (*models.ProcessDocumentResponse, error) {
	if s.documents == nil {
		return nil, fmt.Errorf("document processing is not configured")
	}
	logCtx := s.logger("processDocument", req.ManifestTarget)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}
	if m.SourcePDF == nil || m.SourcePDF.URL == "" {
		return nil, &apperrors.NotFoundError{Kind: "source PDF", ID: req.ProjectID}
	}
	pdf, err := s.fetchBytes(ctx, m.SourcePDF.URL)
	if err != nil {
		logCtx.Error("Failed to read source PDF", "error", err)
		return nil, err
	}
	result, err := s.documents.ProcessDocument(ctx, pdf)
	if err != nil {
		logCtx.Error("Document processing failed", "error", err)
		return nil, fmt.Errorf("document processing failed: %w", err)
	}
	logCtx = logCtx.With("shape", result.Shape, "pages", len(result.Pages))

	raw := result.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(result)
	}
	artifacts := []struct {
		name        string
		contentType string
		data        []byte
	}{
		{artifactExtractedText, "text/plain; charset=utf-8", []byte(result.FullText)},
		{artifactFormattedText, "text/markdown; charset=utf-8", []byte(result.Markdown())},
		{artifactDocAI, "application/json", raw},
	}
	urls := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		url, err := s.putWithRetry(ctx, naming.DerivedPath(req.ProjectID, a.name), a.data, blobstore.PutOptions{ContentType: a.contentType, Public: true})
		if err != nil {
			logCtx.Error("Failed to store derived artifact", "artifact", a.name, "error", err)
			return nil, fmt.Errorf("failed to store %s: %w", a.name, err)
		}
		urls[a.name] = url
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	latest.ExtractedText = &models.BlobRef{URL: urls[artifactExtractedText]}
	latest.FormattedText = &models.BlobRef{URL: urls[artifactFormattedText]}
	latest.DocAIJSON = &models.BlobRef{URL: urls[artifactDocAI]}
	latest.Status = models.StatusProcessed
	ledger.AppendDebugLog(latest, s.now(), "processDocument shape=%s pages=%d", result.Shape, len(result.Pages))

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Processed document.")
	return &models.ProcessDocumentResponse{Result: ok(address), Shape: string(result.Shape), PageCount: len(result.Pages)}, nil
}

// RecordPage upserts one page raster, keeping its assets and tombstones.
func (s *Service) RecordPage(ctx context.Context, req *models.RecordPageRequest) (*models.Result, error) {
	if err := validateTarget(req.ManifestTarget); err != nil {
		return nil, err
	}
	switch {
	case req.PageNumber <= 0:
		return nil, apperrors.Invalid("pageNumber", "must be a positive integer")
	case req.URL == "":
		return nil, apperrors.Invalid("url", "is required")
	case req.Width <= 0 || req.Height <= 0:
		return nil, apperrors.Invalid("width/height", "must be positive")
	}
	logCtx := s.logger("recordPage", req.ManifestTarget).With("pageNumber", req.PageNumber)

	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	m, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	ledger.UpsertPage(m, models.PageImage{PageNumber: req.PageNumber, URL: req.URL, Width: req.Width, Height: req.Height})

	address, err := s.save(ctx, logCtx, m)
	if err != nil {
		return nil, err
	}
	res := ok(address)
	return &res, nil
}

// ExtractSchema fills the project's extraction schema from the processed text.
func (s *Service) ExtractSchema(ctx context.Context, req *models.ExtractSchemaRequest) (*models.ExtractSchemaResponse, error) {
	if s.schema == nil {
		return nil, fmt.Errorf("schema extraction is not configured")
	}
	logCtx := s.logger("extractSchema", req.ManifestTarget)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Settings.ExtractionSchema) == "" {
		return nil, apperrors.Invalid("settings.extractionSchema", "is empty")
	}
	textRef := m.FormattedText
	if textRef == nil || textRef.URL == "" {
		textRef = m.ExtractedText
	}
	if textRef == nil || textRef.URL == "" {
		return nil, &apperrors.NotFoundError{Kind: "processed text", ID: req.ProjectID}
	}
	text, err := s.fetchBytes(ctx, textRef.URL)
	if err != nil {
		return nil, err
	}
	results, err := s.schema.ExtractSchema(ctx, string(text), m.Settings.ExtractionSchema)
	if err != nil {
		logCtx.Error("Schema extraction failed", "error", err)
		return nil, fmt.Errorf("schema extraction failed: %w", err)
	}
	resultsURL, err := s.putWithRetry(ctx, naming.DerivedPath(req.ProjectID, artifactSchemaResults), results,
		blobstore.PutOptions{ContentType: "application/json", Public: true})
	if err != nil {
		return nil, fmt.Errorf("failed to store schema results: %w", err)
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	latest.SchemaResults = &models.BlobRef{URL: resultsURL}
	ledger.AppendDebugLog(latest, s.now(), "extractSchema bytes=%d", len(results))

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	return &models.ExtractSchemaResponse{Result: ok(address), ResultsURL: resultsURL}, nil
}

// UpdateSettings replaces the settings block and nothing else.
func (s *Service) UpdateSettings(ctx context.Context, req *models.UpdateSettingsRequest) (*models.Result, error) {
	logCtx := s.logger("updateSettings", req.ManifestTarget)
	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	latest.Settings = req.Settings

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	res := ok(address)
	return &res, nil
}

// DeleteProject removes every object under the project prefix, manifest included,
// and its index record.
func (s *Service) DeleteProject(ctx context.Context, req *models.DeleteProjectRequest) (*models.DeleteProjectResponse, error) {
	if !naming.ValidProjectID(req.ProjectID) {
		return nil, apperrors.Invalid("projectId", "must be 1-128 letters, digits, '-' or '_'")
	}
	logCtx := s.logger("deleteProject", models.ManifestTarget{ProjectID: req.ProjectID})

	objects, err := blobstore.ListAll(ctx, s.blobs, naming.ProjectPrefix(req.ProjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list project objects: %w", err)
	}
	urls := make([]string, 0, len(objects))
	for _, obj := range objects {
		urls = append(urls, obj.URL)
	}
	deleted, err := s.blobs.Delete(ctx, urls)
	if err != nil {
		logCtx.Error("Failed to delete project objects", "error", err)
		return nil, fmt.Errorf("failed to delete project objects: %w", err)
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, req.ProjectID); err != nil {
			logCtx.Warn("Failed to remove project from index", "error", err)
		}
	}
	logCtx.Info("Deleted project.", "objects", deleted)
	return &models.DeleteProjectResponse{Result: models.Result{OK: true}, Deleted: deleted}, nil
}

// ListProjects returns the indexed projects, newest first.
func (s *Service) ListProjects(ctx context.Context, limit int) (*models.ListProjectsResponse, error) {
	if s.index == nil {
		return &models.ListProjectsResponse{Result: models.Result{OK: true}, Projects: []models.ProjectRecord{}}, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	records, err := s.index.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	if records == nil {
		records = []models.ProjectRecord{}
	}
	return &models.ListProjectsResponse{Result: models.Result{OK: true}, Projects: records}, nil
}

// IngestStorageEvent attaches a PDF dropped straight into a project's source folder.
// Objects outside that folder, and PDFs already attached, are ignored.
func (s *Service) IngestStorageEvent(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("operation", "ingestStorageEvent", "gcsBucket", e.Bucket, "gcsObject", e.Name)
	projectID, filename, isSource := naming.ParseSourcePath(e.Name)
	if !isSource {
		logCtx.Info("Object is not a project source PDF. Skipping.")
		return nil
	}
	logCtx = logCtx.With("projectId", projectID)
	if e.Metadata[uploadedByKey] == uploadedByAPI {
		logCtx.Info("Source PDF was uploaded through the API. Skipping.")
		return nil
	}

	address := s.manifests.AddressFor(projectID)
	m, err := s.manifests.LoadFor(ctx, projectID, address)
	var fetchErr *apperrors.UpstreamFetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound {
		logCtx.Warn("No manifest for project. Skipping.")
		return nil
	}
	if err != nil {
		logCtx.Error("Failed to load manifest for source PDF", "error", err)
		return err
	}
	sourceURL := s.blobs.URLFor(e.Name)
	if m.SourcePDF != nil {
		if p, ok := s.blobs.PathFor(m.SourcePDF.URL); ok && p == e.Name {
			logCtx.Info("Source PDF already attached. Skipping.")
			return nil
		}
	}

	m.SourcePDF = &models.SourcePDF{URL: sourceURL, Filename: filename}
	m.Status = models.StatusUploaded
	ledger.AppendDebugLog(m, s.now(), "ingestStorageEvent object=%s", e.Name)

	address, err = s.save(ctx, logCtx, m)
	if err != nil {
		return err
	}
	s.startPipeline(ctx, projectID, address, 0)
	logCtx.Info("Attached source PDF from storage event.", "manifestUrl", address)
	return nil
}
