// Package bootstrap wires the Google Cloud implementations of every service collaborator.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/gcp"
	"github.com/Lllllllleong/assetmanifest/internal/pdfrender"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

// NewFromEnv loads the configuration from the environment and builds a Service
// backed by Cloud Storage, Vertex AI, Firestore and, when WORKFLOW_ID is set, Workflows.
func NewFromEnv(ctx context.Context) (*services.Service, error) {
	config, err := services.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	blobs, err := gcp.NewBlobStore(ctx, blobstore.GCSConfig{
		Bucket:            config.AssetsBucket,
		PublicBaseURL:     config.PublicBaseURL,
		DeleteConcurrency: config.UploadConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, gcp.VertexConfig{
		ProjectID:      config.ProjectID,
		Region:         config.VertexAIRegion,
		DetectionModel: config.DetectionModel,
		TaggingModel:   config.TaggingModel,
		OCRModel:       config.OCRModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	deps := services.Dependencies{
		Blobs:      blobs,
		Detector:   vertexClient,
		Tagger:     vertexClient,
		Documents:  vertexClient,
		Schema:     vertexClient,
		Rasterizer: pdfrender.NewRenderer(config.RenderDPI),
		Index:      gcp.NewProjectIndex(firestoreClient, config.FirestoreCollection),
		Closers:    []func() error{blobs.Close, vertexClient.Close, firestoreClient.Close},
	}

	if config.WorkflowID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflow trigger: %w", err)
		}
		deps.Trigger = trigger
		deps.Closers = append(deps.Closers, trigger.Close)
	}

	svc, err := services.New(deps, *config)
	if err != nil {
		return nil, err
	}
	slog.Info("Asset manifest service initialized.", "bucket", config.AssetsBucket, "workflowId", config.WorkflowID)
	return svc, nil
}
