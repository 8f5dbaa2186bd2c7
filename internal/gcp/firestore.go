package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/assetmanifest/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ProjectIndex mirrors project manifests into a Firestore collection for listing.
type ProjectIndex struct {
	client     *firestore.Client
	collection string
}

// NewProjectIndex returns an index over collection.
func NewProjectIndex(client *firestore.Client, collection string) *ProjectIndex {
	if collection == "" {
		collection = "projects"
	}
	return &ProjectIndex{client: client, collection: collection}
}

// Upsert writes the record, keeping createdAt of an existing document.
func (x *ProjectIndex) Upsert(ctx context.Context, rec models.ProjectRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	doc := x.client.Collection(x.collection).Doc(rec.ProjectID)
	updates := []firestore.Update{
		{Path: "projectId", Value: rec.ProjectID},
		{Path: "manifestPath", Value: rec.ManifestPath},
		{Path: "manifestUrl", Value: rec.ManifestURL},
		{Path: "status", Value: rec.Status},
		{Path: "updatedAt", Value: rec.UpdatedAt},
	}
	if rec.SourceFilename != "" {
		updates = append(updates, firestore.Update{Path: "sourceFilename", Value: rec.SourceFilename})
	}
	if rec.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: rec.PageCount})
	}
	if _, err := doc.Update(ctx, updates); err != nil {
		if status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to update project record %s: %w", rec.ProjectID, err)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		if _, err := doc.Set(ctx, rec); err != nil {
			return fmt.Errorf("failed to create project record %s: %w", rec.ProjectID, err)
		}
	}
	return nil
}

// Delete removes the record; a missing record is not an error.
func (x *ProjectIndex) Delete(ctx context.Context, projectID string) error {
	_, err := x.client.Collection(x.collection).Doc(projectID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete project record %s: %w", projectID, err)
	}
	return nil
}

// List returns records ordered by creation time, newest first.
func (x *ProjectIndex) List(ctx context.Context, limit int) ([]models.ProjectRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	it := x.client.Collection(x.collection).OrderBy("createdAt", firestore.Desc).Limit(limit).Documents(ctx)
	defer it.Stop()

	var out []models.ProjectRecord
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list project records: %w", err)
		}
		var rec models.ProjectRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode project record %s: %w", snap.Ref.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
