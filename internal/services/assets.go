package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

func validateAssetInput(field string, pageNumber int, in models.AssetInput) error {
	if pageNumber <= 0 {
		return apperrors.Invalid(field+"pageNumber", "must be a positive integer")
	}
	if in.AssetID == "" {
		return apperrors.Invalid(field+"assetId", "is required")
	}
	if in.URL == "" {
		return apperrors.Invalid(field+"url", "is required")
	}
	if in.BBox == nil {
		return apperrors.Invalid(field+"bbox", "is required")
	}
	for _, v := range []float64{in.BBox.X, in.BBox.Y, in.BBox.W, in.BBox.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.Invalid(field+"bbox", "must contain finite numbers")
		}
	}
	return nil
}

func toPageAsset(in models.AssetInput) models.PageAsset {
	return models.PageAsset{
		AssetID:      in.AssetID,
		URL:          in.URL,
		BBox:         *in.BBox,
		Tags:         in.Tags,
		TagRationale: in.TagRationale,
	}
}

// RecordAsset upserts one asset on an existing page of the latest manifest. A
// tombstoned id is dropped without saving and the call still succeeds.
func (s *Service) RecordAsset(ctx context.Context, req *models.RecordAssetRequest) (*models.RecordAssetResponse, error) {
	if err := validateTarget(req.ManifestTarget); err != nil {
		return nil, err
	}
	if err := validateAssetInput("", req.PageNumber, req.AssetInput); err != nil {
		return nil, err
	}
	logCtx := s.logger("recordAsset", req.ManifestTarget).With("pageNumber", req.PageNumber, "assetId", req.AssetID)

	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	m, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	page := ledger.FindPage(m, req.PageNumber)
	if page == nil {
		return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(req.PageNumber)}
	}

	_, dropped := ledger.MergeIncomingAssets(page, []models.PageAsset{toPageAsset(req.AssetInput)})
	if dropped > 0 {
		logCtx.Warn("Asset id is tombstoned. Dropping.")
		return &models.RecordAssetResponse{Result: ok(req.ManifestURL), Dropped: true}, nil
	}

	address, err := s.save(ctx, logCtx, m)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Recorded asset.")
	return &models.RecordAssetResponse{Result: ok(address)}, nil
}

// RecordAssetsBulk upserts many assets in one save. Every element is validated and
// every page must exist before anything is applied.
func (s *Service) RecordAssetsBulk(ctx context.Context, req *models.RecordAssetsBulkRequest) (*models.RecordAssetsBulkResponse, error) {
	if err := validateTarget(req.ManifestTarget); err != nil {
		return nil, err
	}
	if len(req.Assets) == 0 {
		return nil, apperrors.Invalid("assets", "must not be empty")
	}
	byPage := make(map[int][]models.PageAsset)
	for i, a := range req.Assets {
		if err := validateAssetInput(fmt.Sprintf("assets[%d].", i), a.PageNumber, a.AssetInput); err != nil {
			return nil, err
		}
		byPage[a.PageNumber] = append(byPage[a.PageNumber], toPageAsset(a.AssetInput))
	}
	logCtx := s.logger("recordAssetsBulk", req.ManifestTarget).With("assets", len(req.Assets))

	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	m, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	pageNumbers := make([]int, 0, len(byPage))
	for n := range byPage {
		if ledger.FindPage(m, n) == nil {
			return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(n)}
		}
		pageNumbers = append(pageNumbers, n)
	}
	sort.Ints(pageNumbers)

	var recorded, dropped int
	for _, n := range pageNumbers {
		applied, d := ledger.MergeIncomingAssets(ledger.FindPage(m, n), byPage[n])
		recorded += applied
		dropped += d
	}
	if dropped > 0 {
		logCtx.Warn("Dropped tombstoned assets.", "dropped", dropped)
	}
	if recorded == 0 {
		return &models.RecordAssetsBulkResponse{Result: ok(req.ManifestURL), Dropped: dropped}, nil
	}

	address, err := s.save(ctx, logCtx, m)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Recorded assets.", "recorded", recorded, "dropped", dropped)
	return &models.RecordAssetsBulkResponse{Result: ok(address), Recorded: recorded, Dropped: dropped}, nil
}

// DeleteAsset removes every physical object of an asset, then tombstones it in the
// latest manifest. It is idempotent; a failed physical delete leaves the manifest untouched.
func (s *Service) DeleteAsset(ctx context.Context, req *models.DeleteAssetRequest) (*models.DeleteAssetResponse, error) {
	if err := validateTarget(req.ManifestTarget); err != nil {
		return nil, err
	}
	if req.PageNumber <= 0 {
		return nil, apperrors.Invalid("pageNumber", "must be a positive integer")
	}
	if req.AssetID == "" {
		return nil, apperrors.Invalid("assetId", "is required")
	}
	logCtx := s.logger("deleteAsset", req.ManifestTarget).With("pageNumber", req.PageNumber, "assetId", req.AssetID)

	if _, err := s.load(ctx, req.ManifestTarget); err != nil {
		return nil, err
	}
	m, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	page := ledger.FindPage(m, req.PageNumber)
	if page == nil {
		return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(req.PageNumber)}
	}

	urls, err := s.physicalAssetURLs(ctx, req, page)
	if err != nil {
		logCtx.Error("Failed to enumerate asset objects", "error", err)
		return nil, err
	}
	deleted, err := s.blobs.Delete(ctx, urls)
	if err != nil {
		logCtx.Error("Failed to delete asset objects", "error", err)
		return nil, fmt.Errorf("failed to delete asset objects: %w", err)
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	page = ledger.FindPage(latest, req.PageNumber)
	if page == nil {
		return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(req.PageNumber)}
	}
	ledger.DeleteAssetEverywhere(page, req.AssetID)
	ledger.AppendDebugLog(latest, s.now(), "deleteAsset page=%d asset=%s physical=%d", req.PageNumber, req.AssetID, deleted)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Deleted asset.", "physical", deleted)
	return &models.DeleteAssetResponse{Result: ok(address), Deleted: deleted}, nil
}

// physicalAssetURLs collects every stored object decoding to the asset: the manifest's
// URL, the caller's URL, and any listed duplicates. URLs that do not decode to this
// exact asset are ignored so a caller cannot delete unrelated objects.
func (s *Service) physicalAssetURLs(ctx context.Context, req *models.DeleteAssetRequest, page *models.PageImage) ([]string, error) {
	var urls []string
	belongs := func(url string) bool {
		path, ok := s.blobs.PathFor(url)
		if !ok {
			return false
		}
		ref, ok := naming.ParseAssetPath(path)
		return ok && ref.ProjectID == req.ProjectID && ref.PageNumber == req.PageNumber && ref.AssetID == req.AssetID
	}
	if a := ledger.FindAsset(page, req.AssetID); a != nil && belongs(a.URL) {
		urls = append(urls, a.URL)
	}
	if req.URL != "" && belongs(req.URL) {
		urls = append(urls, req.URL)
	}

	objects, err := blobstore.ListAll(ctx, s.blobs, naming.PageAssetsPrefix(req.ProjectID, req.PageNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to list asset objects: %w", err)
	}
	for _, obj := range objects {
		ref, ok := naming.ParseAssetPath(obj.Pathname)
		if ok && ref.AssetID == req.AssetID {
			urls = append(urls, obj.URL)
		}
	}
	return urls, nil
}
