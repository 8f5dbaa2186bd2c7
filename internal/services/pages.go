package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/imaging"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// RasterizePages renders the source PDF, uploads one PNG per page and records every
// page in a single merge.
func (s *Service) RasterizePages(ctx context.Context, req *models.RasterizePagesRequest) (*models.RasterizePagesResponse, error) {
	if s.rasterizer == nil {
		return nil, fmt.Errorf("rasterization is not configured")
	}
	logCtx := s.logger("rasterizePages", req.ManifestTarget)

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
	rendered, err := s.rasterizer.Render(ctx, pdf)
	if err != nil {
		logCtx.Error("Failed to rasterize PDF", "error", err)
		return nil, fmt.Errorf("failed to rasterize PDF: %w", err)
	}
	logCtx.Info("Starting concurrent upload of pages.", "pageCount", len(rendered))

	recorded := make([]models.PageImage, len(rendered))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.UploadConcurrency)
	for i, page := range rendered {
		eg.Go(func() error {
			url, err := s.putWithRetry(gctx, naming.PagePath(req.ProjectID, page.PageNumber), page.PNG,
				blobstore.PutOptions{ContentType: "image/png", Public: true})
			if err != nil {
				return fmt.Errorf("page %d: %w", page.PageNumber, err)
			}
			recorded[i] = models.PageImage{PageNumber: page.PageNumber, URL: url, Width: page.Width, Height: page.Height}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("One or more pages failed to upload", "error", err)
		return nil, err
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, p := range recorded {
		ledger.UpsertPage(latest, p)
	}
	ledger.AppendDebugLog(latest, s.now(), "rasterizePages pages=%d", len(recorded))

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("All pages uploaded and recorded.")
	return &models.RasterizePagesResponse{Result: ok(address), Pages: len(recorded)}, nil
}

// DetectAssets detects assets on one page raster, crops and uploads each one, and
// records them. New ids start past every existing and tombstoned index on the page.
func (s *Service) DetectAssets(ctx context.Context, req *models.DetectAssetsRequest) (*models.DetectAssetsResponse, error) {
	if s.detector == nil {
		return nil, fmt.Errorf("detection is not configured")
	}
	if req.PageNumber <= 0 {
		return nil, apperrors.Invalid("pageNumber", "must be a positive integer")
	}
	logCtx := s.logger("detectAssets", req.ManifestTarget).With("pageNumber", req.PageNumber)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}
	page := ledger.FindPage(m, req.PageNumber)
	if page == nil {
		return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(req.PageNumber)}
	}
	if page.URL == "" {
		return nil, &apperrors.NotFoundError{Kind: "page raster", ID: fmt.Sprint(req.PageNumber)}
	}

	raster, err := s.fetchBytes(ctx, page.URL)
	if err != nil {
		logCtx.Error("Failed to read page raster", "error", err)
		return nil, err
	}
	img, err := imaging.Decode(raster)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", req.PageNumber, err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	boxes, err := s.detector.Detect(ctx, raster, m.Settings.DetectionRules)
	if err != nil {
		logCtx.Error("Detection failed", "error", err)
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	resp := &models.DetectAssetsResponse{Detected: len(boxes)}
	type crop struct {
		asset models.PageAsset
		png   []byte
	}
	var crops []crop
	next := ledger.NextAssetIndex(page)
	for _, d := range boxes {
		box, valid := imaging.ToPixelBox(d, width, height)
		if !valid {
			resp.Rejected++
			continue
		}
		data, err := imaging.Crop(img, box)
		if err != nil {
			resp.Rejected++
			continue
		}
		id := naming.AssetID(req.PageNumber, next)
		next++
		crops = append(crops, crop{asset: models.PageAsset{AssetID: id, BBox: box}, png: data})
	}
	if resp.Rejected > 0 {
		logCtx.Warn("Rejected degenerate detections.", "rejected", resp.Rejected)
	}
	if len(crops) == 0 {
		resp.Result = ok(req.ManifestURL)
		logCtx.Info("No assets detected.")
		return resp, nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.UploadConcurrency)
	for i := range crops {
		c := &crops[i]
		eg.Go(func() error {
			path := naming.AssetPath(req.ProjectID, req.PageNumber, c.asset.AssetID, s.newSuffix())
			url, err := s.putWithRetry(gctx, path, c.png, blobstore.PutOptions{ContentType: "image/png", Public: true})
			if err != nil {
				return fmt.Errorf("asset %s: %w", c.asset.AssetID, err)
			}
			c.asset.URL = url
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("One or more crops failed to upload", "error", err)
		return nil, err
	}

	incoming := make([]models.PageAsset, 0, len(crops))
	for _, c := range crops {
		incoming = append(incoming, c.asset)
		resp.AssetIDs = append(resp.AssetIDs, c.asset.AssetID)
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	target := ledger.FindPage(latest, req.PageNumber)
	if target == nil {
		return nil, &apperrors.NotFoundError{Kind: "page", ID: fmt.Sprint(req.PageNumber)}
	}
	if target.Width == 0 || target.Height == 0 {
		target.Width, target.Height = width, height
	}
	applied, dropped := ledger.MergeIncomingAssets(target, incoming)
	ledger.AppendDebugLog(latest, s.now(), "detectAssets page=%d detected=%d recorded=%d rejected=%d",
		req.PageNumber, resp.Detected, applied, resp.Rejected)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Recorded detected assets.", "recorded", applied, "dropped", dropped)
	resp.Result = ok(address)
	return resp, nil
}
