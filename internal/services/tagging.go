package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
)

const maxTagsPerAsset = 20

type tagUpdate struct {
	pageNumber int
	assetID    string
	result     models.TagResult
}

// TagAssets runs the tagger over every untagged asset (or every asset with Overwrite),
// then writes the results into the latest manifest. Results for assets deleted or
// tombstoned while tagging ran are discarded.
func (s *Service) TagAssets(ctx context.Context, req *models.TagAssetsRequest) (*models.TagAssetsResponse, error) {
	if s.tagger == nil {
		return nil, fmt.Errorf("tagging is not configured")
	}
	logCtx := s.logger("tagAssets", req.ManifestTarget).With("overwrite", req.Overwrite)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}
	only := make(map[int]bool, len(req.PageNumbers))
	for _, n := range req.PageNumbers {
		only[n] = true
	}
	doc := s.pageTextSource(ctx, m)

	resp := &models.TagAssetsResponse{}
	var updates []tagUpdate
	for _, page := range m.Pages {
		if len(only) > 0 && !only[page.PageNumber] {
			continue
		}
		dead := ledger.Tombstones(&page)
		pageText := doc.PageTextFor(page.PageNumber)
		for _, a := range page.Assets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if dead.Has(a.AssetID) || (len(a.Tags) > 0 && !req.Overwrite) {
				resp.Skipped++
				continue
			}
			if a.URL == "" {
				resp.Failed++
				continue
			}
			image, err := s.fetchBytes(ctx, a.URL)
			if err != nil {
				logCtx.Warn("Could not fetch asset image.", "assetId", a.AssetID, "error", err)
				resp.Failed++
				continue
			}
			result, err := s.tagger.Tag(ctx, image, pageText, m.Settings.TaggingRules)
			if err != nil {
				logCtx.Warn("Tagging failed for asset.", "assetId", a.AssetID, "error", err)
				resp.Failed++
				continue
			}
			result.Tags = normalizeTags(result.Tags)
			if len(result.Tags) == 0 {
				logCtx.Warn("Tagger returned no usable tags.", "assetId", a.AssetID)
				resp.Failed++
				continue
			}
			updates = append(updates, tagUpdate{pageNumber: page.PageNumber, assetID: a.AssetID, result: result})
		}
	}

	if len(updates) == 0 {
		resp.Result = ok(req.ManifestURL)
		logCtx.Info("Nothing to tag.", "skipped", resp.Skipped, "failed", resp.Failed)
		return resp, nil
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		page := ledger.FindPage(latest, u.pageNumber)
		if page == nil || ledger.IsTombstoned(page, u.assetID) {
			resp.Discarded++
			continue
		}
		a := ledger.FindAsset(page, u.assetID)
		if a == nil {
			resp.Discarded++
			continue
		}
		a.Tags = u.result.Tags
		a.TagRationale = strings.TrimSpace(u.result.Rationale)
		resp.Tagged++
	}
	if resp.Discarded > 0 {
		logCtx.Warn("Discarded tags for assets removed during tagging.", "discarded", resp.Discarded)
	}
	if resp.Tagged == 0 {
		resp.Result = ok(req.ManifestURL)
		return resp, nil
	}
	ledger.AppendDebugLog(latest, s.now(), "tagAssets tagged=%d skipped=%d failed=%d discarded=%d",
		resp.Tagged, resp.Skipped, resp.Failed, resp.Discarded)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Tagged assets.", "tagged", resp.Tagged, "skipped", resp.Skipped, "failed", resp.Failed)
	resp.Result = ok(address)
	return resp, nil
}

// pageTextSource loads the stored OCR payload for page context. It is optional:
// without it assets are tagged from the image alone.
func (s *Service) pageTextSource(ctx context.Context, m *models.Manifest) models.DocumentResult {
	if m.DocAIJSON == nil || m.DocAIJSON.URL == "" {
		return models.DocumentResult{Shape: models.ShapeUnknown}
	}
	raw, err := s.fetchBytes(ctx, m.DocAIJSON.URL)
	if err != nil {
		s.logger("tagAssets", models.ManifestTarget{ProjectID: m.ProjectID}).
			Warn("Could not load OCR payload for context.", "error", err)
		return models.DocumentResult{Shape: models.ShapeUnknown}
	}
	return models.ParseDocumentResult(raw)
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping their order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTagsPerAsset {
			break
		}
	}
	return out
}
