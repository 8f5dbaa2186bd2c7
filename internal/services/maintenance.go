package services

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/assetmanifest/internal/discovery"
	"github.com/Lllllllleong/assetmanifest/internal/imaging"
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
)

type probeTarget struct {
	pageNumber int
	assetID    string
	url        string
	outcome    probeOutcome
}

// PruneMissingAssets probes every asset URL and removes entries whose object is
// definitely gone. Indeterminate probes never remove anything. Pruned ids are not
// tombstoned: a later re-upload may bring them back.
func (s *Service) PruneMissingAssets(ctx context.Context, req *models.PruneMissingAssetsRequest) (*models.PruneMissingAssetsResponse, error) {
	logCtx := s.logger("pruneMissingAssets", req.ManifestTarget)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}

	var targets []*probeTarget
	for _, p := range m.Pages {
		for _, a := range p.Assets {
			targets = append(targets, &probeTarget{pageNumber: p.PageNumber, assetID: a.AssetID, url: a.URL, outcome: probeIndeterminate})
		}
	}
	logCtx.Info("Probing asset URLs.", "assets", len(targets))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.PruneConcurrency)
	for _, t := range targets {
		if t.url == "" {
			continue
		}
		eg.Go(func() error {
			outcome, status := s.probe(gctx, t.url)
			t.outcome = outcome
			if outcome == probeIndeterminate {
				logCtx.Warn("Asset probe was inconclusive. Keeping.", "assetId", t.assetID, "status", status)
			}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &models.PruneMissingAssetsResponse{Checked: len(targets)}
	var missing []*probeTarget
	for _, t := range targets {
		switch t.outcome {
		case probeMissing:
			missing = append(missing, t)
		case probeIndeterminate:
			resp.Indeterminate++
		}
	}
	if len(missing) == 0 {
		resp.Result = ok(req.ManifestURL)
		return resp, nil
	}

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	for _, t := range missing {
		page := ledger.FindPage(latest, t.pageNumber)
		if page == nil {
			continue
		}
		// A changed URL means the asset was re-uploaded after the probe.
		if a := ledger.FindAsset(page, t.assetID); a != nil && a.URL == t.url {
			ledger.RemoveAsset(page, t.assetID)
			resp.Removed++
		}
	}
	if resp.Removed == 0 {
		resp.Result = ok(req.ManifestURL)
		return resp, nil
	}
	ledger.AppendDebugLog(latest, s.now(), "pruneMissingAssets checked=%d removed=%d indeterminate=%d",
		resp.Checked, resp.Removed, resp.Indeterminate)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Pruned missing assets.", "checked", resp.Checked, "removed", resp.Removed, "indeterminate", resp.Indeterminate)
	resp.Result = ok(address)
	return resp, nil
}

// RebuildIndex makes the asset lists mirror storage: unseen assets are dropped, seen
// pages and assets are created or have their URL replaced. Page entries are never
// removed, so tombstones survive and tombstoned ids stay out.
func (s *Service) RebuildIndex(ctx context.Context, req *models.ReconcileRequest) (*models.ReconcileResponse, error) {
	return s.reconcile(ctx, req, discovery.ModeRebuild)
}

// RestoreFromStorage only adds pages and assets found in storage and fills missing
// URLs. It never removes an entry and never re-adds a tombstoned id.
func (s *Service) RestoreFromStorage(ctx context.Context, req *models.ReconcileRequest) (*models.ReconcileResponse, error) {
	return s.reconcile(ctx, req, discovery.ModeRestore)
}

func (s *Service) reconcile(ctx context.Context, req *models.ReconcileRequest, mode discovery.Mode) (*models.ReconcileResponse, error) {
	logCtx := s.logger(mode.String(), req.ManifestTarget)

	m, err := s.load(ctx, req.ManifestTarget)
	if err != nil {
		return nil, err
	}
	inv, err := discovery.Discover(ctx, s.blobs, req.ProjectID)
	if err != nil {
		logCtx.Error("Failed to discover project objects", "error", err)
		return nil, err
	}
	dims := s.missingDimensions(ctx, m, inv)

	latest, err := s.latest(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	stats := discovery.Reconcile(latest, inv, mode)
	for i := range latest.Pages {
		p := &latest.Pages[i]
		if d, ok := dims[p.URL]; ok && (p.Width == 0 || p.Height == 0) {
			p.Width, p.Height = d[0], d[1]
		}
	}
	ledger.AppendDebugLog(latest, s.now(),
		"%s objects=%d pagesAdded=%d assetsAdded=%d assetsRemoved=%d urlsRepaired=%d skipped=%d",
		mode, inv.Objects, stats.PagesAdded, stats.AssetsAdded, stats.AssetsRemoved, stats.URLsRepaired, stats.Skipped)

	address, err := s.save(ctx, logCtx, latest)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Reconciled manifest with storage.",
		"objects", inv.Objects,
		"pagesAdded", stats.PagesAdded,
		"assetsAdded", stats.AssetsAdded,
		"assetsRemoved", stats.AssetsRemoved,
	)
	return &models.ReconcileResponse{
		Result:        ok(address),
		Objects:       inv.Objects,
		PagesAdded:    stats.PagesAdded,
		AssetsAdded:   stats.AssetsAdded,
		AssetsRemoved: stats.AssetsRemoved,
		URLsRepaired:  stats.URLsRepaired,
		Skipped:       stats.Skipped,
	}, nil
}

// missingDimensions reads the raster header of every discovered page the manifest has
// no size for, keyed by URL. Unreadable rasters are skipped.
func (s *Service) missingDimensions(ctx context.Context, m *models.Manifest, inv *discovery.Inventory) map[string][2]int {
	var (
		mu   sync.Mutex
		dims = make(map[string][2]int)
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.UploadConcurrency)
	for n, obj := range inv.Pages {
		if p := ledger.FindPage(m, n); p != nil && p.Width > 0 && p.Height > 0 && p.URL == obj.URL {
			continue
		}
		eg.Go(func() error {
			data, err := s.blobs.Get(gctx, obj.URL)
			if err != nil {
				s.logger("dimensions", models.ManifestTarget{ProjectID: m.ProjectID}).
					Warn("Could not read page raster.", "pageNumber", n, "error", err)
				return nil
			}
			w, h, err := imaging.Dimensions(data)
			if err != nil {
				return nil
			}
			mu.Lock()
			dims[obj.URL] = [2]int{w, h}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return dims
}
