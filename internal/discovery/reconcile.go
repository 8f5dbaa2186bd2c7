package discovery

import (
	"github.com/Lllllllleong/assetmanifest/internal/ledger"
	"github.com/Lllllllleong/assetmanifest/internal/models"
)

// Mode selects how storage and manifest disagree are resolved.
type Mode int

const (
	// ModeRestore only adds missing entries and repairs missing URLs.
	ModeRestore Mode = iota
	// ModeRebuild makes the asset lists mirror storage: assets without a physical object
	// are dropped, present ones are created or have their URL replaced. Page entries are
	// never removed so their tombstones survive.
	ModeRebuild
)

func (m Mode) String() string {
	if m == ModeRebuild {
		return "rebuild"
	}
	return "restore"
}

// Stats counts what a reconciliation changed.
type Stats struct {
	PagesAdded    int
	AssetsAdded   int
	AssetsRemoved int
	URLsRepaired  int
	// Skipped counts physical assets left out because their id is tombstoned.
	Skipped int
}

// Reconcile applies inv to m in place. Tombstoned ids are never re-added, in either mode.
// Page dimensions, bboxes and tags are carried over from m; new entries start zeroed.
func Reconcile(m *models.Manifest, inv *Inventory, mode Mode) Stats {
	var stats Stats

	if mode == ModeRebuild {
		for i := range m.Pages {
			p := &m.Pages[i]
			if _, ok := inv.Pages[p.PageNumber]; ok {
				continue
			}
			if _, ok := inv.Assets[p.PageNumber]; ok {
				continue
			}
			// No object backs the page: its assets go, the entry and DeletedAssetIDs stay.
			stats.AssetsRemoved += len(p.Assets)
			p.Assets = []models.PageAsset{}
		}
	}

	for _, n := range inv.PageNumbers() {
		obj, hasRaster := inv.Pages[n]
		page := ledger.FindPage(m, n)
		if page == nil {
			page = ledger.UpsertPage(m, models.PageImage{PageNumber: n, URL: obj.URL})
			stats.PagesAdded++
		} else if hasRaster {
			switch {
			case page.URL == "":
				page.URL = obj.URL
				stats.URLsRepaired++
			case mode == ModeRebuild && page.URL != obj.URL:
				page.URL = obj.URL
				stats.URLsRepaired++
			}
		}
		reconcileAssets(page, inv.AssetsOn(n), mode, &stats)
	}

	ledger.SortPages(m)
	return stats
}

func reconcileAssets(page *models.PageImage, physical []AssetObject, mode Mode, stats *Stats) {
	dead := ledger.Tombstones(page)
	present := make(map[string]AssetObject, len(physical))
	for _, obj := range physical {
		if dead.Has(obj.AssetID) {
			stats.Skipped++
			continue
		}
		present[obj.AssetID] = obj
	}

	if mode == ModeRebuild {
		kept := make([]models.PageAsset, 0, len(page.Assets))
		for _, a := range page.Assets {
			if _, ok := present[a.AssetID]; ok && !dead.Has(a.AssetID) {
				kept = append(kept, a)
				continue
			}
			stats.AssetsRemoved++
		}
		page.Assets = kept
	}

	var incoming []models.PageAsset
	for _, obj := range physical {
		if _, ok := present[obj.AssetID]; !ok {
			continue
		}
		existing := ledger.FindAsset(page, obj.AssetID)
		switch {
		case existing == nil:
			incoming = append(incoming, models.PageAsset{AssetID: obj.AssetID, URL: obj.URL})
			stats.AssetsAdded++
		case existing.URL == "":
			existing.URL = obj.URL
			stats.URLsRepaired++
		case mode == ModeRebuild && existing.URL != obj.URL:
			existing.URL = obj.URL
			stats.URLsRepaired++
		}
	}
	ledger.MergeIncomingAssets(page, incoming)
}
