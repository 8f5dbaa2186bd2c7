// Package ledger holds the pure merge rules over a manifest's pages and assets.
// Nothing here performs I/O; operations fetch, call into the ledger, then save.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// TombstoneSet is the set of deleted asset ids of one page.
type TombstoneSet map[string]struct{}

// Tombstones builds the set from page.DeletedAssetIDs.
func Tombstones(page *models.PageImage) TombstoneSet {
	set := make(TombstoneSet, len(page.DeletedAssetIDs))
	for _, id := range page.DeletedAssetIDs {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether assetID is tombstoned.
func (s TombstoneSet) Has(assetID string) bool {
	_, ok := s[assetID]
	return ok
}

// IsTombstoned reports whether assetID was deleted from page.
func IsTombstoned(page *models.PageImage, assetID string) bool {
	for _, id := range page.DeletedAssetIDs {
		if id == assetID {
			return true
		}
	}
	return false
}

// MergeIncomingAssets upserts incoming into page.Assets. Tombstoned ids are dropped
// silently; an incoming asset without tags keeps the stored tags and rationale.
// It returns the number of incoming assets applied and dropped.
func MergeIncomingAssets(page *models.PageImage, incoming []models.PageAsset) (applied, dropped int) {
	dead := Tombstones(page)

	byID := make(map[string]models.PageAsset, len(page.Assets)+len(incoming))
	for _, a := range page.Assets {
		byID[a.AssetID] = a
	}

	for _, in := range incoming {
		if dead.Has(in.AssetID) {
			dropped++
			continue
		}
		merged := in
		if existing, ok := byID[in.AssetID]; ok {
			if len(in.Tags) == 0 {
				merged.Tags = existing.Tags
				if merged.TagRationale == "" {
					merged.TagRationale = existing.TagRationale
				}
			}
			if merged.URL == "" {
				merged.URL = existing.URL
			}
		}
		byID[in.AssetID] = merged
		applied++
	}

	// Existing entries are filtered again in case a tombstoned id was already present.
	out := make([]models.PageAsset, 0, len(byID))
	for id, a := range byID {
		if dead.Has(id) {
			continue
		}
		out = append(out, a)
	}
	SortAssets(out)
	page.Assets = out
	return applied, dropped
}

// Tombstone records assetID as deleted on page and removes any matching assets.
// It reports whether the tombstone was newly added.
func Tombstone(page *models.PageImage, assetID string) bool {
	_, added := tombstone(page, assetID)
	return added
}

// DeleteAssetEverywhere tombstones assetID and returns the url of the removed asset,
// which the caller needs for the physical blob delete.
func DeleteAssetEverywhere(page *models.PageImage, assetID string) (url string, found bool) {
	removed, _ := tombstone(page, assetID)
	for _, a := range removed {
		if a.URL != "" {
			return a.URL, true
		}
	}
	return "", len(removed) > 0
}

func tombstone(page *models.PageImage, assetID string) (removed []models.PageAsset, added bool) {
	if !IsTombstoned(page, assetID) {
		page.DeletedAssetIDs = append(page.DeletedAssetIDs, assetID)
		sort.Strings(page.DeletedAssetIDs)
		added = true
	}
	kept := make([]models.PageAsset, 0, len(page.Assets))
	for _, a := range page.Assets {
		if a.AssetID == assetID {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	page.Assets = kept
	return removed, added
}

// RemoveAsset drops assetID from page without tombstoning it.
func RemoveAsset(page *models.PageImage, assetID string) bool {
	kept := make([]models.PageAsset, 0, len(page.Assets))
	removed := false
	for _, a := range page.Assets {
		if a.AssetID == assetID {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	page.Assets = kept
	return removed
}

// FindAsset returns a pointer into page.Assets, or nil.
func FindAsset(page *models.PageImage, assetID string) *models.PageAsset {
	for i := range page.Assets {
		if page.Assets[i].AssetID == assetID {
			return &page.Assets[i]
		}
	}
	return nil
}

// FindPage returns a pointer into m.Pages, or nil.
func FindPage(m *models.Manifest, pageNumber int) *models.PageImage {
	for i := range m.Pages {
		if m.Pages[i].PageNumber == pageNumber {
			return &m.Pages[i]
		}
	}
	return nil
}

// UpsertPage sets the raster fields of a page, keeping assets and tombstones of an
// existing entry, and keeps m.Pages sorted. Zero-valued fields of in never overwrite.
func UpsertPage(m *models.Manifest, in models.PageImage) *models.PageImage {
	if p := FindPage(m, in.PageNumber); p != nil {
		if in.URL != "" {
			p.URL = in.URL
		}
		if in.Width > 0 {
			p.Width = in.Width
		}
		if in.Height > 0 {
			p.Height = in.Height
		}
		return p
	}
	m.Pages = append(m.Pages, models.PageImage{
		PageNumber: in.PageNumber,
		URL:        in.URL,
		Width:      in.Width,
		Height:     in.Height,
		Assets:     []models.PageAsset{},
	})
	SortPages(m)
	return FindPage(m, in.PageNumber)
}

// NormalizeAssets replaces nil asset lists with empty ones so every page carries an
// "assets" array on the wire.
func NormalizeAssets(m *models.Manifest) {
	for i := range m.Pages {
		if m.Pages[i].Assets == nil {
			m.Pages[i].Assets = []models.PageAsset{}
		}
	}
}

// SortPages orders pages ascending by page number.
func SortPages(m *models.Manifest) {
	sort.SliceStable(m.Pages, func(i, j int) bool { return m.Pages[i].PageNumber < m.Pages[j].PageNumber })
}

// SortAssets orders assets ascending by asset id.
func SortAssets(assets []models.PageAsset) {
	sort.SliceStable(assets, func(i, j int) bool { return assets[i].AssetID < assets[j].AssetID })
}

// AppendDebugLog prepends a timestamped line and trims the log to MaxDebugLogEntries.
func AppendDebugLog(m *models.Manifest, now time.Time, format string, args ...any) {
	line := fmt.Sprintf("%s %s", now.UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	m.DebugLog = append([]string{line}, m.DebugLog...)
	if len(m.DebugLog) > models.MaxDebugLogEntries {
		m.DebugLog = m.DebugLog[:models.MaxDebugLogEntries]
	}
}

// NextAssetIndex returns an index past every asset and tombstone on page, so freshly
// detected crops never collide with a deleted id.
func NextAssetIndex(page *models.PageImage) int {
	highest := 0
	consider := func(id string) {
		if pn, idx, ok := naming.ParseAssetID(id); ok && pn == page.PageNumber && idx > highest {
			highest = idx
		}
	}
	for _, a := range page.Assets {
		consider(a.AssetID)
	}
	for _, id := range page.DeletedAssetIDs {
		consider(id)
	}
	return highest + 1
}
