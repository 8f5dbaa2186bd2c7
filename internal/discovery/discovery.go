// Package discovery infers page and asset identity from the blob listing of a project
// and reconciles a manifest against it.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/naming"
)

// PageObject is the physical raster chosen for a page.
type PageObject struct {
	PageNumber int
	URL        string
}

// AssetObject is the physical crop chosen for an asset.
type AssetObject struct {
	PageNumber int
	AssetID    string
	URL        string
	Duplicates int
}

// Inventory is what physically exists under a project prefix.
type Inventory struct {
	ProjectID string
	Objects   int
	Ignored   int
	Pages     map[int]PageObject
	// Assets is keyed by page number, then asset id.
	Assets map[int]map[string]AssetObject
}

// PageNumbers returns every page number seen either as a raster or as an asset directory,
// ascending.
func (inv *Inventory) PageNumbers() []int {
	seen := make(map[int]struct{}, len(inv.Pages)+len(inv.Assets))
	for n := range inv.Pages {
		seen[n] = struct{}{}
	}
	for n := range inv.Assets {
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// AssetsOn returns the assets of a page sorted by asset id.
func (inv *Inventory) AssetsOn(pageNumber int) []AssetObject {
	byID := inv.Assets[pageNumber]
	out := make([]AssetObject, 0, len(byID))
	for _, a := range byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Discover drains the listing under the project prefix and builds its inventory.
func Discover(ctx context.Context, store blobstore.Store, projectID string) (*Inventory, error) {
	objects, err := blobstore.ListAll(ctx, store, naming.ProjectPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list project objects: %w", err)
	}
	inv := Build(projectID, objects)
	slog.Info("Discovered project objects.",
		"projectId", projectID,
		"objects", inv.Objects,
		"pages", len(inv.Pages),
		"ignored", inv.Ignored,
	)
	return inv, nil
}

// Build classifies a listing. Several objects for the same logical page or asset are
// resolved with PreferURL so the result does not depend on listing order.
func Build(projectID string, objects []blobstore.Object) *Inventory {
	inv := &Inventory{
		ProjectID: projectID,
		Objects:   len(objects),
		Pages:     make(map[int]PageObject),
		Assets:    make(map[int]map[string]AssetObject),
	}
	for _, obj := range objects {
		if ref, ok := naming.ParsePagePath(obj.Pathname); ok && ref.ProjectID == projectID {
			current, exists := inv.Pages[ref.PageNumber]
			if !exists || PreferURL(obj.URL, current.URL) {
				inv.Pages[ref.PageNumber] = PageObject{PageNumber: ref.PageNumber, URL: obj.URL}
			}
			continue
		}
		if ref, ok := naming.ParseAssetPath(obj.Pathname); ok && ref.ProjectID == projectID {
			byID := inv.Assets[ref.PageNumber]
			if byID == nil {
				byID = make(map[string]AssetObject)
				inv.Assets[ref.PageNumber] = byID
			}
			current, exists := byID[ref.AssetID]
			next := AssetObject{PageNumber: ref.PageNumber, AssetID: ref.AssetID, URL: obj.URL}
			if exists {
				next.Duplicates = current.Duplicates + 1
				if !PreferURL(obj.URL, current.URL) {
					next.URL = current.URL
				}
			}
			byID[ref.AssetID] = next
			continue
		}
		inv.Ignored++
	}
	return inv
}

// PreferURL reports whether candidate should replace current when both map to the same
// logical object: the longer URL wins, then the lexically greater one.
func PreferURL(candidate, current string) bool {
	if len(candidate) != len(current) {
		return len(candidate) > len(current)
	}
	return candidate > current
}
