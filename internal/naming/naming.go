// Package naming owns the blob path convention for projects:
//
//	projects/{projectId}/manifest.json
//	projects/{projectId}/source/{filename}
//	projects/{projectId}/derived/{artifact}
//	projects/{projectId}/pages/page-{N}.png
//	projects/{projectId}/assets/p{N}/p{N}-img{NN}[-suffix].png
//
// Page and asset identity recovered during reconciliation comes only from these functions.
package naming

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const rootPrefix = "projects/"

var (
	projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
	assetIDPattern   = regexp.MustCompile(`^p([1-9][0-9]*)-img([0-9]{2,})$`)
	pagePathPattern  = regexp.MustCompile(`^projects/([^/]+)/pages/page-([1-9][0-9]*)\.png$`)
	assetPathPattern = regexp.MustCompile(`^projects/([^/]+)/assets/p([1-9][0-9]*)/(p([1-9][0-9]*)-img([0-9]{2,}))(?:[-_][^/]*)?\.png$`)
)

// ValidProjectID reports whether id is safe to embed in a blob path.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// ProjectPrefix is the listing prefix of every object a project owns.
func ProjectPrefix(projectID string) string {
	return rootPrefix + projectID + "/"
}

// ManifestPath is the single canonical path of a project's manifest.
func ManifestPath(projectID string) string {
	return ProjectPrefix(projectID) + "manifest.json"
}

// SourcePath is where the uploaded PDF is stored.
func SourcePath(projectID, filename string) string {
	return ProjectPrefix(projectID) + "source/" + sanitizeFilename(filename)
}

// DerivedPath is where OCR text, document-AI JSON and schema results live.
func DerivedPath(projectID, artifact string) string {
	return ProjectPrefix(projectID) + "derived/" + artifact
}

// PagesPrefix lists every page raster of a project.
func PagesPrefix(projectID string) string {
	return ProjectPrefix(projectID) + "pages/"
}

// PagePath is the raster path of one page.
func PagePath(projectID string, pageNumber int) string {
	return fmt.Sprintf("%spage-%d.png", PagesPrefix(projectID), pageNumber)
}

// AssetsPrefix lists every asset crop of a project.
func AssetsPrefix(projectID string) string {
	return ProjectPrefix(projectID) + "assets/"
}

// PageAssetsPrefix lists every asset crop of one page.
func PageAssetsPrefix(projectID string, pageNumber int) string {
	return fmt.Sprintf("%sp%d/", AssetsPrefix(projectID), pageNumber)
}

// AssetID formats the stable per-page identity of the index-th asset.
func AssetID(pageNumber, index int) string {
	return fmt.Sprintf("p%d-img%02d", pageNumber, index)
}

// ParseAssetID splits an asset id into its page number and index.
func ParseAssetID(assetID string) (pageNumber, index int, ok bool) {
	m := assetIDPattern.FindStringSubmatch(assetID)
	if m == nil {
		return 0, 0, false
	}
	pageNumber, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return pageNumber, index, true
}

// AssetPath is the object path of an asset crop. suffix may be empty; it lets re-uploads
// of the same logical asset land on distinct objects.
func AssetPath(projectID string, pageNumber int, assetID, suffix string) string {
	name := assetID
	if suffix != "" {
		name += "-" + suffix
	}
	return PageAssetsPrefix(projectID, pageNumber) + name + ".png"
}

// PageRef is the identity decoded from a page raster path.
type PageRef struct {
	ProjectID  string
	PageNumber int
}

// AssetRef is the identity decoded from an asset crop path.
type AssetRef struct {
	ProjectID  string
	PageNumber int
	AssetID    string
	Index      int
}

// ParsePagePath decodes a page raster path.
func ParsePagePath(objectPath string) (PageRef, bool) {
	m := pagePathPattern.FindStringSubmatch(objectPath)
	if m == nil {
		return PageRef{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return PageRef{}, false
	}
	return PageRef{ProjectID: m[1], PageNumber: n}, true
}

// ParseAssetPath decodes an asset crop path. The page directory and the page encoded in
// the asset id must agree.
func ParseAssetPath(objectPath string) (AssetRef, bool) {
	m := assetPathPattern.FindStringSubmatch(objectPath)
	if m == nil || m[2] != m[4] {
		return AssetRef{}, false
	}
	page, err := strconv.Atoi(m[2])
	if err != nil {
		return AssetRef{}, false
	}
	index, err := strconv.Atoi(m[5])
	if err != nil {
		return AssetRef{}, false
	}
	return AssetRef{ProjectID: m[1], PageNumber: page, AssetID: m[3], Index: index}, true
}

// ParseSourcePath reports the project owning a source PDF path.
func ParseSourcePath(objectPath string) (projectID, filename string, ok bool) {
	rest, found := strings.CutPrefix(objectPath, rootPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "source" || parts[2] == "" || !ValidProjectID(parts[0]) {
		return "", "", false
	}
	if !strings.EqualFold(path.Ext(parts[2]), ".pdf") {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// ObjectPathFromURL recovers the object path from a public URL of the form
// {base}/{path}?query. base must match the store's public base URL.
func ObjectPathFromURL(base, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	b, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", false
	}
	if u.Scheme != b.Scheme || u.Host != b.Host {
		return "", false
	}
	rest, found := strings.CutPrefix(u.Path, b.Path+"/")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "source.pdf"
	}
	return out
}
