package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "projects/abc/manifest.json", ManifestPath("abc"))
	assert.Equal(t, "projects/abc/pages/page-3.png", PagePath("abc", 3))
	assert.Equal(t, "projects/abc/assets/p3/", PageAssetsPrefix("abc", 3))
	assert.Equal(t, "projects/abc/assets/p3/p3-img01.png", AssetPath("abc", 3, "p3-img01", ""))
	assert.Equal(t, "projects/abc/assets/p3/p3-img01-x9.png", AssetPath("abc", 3, "p3-img01", "x9"))
	assert.Equal(t, "projects/abc/derived/docai.json", DerivedPath("abc", "docai.json"))
	assert.Equal(t, "projects/abc/source/My_File.pdf", SourcePath("abc", "../My File.pdf"))
}

func TestValidProjectID(t *testing.T) {
	assert.True(t, ValidProjectID("abc-123_x"))
	assert.False(t, ValidProjectID(""))
	assert.False(t, ValidProjectID("../etc"))
	assert.False(t, ValidProjectID("a/b"))
	assert.False(t, ValidProjectID("-leading"))
}

func TestAssetIDRoundTrip(t *testing.T) {
	id := AssetID(12, 7)
	assert.Equal(t, "p12-img07", id)

	page, index, ok := ParseAssetID(id)
	require.True(t, ok)
	assert.Equal(t, 12, page)
	assert.Equal(t, 7, index)

	page, index, ok = ParseAssetID(AssetID(1, 123))
	require.True(t, ok)
	assert.Equal(t, 1, page)
	assert.Equal(t, 123, index)

	for _, bad := range []string{"", "p0-img01", "p1-img1", "img01", "p1-img01-extra"} {
		_, _, ok := ParseAssetID(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseAssetPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		ok   bool
		want AssetRef
	}{
		{
			name: "plain",
			path: "projects/abc/assets/p2/p2-img03.png",
			ok:   true,
			want: AssetRef{ProjectID: "abc", PageNumber: 2, AssetID: "p2-img03", Index: 3},
		},
		{
			name: "with suffix",
			path: "projects/abc/assets/p2/p2-img03-1f2e3d4c.png",
			ok:   true,
			want: AssetRef{ProjectID: "abc", PageNumber: 2, AssetID: "p2-img03", Index: 3},
		},
		{
			name: "underscore suffix",
			path: "projects/abc/assets/p10/p10-img11_v2.png",
			ok:   true,
			want: AssetRef{ProjectID: "abc", PageNumber: 10, AssetID: "p10-img11", Index: 11},
		},
		{name: "page mismatch", path: "projects/abc/assets/p2/p3-img03.png"},
		{name: "not png", path: "projects/abc/assets/p2/p2-img03.jpg"},
		{name: "nested", path: "projects/abc/assets/p2/x/p2-img03.png"},
		{name: "page raster", path: "projects/abc/pages/page-2.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := ParseAssetPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, ref)
			}
		})
	}
}

func TestParsePagePath(t *testing.T) {
	ref, ok := ParsePagePath("projects/abc/pages/page-14.png")
	require.True(t, ok)
	assert.Equal(t, PageRef{ProjectID: "abc", PageNumber: 14}, ref)

	_, ok = ParsePagePath("projects/abc/pages/page-0.png")
	assert.False(t, ok)
	_, ok = ParsePagePath("projects/abc/pages/cover.png")
	assert.False(t, ok)
}

func TestParseSourcePath(t *testing.T) {
	id, name, ok := ParseSourcePath("projects/abc/source/report.PDF")
	require.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "report.PDF", name)

	_, _, ok = ParseSourcePath("projects/abc/source/notes.txt")
	assert.False(t, ok)
	_, _, ok = ParseSourcePath("projects/abc/derived/report.pdf")
	assert.False(t, ok)
	_, _, ok = ParseSourcePath("elsewhere/abc/source/report.pdf")
	assert.False(t, ok)
}

func TestObjectPathFromURL(t *testing.T) {
	base := "https://storage.googleapis.com/bucket"

	p, ok := ObjectPathFromURL(base, base+"/projects/abc/manifest.json?v=17")
	require.True(t, ok)
	assert.Equal(t, "projects/abc/manifest.json", p)

	_, ok = ObjectPathFromURL(base, "https://example.com/bucket/projects/abc/manifest.json")
	assert.False(t, ok)
	_, ok = ObjectPathFromURL(base, "https://storage.googleapis.com/other/projects/abc/manifest.json")
	assert.False(t, ok)
}
