package models

import "time"

// ManifestStatus tracks how far a project has progressed through ingestion.
type ManifestStatus string

const (
	StatusEmpty     ManifestStatus = "empty"
	StatusUploaded  ManifestStatus = "uploaded"
	StatusProcessed ManifestStatus = "processed"
)

// MaxDebugLogEntries bounds Manifest.DebugLog.
const MaxDebugLogEntries = 50

// Manifest is the single JSON document holding all durable state for one project.
// Every field except ProjectID is optional on read so older manifests keep decoding.
type Manifest struct {
	ProjectID     string          `json:"projectId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        ManifestStatus  `json:"status,omitempty"`
	SourcePDF     *SourcePDF      `json:"sourcePdf,omitempty"`
	ExtractedText *BlobRef        `json:"extractedText,omitempty"`
	FormattedText *BlobRef        `json:"formattedText,omitempty"`
	DocAIJSON     *BlobRef        `json:"docAiJson,omitempty"`
	SchemaResults *BlobRef        `json:"schemaResults,omitempty"`
	Pages         []PageImage     `json:"pages"`
	Settings      ProjectSettings `json:"settings"`
	DebugLog      []string        `json:"debugLog,omitempty"`

	// Generation is the storage generation observed when the manifest was loaded.
	// It is never serialized.
	Generation int64 `json:"-"`
}

// SourcePDF points at the uploaded document.
type SourcePDF struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// BlobRef points at a derived artifact in blob storage.
type BlobRef struct {
	URL string `json:"url"`
}

// ProjectSettings holds the user-edited rule texts fed to the AI collaborators.
type ProjectSettings struct {
	AIRules          string `json:"aiRules,omitempty"`
	TaggingRules     string `json:"taggingRules,omitempty"`
	DetectionRules   string `json:"detectionRules,omitempty"`
	ExtractionSchema string `json:"extractionSchema,omitempty"`
}

// PageImage is the rendered raster of one PDF page and the assets cropped from it.
type PageImage struct {
	PageNumber      int         `json:"pageNumber"`
	URL             string      `json:"url"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	Assets          []PageAsset `json:"assets"`
	DeletedAssetIDs []string    `json:"deletedAssetIds,omitempty"`
	// Tags predates per-asset tagging and is kept for old manifests.
	Tags []string `json:"tags,omitempty"`
}

// PageAsset is one cropped visual. AssetID, not URL, is its identity.
type PageAsset struct {
	AssetID      string   `json:"assetId"`
	URL          string   `json:"url"`
	BBox         BBox     `json:"bbox"`
	Tags         []string `json:"tags,omitempty"`
	TagRationale string   `json:"tagRationale,omitempty"`
}

// BBox is a pixel-space rectangle on the page raster.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Clone returns a deep copy so callers can mutate without touching a shared snapshot.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	if m.SourcePDF != nil {
		s := *m.SourcePDF
		c.SourcePDF = &s
	}
	c.ExtractedText = cloneRef(m.ExtractedText)
	c.FormattedText = cloneRef(m.FormattedText)
	c.DocAIJSON = cloneRef(m.DocAIJSON)
	c.SchemaResults = cloneRef(m.SchemaResults)
	c.DebugLog = append([]string(nil), m.DebugLog...)
	c.Pages = make([]PageImage, len(m.Pages))
	for i, p := range m.Pages {
		c.Pages[i] = p.Clone()
	}
	return &c
}

// Clone returns a deep copy of the page.
func (p PageImage) Clone() PageImage {
	c := p
	c.Tags = append([]string(nil), p.Tags...)
	c.DeletedAssetIDs = append([]string(nil), p.DeletedAssetIDs...)
	if p.Assets != nil {
		c.Assets = make([]PageAsset, len(p.Assets))
		for i, a := range p.Assets {
			a.Tags = append([]string(nil), a.Tags...)
			c.Assets[i] = a
		}
	}
	return c
}

func cloneRef(r *BlobRef) *BlobRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
