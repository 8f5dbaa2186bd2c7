package models

// These structs define the JSON payloads accepted and returned by the HTTP functions.
// Every response embeds Result so callers always see {ok, manifestUrl?, error?}.

// Result is the common envelope of every operation response.
type Result struct {
	OK          bool   `json:"ok"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ManifestTarget identifies the manifest an operation works on.
type ManifestTarget struct {
	ProjectID   string `json:"projectId"`
	ManifestURL string `json:"manifestUrl"`
}

// AssetInput is one asset to record.
type AssetInput struct {
	AssetID      string   `json:"assetId"`
	URL          string   `json:"url"`
	BBox         *BBox    `json:"bbox"`
	Tags         []string `json:"tags,omitempty"`
	TagRationale string   `json:"tagRationale,omitempty"`
}

// RecordAssetRequest records a single asset on an existing page.
type RecordAssetRequest struct {
	ManifestTarget
	PageNumber int `json:"pageNumber"`
	AssetInput
}

// RecordAssetResponse reports whether the asset was dropped by a tombstone.
type RecordAssetResponse struct {
	Result
	Dropped bool `json:"dropped,omitempty"`
}

// BulkAssetInput is one element of a bulk record call.
type BulkAssetInput struct {
	PageNumber int `json:"pageNumber"`
	AssetInput
}

// RecordAssetsBulkRequest records many assets at once.
type RecordAssetsBulkRequest struct {
	ManifestTarget
	Assets []BulkAssetInput `json:"assets"`
}

// RecordAssetsBulkResponse counts applied and tombstone-dropped assets.
type RecordAssetsBulkResponse struct {
	Result
	Recorded int `json:"recorded"`
	Dropped  int `json:"dropped"`
}

// DeleteAssetRequest removes one asset physically and logically.
type DeleteAssetRequest struct {
	ManifestTarget
	PageNumber int    `json:"pageNumber"`
	AssetID    string `json:"assetId"`
	URL        string `json:"url,omitempty"`
}

// DeleteAssetResponse reports how many blobs were physically removed.
type DeleteAssetResponse struct {
	Result
	Deleted int `json:"deleted"`
}

// PruneMissingAssetsRequest probes every asset URL.
type PruneMissingAssetsRequest struct {
	ManifestTarget
}

// PruneMissingAssetsResponse counts probe outcomes.
type PruneMissingAssetsResponse struct {
	Result
	Checked       int `json:"checked"`
	Removed       int `json:"removed"`
	Indeterminate int `json:"indeterminate"`
}

// ReconcileRequest drives RebuildIndex and RestoreFromStorage.
type ReconcileRequest struct {
	ManifestTarget
}

// ReconcileResponse counts reconciliation changes.
type ReconcileResponse struct {
	Result
	Objects       int `json:"objects"`
	PagesAdded    int `json:"pagesAdded"`
	AssetsAdded   int `json:"assetsAdded"`
	AssetsRemoved int `json:"assetsRemoved"`
	URLsRepaired  int `json:"urlsRepaired"`
	Skipped       int `json:"skipped"`
}

// TagAssetsRequest runs AI tagging over the project's assets.
type TagAssetsRequest struct {
	ManifestTarget
	Overwrite   bool  `json:"overwrite,omitempty"`
	PageNumbers []int `json:"pageNumbers,omitempty"`
}

// TagAssetsResponse counts tagging outcomes.
type TagAssetsResponse struct {
	Result
	Tagged    int `json:"tagged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

// CreateProjectRequest starts a new project. ProjectID is generated when empty.
type CreateProjectRequest struct {
	ProjectID string `json:"projectId,omitempty"`
}

// CreateProjectResponse returns the identity of the new project.
type CreateProjectResponse struct {
	Result
	ProjectID string `json:"projectId"`
}

// UploadSourcePDFRequest attaches the source PDF. Content is base64 in JSON.
type UploadSourcePDFRequest struct {
	ManifestTarget
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// UploadSourcePDFResponse returns the stored PDF location.
type UploadSourcePDFResponse struct {
	Result
	SourceURL string `json:"sourceUrl"`
	PageCount int    `json:"pageCount"`
}

// ProcessDocumentRequest runs OCR on the uploaded PDF.
type ProcessDocumentRequest struct {
	ManifestTarget
}

// ProcessDocumentResponse reports the shape of the OCR payload.
type ProcessDocumentResponse struct {
	Result
	Shape     string `json:"shape"`
	PageCount int    `json:"pageCount"`
}

// RecordPageRequest records the raster of one page.
type RecordPageRequest struct {
	ManifestTarget
	PageNumber int    `json:"pageNumber"`
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// RasterizePagesRequest renders the source PDF into page images.
type RasterizePagesRequest struct {
	ManifestTarget
}

// RasterizePagesResponse counts rendered pages.
type RasterizePagesResponse struct {
	Result
	Pages int `json:"pages"`
}

// DetectAssetsRequest detects and crops assets on one page.
type DetectAssetsRequest struct {
	ManifestTarget
	PageNumber int `json:"pageNumber"`
}

// DetectAssetsResponse lists the ids that were recorded.
type DetectAssetsResponse struct {
	Result
	Detected int      `json:"detected"`
	Rejected int      `json:"rejected"`
	AssetIDs []string `json:"assetIds,omitempty"`
}

// ExtractSchemaRequest runs metadata extraction against the project's schema.
type ExtractSchemaRequest struct {
	ManifestTarget
}

// ExtractSchemaResponse returns the stored results location.
type ExtractSchemaResponse struct {
	Result
	ResultsURL string `json:"resultsUrl"`
}

// UpdateSettingsRequest replaces the settings block.
type UpdateSettingsRequest struct {
	ManifestTarget
	Settings ProjectSettings `json:"settings"`
}

// DeleteProjectRequest removes every blob of a project.
type DeleteProjectRequest struct {
	ProjectID string `json:"projectId"`
}

// DeleteProjectResponse counts removed blobs.
type DeleteProjectResponse struct {
	Result
	Deleted int `json:"deleted"`
}

// ListProjectsResponse lists indexed projects.
type ListProjectsResponse struct {
	Result
	Projects []ProjectRecord `json:"projects"`
}
