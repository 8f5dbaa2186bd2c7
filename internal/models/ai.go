package models

// DetectedBox is one region returned by the detection model, in normalized 0-1
// coordinates relative to the page raster.
type DetectedBox struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Category string  `json:"category,omitempty"`
}

// TagResult is the tagging model's answer for one asset.
type TagResult struct {
	Tags      []string `json:"tags"`
	Rationale string   `json:"rationale"`
}

// RenderedPage is one PDF page rasterized to PNG.
type RenderedPage struct {
	PageNumber int
	PNG        []byte
	Width      int
	Height     int
}
