// Package pdfrender rasterizes PDF pages to PNG.
package pdfrender

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/Lllllllleong/assetmanifest/internal/models"
)

// DefaultDPI renders pages at a resolution good enough for cropping figures.
const DefaultDPI = 150

// Renderer rasterizes PDFs with MuPDF through go-fitz.
type Renderer struct {
	DPI float64
}

// NewRenderer returns a renderer at dpi, or DefaultDPI when dpi <= 0.
func NewRenderer(dpi float64) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{DPI: dpi}
}

// Render converts every page of data to PNG, in page order.
func (r *Renderer) Render(ctx context.Context, data []byte) ([]models.RenderedPage, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	pages := make([]models.RenderedPage, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(i, r.DPI)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d as PNG: %w", i+1, err)
		}
		bounds := img.Bounds()
		pages = append(pages, models.RenderedPage{
			PageNumber: i + 1,
			PNG:        buf.Bytes(),
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}
	return pages, nil
}
