// Package imaging decodes page rasters and cuts asset crops out of them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/Lllllllleong/assetmanifest/internal/models"
)

// Dimensions reads the pixel size of an encoded PNG or JPEG without decoding pixels.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Decode decodes a PNG or JPEG page raster.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// ToPixelBox converts a normalized detection to a pixel bbox clamped to the page.
// ok is false when nothing of the box remains inside the page or a value is not finite.
func ToPixelBox(d models.DetectedBox, pageWidth, pageHeight int) (models.BBox, bool) {
	for _, v := range []float64{d.X, d.Y, d.W, d.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.BBox{}, false
		}
	}
	x0 := clamp(math.Round(d.X*float64(pageWidth)), 0, float64(pageWidth))
	y0 := clamp(math.Round(d.Y*float64(pageHeight)), 0, float64(pageHeight))
	x1 := clamp(math.Round((d.X+d.W)*float64(pageWidth)), 0, float64(pageWidth))
	y1 := clamp(math.Round((d.Y+d.H)*float64(pageHeight)), 0, float64(pageHeight))
	if x1-x0 <= 0 || y1-y0 <= 0 {
		return models.BBox{}, false
	}
	return models.BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// Crop cuts box out of img and encodes it as PNG.
func Crop(img image.Image, box models.BBox) ([]byte, error) {
	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+int(box.X), b.Min.Y+int(box.Y),
		b.Min.X+int(box.X+box.W), b.Min.Y+int(box.Y+box.H),
	).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %v is outside the page", box)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
