// Package imgproc performs the pixel work of a scale request: crop, resize,
// rotate, mirror, color adjustments and encoding.
package imgproc

import (
	"context"
	"fmt"
	"io"
)

// Manifest describes one transformation.
type Manifest struct {
	// Crop region relative to the source, each in [0,1].
	CropX, CropY, CropW, CropH float64
	// Width and Height are the output size. If both are zero the cropped
	// region is scaled by Scale.
	Width, Height int
	Scale         float64
	// Rotate is the rotation in degrees, counterclockwise.
	Rotate  float64
	MirrorH bool
	MirrorV bool
	// Brightness and Contrast are percentages in [-100,100].
	Brightness float64
	Contrast   float64
	// RGBMul and RGBAdd are per-channel factors and offsets, nil when unset.
	RGBMul    []float64
	RGBAdd    []float64
	Grayscale bool
	Invert    bool
	// Format is "jpeg" or "png".
	Format string
	// Interpolation selects the resample filter: 0 fastest, 2 best.
	Interpolation int
}

// FullCrop reports whether the crop region covers the whole source.
func (m Manifest) FullCrop() bool {
	return m.CropX == 0 && m.CropY == 0 && m.CropW == 1 && m.CropH == 1
}

// Key is a stable textual form of the manifest, used for caching.
func (m Manifest) Key() string {
	return fmt.Sprintf("c%g,%g,%g,%g|s%dx%d@%g|r%g|m%t%t|b%g,c%g|mul%v|add%v|g%t|i%t|%s|q%d",
		m.CropX, m.CropY, m.CropW, m.CropH, m.Width, m.Height, m.Scale, m.Rotate,
		m.MirrorH, m.MirrorV, m.Brightness, m.Contrast, m.RGBMul, m.RGBAdd,
		m.Grayscale, m.Invert, m.Format, m.Interpolation)
}

// Result is an encoded output image.
type Result struct {
	Data   []byte
	Mime   string
	Width  int
	Height int
}

// Engine transforms a source image according to a manifest.
type Engine interface {
	Transform(ctx context.Context, src io.Reader, m Manifest) (*Result, error)
}
