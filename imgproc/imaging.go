package imgproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	// extra decoders
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	exif "github.com/dsoprea/go-exif/v3"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 85

// Imaging is the Engine backed by github.com/disintegration/imaging.
type Imaging struct {
	JPEGQuality int
}

var filters = []imaging.ResampleFilter{imaging.NearestNeighbor, imaging.Linear, imaging.Lanczos}

// Transform implements Engine.
func (e Imaging) Transform(ctx context.Context, src io.Reader, m Manifest) (*Result, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	img = applyOrientation(img, Orientation(data))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := crop(img, m)
	if m.MirrorH {
		out = imaging.FlipH(out)
	}
	if m.MirrorV {
		out = imaging.FlipV(out)
	}

	filter := filters[min(max(m.Interpolation, 0), len(filters)-1)]
	w, h := outputSize(out.Bounds(), m)
	if w <= 0 || h <= 0 {
		return nil, errors.New("empty output size")
	}
	if w != out.Bounds().Dx() || h != out.Bounds().Dy() {
		out = imaging.Resize(out, w, h, filter)
	}
	// the output size refers to the unrotated region
	if m.Rotate != 0 {
		out = imaging.Rotate(out, m.Rotate, color.White)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.Brightness != 0 {
		out = imaging.AdjustBrightness(out, m.Brightness)
	}
	if m.Contrast != 0 {
		out = imaging.AdjustContrast(out, m.Contrast)
	}
	if m.RGBMul != nil || m.RGBAdd != nil {
		out = imaging.AdjustFunc(out, colorMatrix(m.RGBMul, m.RGBAdd))
	}
	if m.Grayscale {
		out = imaging.Grayscale(out)
	}
	if m.Invert {
		out = imaging.Invert(out)
	}

	var buf bytes.Buffer
	res := &Result{Width: out.Bounds().Dx(), Height: out.Bounds().Dy()}
	switch m.Format {
	case "png":
		err = imaging.Encode(&buf, out, imaging.PNG)
		res.Mime = "image/png"
	default:
		q := e.JPEGQuality
		if q <= 0 {
			q = DefaultJPEGQuality
		}
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(q))
		res.Mime = "image/jpeg"
	}
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

func crop(img image.Image, m Manifest) *image.NRGBA {
	b := img.Bounds()
	if m.FullCrop() || m.CropW <= 0 || m.CropH <= 0 {
		return imaging.Clone(img)
	}
	x0 := b.Min.X + int(math.Round(m.CropX*float64(b.Dx())))
	y0 := b.Min.Y + int(math.Round(m.CropY*float64(b.Dy())))
	x1 := x0 + int(math.Round(m.CropW*float64(b.Dx())))
	y1 := y0 + int(math.Round(m.CropH*float64(b.Dy())))
	return imaging.Crop(img, image.Rect(x0, y0, x1, y1))
}

// outputSize resolves the requested size against the cropped region. A
// single given side keeps the aspect ratio; no side at all applies Scale.
func outputSize(b image.Rectangle, m Manifest) (int, int) {
	sw, sh := float64(b.Dx()), float64(b.Dy())
	switch {
	case m.Width > 0 && m.Height > 0:
		return m.Width, m.Height
	case m.Width > 0:
		return m.Width, int(math.Round(sh * float64(m.Width) / sw))
	case m.Height > 0:
		return int(math.Round(sw * float64(m.Height) / sh)), m.Height
	}
	scale := m.Scale
	if scale <= 0 {
		scale = 1
	}
	return int(math.Round(sw * scale)), int(math.Round(sh * scale))
}

// colorMatrix multiplies and offsets the red, green and blue channels.
func colorMatrix(mul, add []float64) func(color.NRGBA) color.NRGBA {
	factor := func(s []float64, i int, def float64) float64 {
		if i < len(s) {
			return s[i]
		}
		return def
	}
	ch := func(v uint8, i int) uint8 {
		f := float64(v)*factor(mul, i, 1) + factor(add, i, 0)
		return uint8(math.Max(0, math.Min(255, math.Round(f))))
	}
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: ch(c.R, 0), G: ch(c.G, 1), B: ch(c.B, 2), A: c.A}
	}
}

// Orientation returns the EXIF orientation of an encoded image, 1 when it
// carries none.
func Orientation(data []byte) int {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return 1
	}
	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return 1
	}
	for _, t := range tags {
		if t.TagName != "Orientation" {
			continue
		}
		if v, ok := t.Value.([]uint16); ok && len(v) > 0 {
			return int(v[0])
		}
	}
	return 1
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
