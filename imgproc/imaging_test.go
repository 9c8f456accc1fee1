package imgproc

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func source(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, res *Result) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	return img
}

func TestTransform_Geometry(t *testing.T) {
	src := source(t, 40, 20)
	tests := []struct {
		name string
		m    Manifest
		w, h int
	}{
		{"identity", Manifest{Format: "png"}, 40, 20},
		{"scale", Manifest{Scale: 0.5, Format: "png"}, 20, 10},
		{"width keeps aspect", Manifest{Width: 10, Format: "png"}, 10, 5},
		{"height keeps aspect", Manifest{Height: 10}, 20, 10},
		{"crop left half", Manifest{CropW: 0.5, CropH: 1, Format: "png"}, 20, 20},
		{"crop then fit", Manifest{CropX: 0.5, CropW: 0.5, CropH: 1, Width: 10, Height: 10}, 10, 10},
		{"rotate 90", Manifest{Rotate: 90, Format: "png"}, 20, 40},
		{"fit then rotate", Manifest{Width: 20, Height: 10, Rotate: 270, Format: "png"}, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Imaging{}.Transform(context.Background(), bytes.NewReader(src), tt.m)
			require.NoError(t, err)
			assert.Equal(t, tt.w, res.Width)
			assert.Equal(t, tt.h, res.Height)
			b := decode(t, res).Bounds()
			assert.Equal(t, tt.w, b.Dx())
			assert.Equal(t, tt.h, b.Dy())
		})
	}
}

func TestTransform_Formats(t *testing.T) {
	src := source(t, 8, 8)

	res, err := Imaging{JPEGQuality: 60}.Transform(context.Background(), bytes.NewReader(src), Manifest{})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.Mime)

	res, err = Imaging{}.Transform(context.Background(), bytes.NewReader(src), Manifest{Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.Mime)
}

func TestTransform_Color(t *testing.T) {
	src := source(t, 4, 4)
	m := Manifest{RGBMul: []float64{2, 1, 0}, RGBAdd: []float64{0, 10}, Format: "png"}

	res, err := Imaging{}.Transform(context.Background(), bytes.NewReader(src), m)
	require.NoError(t, err)
	r, g, b, _ := decode(t, res).At(1, 1).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(110), g>>8)
	assert.Equal(t, uint32(0), b>>8)

	res, err = Imaging{}.Transform(context.Background(), bytes.NewReader(src), Manifest{Invert: true, Format: "png"})
	require.NoError(t, err)
	r, _, _, _ = decode(t, res).At(0, 0).RGBA()
	assert.Equal(t, uint32(155), r>>8)
}

func TestTransform_Errors(t *testing.T) {
	_, err := Imaging{}.Transform(context.Background(), bytes.NewReader([]byte("not an image")), Manifest{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Imaging{}.Transform(ctx, bytes.NewReader(source(t, 4, 4)), Manifest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrientation_NoExif(t *testing.T) {
	assert.Equal(t, 1, Orientation(source(t, 2, 2)))
	assert.Equal(t, 1, Orientation(nil))
}

func TestManifest(t *testing.T) {
	assert.True(t, Manifest{CropW: 1, CropH: 1}.FullCrop())
	assert.False(t, Manifest{CropX: 0.1, CropW: 0.9, CropH: 1}.FullCrop())

	a := Manifest{Width: 100, Format: "jpeg"}
	b := Manifest{Width: 100, Format: "png"}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), Manifest{Width: 100, Format: "jpeg"}.Key())
}
