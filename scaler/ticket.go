package scaler

import (
	"errors"
	"fmt"
	"math"

	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/imgproc"
)

// sendable are the source types a browser can show without conversion.
var sendable = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
}

// Ticket describes how one request will be served. It is built per request
// and owned by the call handling it.
type Ticket struct {
	Params Params
	Path   string // canonical logical path
	Images *dircache.ImageSet
	// Source is the copy the result is made from.
	Source *dircache.ImageFile
	// SendAsIs is set when Source is returned unmodified.
	SendAsIs bool
	// Raw marks an unmodified file sent as a download.
	Raw bool
	// TransformRequired is set when some pixel work is needed.
	TransformRequired bool
	Manifest          imgproc.Manifest
}

// colorOps reports whether any color adjustment was requested.
func (p Params) colorOps() bool {
	return p.Contrast != 0 || p.Brightness != 0 || p.RGBMul != nil || p.RGBAdd != nil || p.ColorOp != ""
}

func (p Params) fullCrop() bool {
	return p.WX == 0 && p.WY == 0 && p.WW == 1 && p.WH == 1
}

func (p Params) sized() bool {
	return p.DW > 0 || p.DH > 0 || p.Has(OptOSize)
}

// newTicket decides which copy to use and whether it must be transformed.
func newTicket(cp string, is *dircache.ImageSet, p Params, sendFileAllowed bool) (*Ticket, error) {
	p.WX, p.WW = cropSpan(p.WX, p.WW)
	p.WY, p.WH = cropSpan(p.WY, p.WH)
	t := &Ticket{Params: p, Path: cp, Images: is}

	if sendFileAllowed && (p.Has(OptFile) || p.Has(OptRawFile)) {
		t.Source = is.Biggest()
		t.SendAsIs = true
		t.Raw = p.Has(OptRawFile)
		return t, nil
	}

	format := outputFormat(p, is.Biggest().Mime)
	cheap := p.fullCrop() && p.WS == 1 && p.Rot == 0 && !p.colorOps() &&
		!p.Has(OptHMirror) && !p.Has(OptVMirror)

	if !p.sized() && cheap && !p.Has(OptLores) {
		if f, ok := sendable[is.Biggest().Mime]; ok && f == format {
			t.Source = is.Biggest()
			t.SendAsIs = true
			return t, nil
		}
	}

	src, out, err := chooseSource(is, p)
	if err != nil {
		return nil, err
	}
	t.Source = src

	srcSize, err := src.Size()
	if err != nil {
		return nil, &errs.TransformError{Path: src.Path, Err: err}
	}
	cw := int(math.Round(p.WW * float64(srcSize.Width)))
	ch := int(math.Round(p.WH * float64(srcSize.Height)))

	if cheap && out.Width == cw && out.Height == ch {
		if f, ok := sendable[src.Mime]; ok && f == format {
			t.SendAsIs = true
			return t, nil
		}
	}

	t.TransformRequired = true
	t.Manifest = imgproc.Manifest{
		CropX: p.WX, CropY: p.WY, CropW: p.WW, CropH: p.WH,
		Width: out.Width, Height: out.Height,
		Rotate:        p.Rot,
		MirrorH:       p.Has(OptHMirror),
		MirrorV:       p.Has(OptVMirror),
		Brightness:    p.Brightness,
		Contrast:      p.Contrast,
		RGBMul:        p.RGBMul,
		RGBAdd:        p.RGBAdd,
		Grayscale:     p.ColorOp == "grayscale",
		Invert:        p.ColorOp == "invert",
		Format:        format,
		Interpolation: p.Quality(),
	}
	return t, nil
}

// outputFormat picks the encoding: an explicit option, else png for png
// sources and jpeg for everything else.
func outputFormat(p Params, srcMime string) string {
	switch {
	case p.Has(OptPNG):
		return "png"
	case p.Has(OptJPEG):
		return "jpeg"
	case srcMime == "image/png":
		return "png"
	}
	return "jpeg"
}

// chooseSource picks the copy to load and the output size of the cropped
// region. The smallest copy that still covers the requested size is
// preferred; without one the largest copy is scaled up.
func chooseSource(is *dircache.ImageSet, p Params) (*dircache.ImageFile, dircache.Size, error) {
	switch {
	case p.Has(OptOSize):
		return originalSize(is, p)
	case p.DW > 0 || p.DH > 0:
		need := dircache.Size{Width: math.MaxInt32, Height: math.MaxInt32}
		if p.DW > 0 {
			need.Width = int(math.Ceil(float64(p.DW) / p.WW))
		}
		if p.DH > 0 {
			need.Height = int(math.Ceil(float64(p.DH) / p.WH))
		}
		src := forced(is, p)
		if src == nil {
			src = is.NextLargerOrEqual(need)
		}
		if src == nil {
			src = is.Biggest()
		}
		sz, err := src.Size()
		if err != nil {
			return nil, dircache.Size{}, &errs.TransformError{Path: src.Path, Err: err}
		}
		return src, fit(sz, p), nil
	}

	src := forced(is, p)
	if src == nil {
		src = is.Biggest()
	}
	sz, err := src.Size()
	if err != nil {
		return nil, dircache.Size{}, &errs.TransformError{Path: src.Path, Err: err}
	}
	return src, dircache.Size{
		Width:  max(int(math.Round(p.WW*float64(sz.Width)*p.WS)), 1),
		Height: max(int(math.Round(p.WH*float64(sz.Height)*p.WS)), 1),
	}, nil
}

func forced(is *dircache.ImageSet, p Params) *dircache.ImageFile {
	switch {
	case p.Has(OptHires):
		return is.Biggest()
	case p.Has(OptLores):
		return is.Smallest()
	}
	return nil
}

// fit scales the cropped region of a source of size sz into dw x dh keeping
// its aspect ratio, then applies the extra scale factor.
func fit(sz dircache.Size, p Params) dircache.Size {
	cw := p.WW * float64(sz.Width)
	ch := p.WH * float64(sz.Height)
	var scale float64
	switch {
	case p.DW > 0 && p.DH > 0:
		scale = math.Min(float64(p.DW)/cw, float64(p.DH)/ch)
	case p.DW > 0:
		scale = float64(p.DW) / cw
	default:
		scale = float64(p.DH) / ch
	}
	scale *= p.WS
	return dircache.Size{
		Width:  max(int(math.Round(cw*scale)), 1),
		Height: max(int(math.Round(ch*scale)), 1),
	}
}

var errNoResolution = errors.New("image resolution unknown")

// originalSize renders the image at its physical size on a display with the
// requested resolution.
func originalSize(is *dircache.ImageSet, p Params) (*dircache.ImageFile, dircache.Size, error) {
	resX, resY := is.Resolution()
	if resX == 0 || resY == 0 {
		return nil, dircache.Size{}, &errs.TransformError{Path: is.Biggest().Path, Err: errNoResolution}
	}
	if p.DDPIX <= 0 || p.DDPIY <= 0 {
		return nil, dircache.Size{}, &errs.TransformError{
			Path: is.Biggest().Path,
			Err:  fmt.Errorf("display resolution %gx%g", p.DDPIX, p.DDPIY),
		}
	}
	hires, err := is.Biggest().Size()
	if err != nil {
		return nil, dircache.Size{}, &errs.TransformError{Path: is.Biggest().Path, Err: err}
	}
	full := dircache.Size{
		Width:  int(math.Round(float64(hires.Width) * p.DDPIX / resX)),
		Height: int(math.Round(float64(hires.Height) * p.DDPIY / resY)),
	}
	src := forced(is, p)
	if src == nil {
		src = is.NextLargerOrEqual(full)
	}
	if src == nil {
		src = is.Biggest()
	}
	return src, dircache.Size{
		Width:  max(int(math.Round(p.WW*float64(full.Width)*p.WS)), 1),
		Height: max(int(math.Round(p.WH*float64(full.Height)*p.WS)), 1),
	}, nil
}
