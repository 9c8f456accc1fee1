package scaler

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Options understood in the "mo" parameter.
const (
	OptFile    = "file"    // send the original file
	OptRawFile = "rawfile" // send the original file as a download
	OptFit     = "fit"     // fit into dw x dh keeping the aspect ratio (default)
	OptOSize   = "osize"   // render at physical size for the display dpi
	OptHires   = "hires"   // always start from the largest copy
	OptLores   = "lores"   // always start from the smallest copy
	OptHMirror = "hmir"
	OptVMirror = "vmir"
	OptJPEG    = "jpg"
	OptPNG     = "png"
)

// Params are the parameters of one scale request.
type Params struct {
	Path string // fn
	Page int    // pn, 1-based

	DW, DH int // destination size in pixels, 0 when unset

	// relative crop region
	WX, WY, WW, WH float64
	// additional scale factor
	WS float64

	Rot        float64
	Contrast   float64
	Brightness float64
	RGBMul     []float64
	RGBAdd     []float64
	ColorOp    string // "grayscale" or "invert"

	DDPIX, DDPIY float64 // display resolution for osize

	Options []string
}

// DefaultParams returns the parameters of a request that asks for nothing
// but a path.
func DefaultParams(p string) Params {
	return Params{Path: p, Page: 1, WW: 1, WH: 1, WS: 1}
}

// ParseParams reads request parameters from a query. Malformed numbers fall
// back to their defaults.
func ParseParams(q url.Values) Params {
	p := DefaultParams(q.Get("fn"))
	p.Page = max(intParam(q, "pn", 1), 1)
	p.DW = max(intParam(q, "dw", 0), 0)
	p.DH = max(intParam(q, "dh", 0), 0)
	p.WX, p.WW = cropSpan(floatParam(q, "wx", 0), floatParam(q, "ww", 1))
	p.WY, p.WH = cropSpan(floatParam(q, "wy", 0), floatParam(q, "wh", 1))
	p.WS = floatParam(q, "ws", 1)
	if p.WS <= 0 {
		p.WS = 1
	}
	p.Rot = floatParam(q, "rot", 0)
	p.Contrast = floatParam(q, "cont", 0)
	p.Brightness = floatParam(q, "brgt", 0)
	p.RGBMul = floatList(q.Get("rgbm"))
	p.RGBAdd = floatList(q.Get("rgba"))
	p.ColorOp = strings.ToLower(q.Get("colop"))

	ddpi := floatParam(q, "ddpi", 0)
	p.DDPIX = floatParam(q, "ddpix", ddpi)
	p.DDPIY = floatParam(q, "ddpiy", ddpi)

	p.Options = lo.Uniq(lo.Compact(lo.Map(strings.Split(q.Get("mo"), ","), func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	})))
	return p
}

// Has reports whether option opt was given in "mo".
func (p Params) Has(opt string) bool {
	return lo.Contains(p.Options, opt)
}

// Quality returns the interpolation quality hint q0..q2, 1 when unset.
func (p Params) Quality() int {
	for _, o := range p.Options {
		switch o {
		case "q0":
			return 0
		case "q1":
			return 1
		case "q2":
			return 2
		}
	}
	return 1
}

func intParam(q url.Values, key string, def int) int {
	s := q.Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return def
		}
		return int(f)
	}
	return v
}

func floatParam(q url.Values, key string, def float64) float64 {
	s := q.Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// floatList parses slash-separated numbers such as "1.2/1/0.8". Any
// malformed element discards the list.
func floatList(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "/")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// cropSpan fits one axis of the crop region into the image. An empty or
// negative size, or an offset at the far edge, selects the whole axis; a
// size reaching past the edge is cut at it.
func cropSpan(off, size float64) (float64, float64) {
	off = min(max(off, 0), 1)
	if off >= 1 {
		off = 0
	}
	if size <= 0 || size > 1 {
		size = 1
	}
	return off, min(size, 1-off)
}
