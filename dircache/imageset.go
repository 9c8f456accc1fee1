package dircache

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	// header decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pagescaler/pagescaler/docpath"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/meta"
)

// Size is a pixel size.
type Size struct {
	Width, Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// fitsWithin reports whether both sides are at most those of t.
func (s Size) fitsWithin(t Size) bool {
	return s.Width <= t.Width && s.Height <= t.Height
}

// reaches reports whether either side is at least that of t.
func (s Size) reaches(t Size) bool {
	return s.Width >= t.Width || s.Height >= t.Height
}

// ImageFile is one concrete copy of a page image. Its pixel size is read on
// first use.
type ImageFile struct {
	fs afero.Fs
	// Path is the real filesystem path.
	Path string
	// Mime is the MIME type derived from the file extension.
	Mime string

	once sync.Once
	size Size
	err  error
}

func newImageFile(fsys afero.Fs, p string) *ImageFile {
	return &ImageFile{fs: fsys, Path: p, Mime: docpath.MimeType(p)}
}

// Size returns the pixel size, reading the image header the first time.
func (f *ImageFile) Size() (Size, error) {
	f.once.Do(func() {
		f.size, f.err = readSize(f.fs, f.Path)
	})
	return f.size, f.err
}

// Stat returns the file info of the image file.
func (f *ImageFile) Stat() (os.FileInfo, error) {
	return f.fs.Stat(f.Path)
}

// Open opens the image file for reading.
func (f *ImageFile) Open() (afero.File, error) {
	return f.fs.Open(f.Path)
}

// exifWindow is how much of a file is searched for EXIF data when sizing it.
const exifWindow = 256 << 10

// readSize reads the pixel size from the image header. Sides are swapped for
// EXIF orientations 5 to 8, which the renderer applies before anything else.
func readSize(fsys afero.Fs, p string) (Size, error) {
	r, err := fsys.Open(p)
	if err != nil {
		return Size{}, err
	}
	defer r.Close()

	head, err := io.ReadAll(io.LimitReader(r, exifWindow))
	if err != nil {
		return Size{}, fmt.Errorf("read %s: %w", p, err)
	}
	cfg, _, err := image.DecodeConfig(io.MultiReader(bytes.NewReader(head), r))
	if err != nil {
		return Size{}, fmt.Errorf("decode header of %s: %w", p, err)
	}
	if o := imgproc.Orientation(head); o >= 5 && o <= 8 {
		return Size{Width: cfg.Height, Height: cfg.Width}, nil
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// ImageSet is the group of copies of one page image found across the base
// dirs. Files[0] comes from the primary base dir and has the highest
// resolution; later copies come from lower-resolution base dirs.
type ImageSet struct {
	dirent
	files []*ImageFile

	resOnce    sync.Once
	resX, resY float64
}

func (is *ImageSet) Class() docpath.Class { return docpath.ClassImage }

// scaledListings lists the directory in the non-primary base dirs at most
// once per population. Names are sorted by docpath.Compare.
type scaledListings struct {
	c     *Cache
	rel   string
	names [][]string
	read  bool
}

func newScaledListings(c *Cache, rel string) *scaledListings {
	return &scaledListings{c: c, rel: rel}
}

func (sl *scaledListings) get() [][]string {
	if sl.read {
		return sl.names
	}
	sl.read = true
	sl.names = make([][]string, len(sl.c.baseDirs))
	for i := 1; i < len(sl.c.baseDirs); i++ {
		infos, err := afero.ReadDir(sl.c.fs, sl.c.realPath(i, sl.rel))
		if err != nil {
			continue
		}
		var names []string
		for _, fi := range infos {
			if !fi.IsDir() {
				names = append(names, fi.Name())
			}
		}
		docpath.SortNames(names)
		sl.names[i] = names
	}
	return sl.names
}

// newImageSet builds the set for the primary file at p, adding the copy
// from every other base dir whose listing holds a file of the same base name.
func newImageSet(base dirent, fsys afero.Fs, p string, scaled *scaledListings) *ImageSet {
	is := &ImageSet{dirent: base, files: []*ImageFile{newImageFile(fsys, p)}}
	c := scaled.c
	for i, names := range scaled.get() {
		if i == 0 || names == nil {
			continue
		}
		j := docpath.FindName(names, filepath.Base(p))
		if j < 0 || docpath.Classify(names[j]) != docpath.ClassImage {
			continue
		}
		is.files = append(is.files, newImageFile(fsys, filepath.Join(c.realPath(i, scaled.rel), names[j])))
	}
	return is
}

// Files returns the copies, highest resolution first.
func (is *ImageSet) Files() []*ImageFile { return is.files }

// Len returns the number of copies.
func (is *ImageSet) Len() int { return len(is.files) }

// Biggest returns the highest-resolution copy.
func (is *ImageSet) Biggest() *ImageFile { return is.files[0] }

// Smallest returns the lowest-resolution copy.
func (is *ImageSet) Smallest() *ImageFile { return is.files[len(is.files)-1] }

// NextSmallerOrEqual scans from the highest resolution down and returns the
// first copy whose width and height both fit within target. Copies whose
// size cannot be read are skipped. It returns nil if none fits.
func (is *ImageSet) NextSmallerOrEqual(target Size) *ImageFile {
	for _, f := range is.files {
		sz, err := f.Size()
		if err != nil {
			continue
		}
		if sz.fitsWithin(target) {
			return f
		}
	}
	return nil
}

// NextLargerOrEqual scans from the lowest resolution up and returns the first
// copy whose width or height reaches target. Copies whose size cannot be
// read are skipped. It returns nil if none is large enough.
func (is *ImageSet) NextLargerOrEqual(target Size) *ImageFile {
	for i := len(is.files) - 1; i >= 0; i-- {
		f := is.files[i]
		sz, err := f.Size()
		if err != nil {
			continue
		}
		if sz.reaches(target) {
			return f
		}
	}
	return nil
}

// Aspect returns width/height of the first copy whose size can be read, or 0.
func (is *ImageSet) Aspect() float64 {
	for _, f := range is.files {
		if sz, err := f.Size(); err == nil && sz.Height > 0 {
			return float64(sz.Width) / float64(sz.Height)
		}
	}
	return 0
}

// Resolution returns the physical resolution of the original in dots per
// inch, derived once from the effective metadata. Zero means unknown.
func (is *ImageSet) Resolution() (x, y float64) {
	is.resOnce.Do(func() {
		is.resX, is.resY = resolution(EffectiveMeta(is))
	})
	return is.resX, is.resY
}

// resolution applies the first satisfied rule: a single dpi value, separate
// x and y dpi values, or physical size plus pixel counts.
func resolution(m meta.Metadata) (x, y float64) {
	if dpi, ok := m.Float("original-dpi"); ok && dpi != 0 {
		return dpi, dpi
	}
	dx, okx := m.Float("original-dpi-x")
	dy, oky := m.Float("original-dpi-y")
	if okx && oky && dx != 0 && dy != 0 {
		return dx, dy
	}
	sx, ok1 := m.Float("original-size-x")
	sy, ok2 := m.Float("original-size-y")
	px, ok3 := m.Float("original-pixel-x")
	py, ok4 := m.Float("original-pixel-y")
	if ok1 && ok2 && ok3 && ok4 && sx != 0 && sy != 0 && px != 0 && py != 0 {
		return px / (sx * 100 / 2.54), py / (sy * 100 / 2.54)
	}
	return 0, 0
}
