package dircache

import (
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/pagescaler/pagescaler/docpath"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/meta"
	"github.com/pagescaler/pagescaler/metrics"
)

// Directory is a cached directory. The handle is stable for the lifetime of
// the cache; its contents live in an immutable snapshot that population
// replaces wholesale.
type Directory struct {
	cache  *Cache
	path   string // canonical logical path
	rel    string // on-disk path relative to each base dir, slash separated
	name   string
	parent *Directory

	snap    atomic.Pointer[snapshot]
	checked atomic.Int64 // unix nanos of the last staleness check
}

// snapshot is one published view of a directory. Nothing in it is modified
// after it is stored.
type snapshot struct {
	exists    bool
	mtime     time.Time
	metaMtime time.Time
	gen       uint64
	// metaGen is the generation at which the metadata this snapshot hands
	// down to descendants last changed.
	metaGen uint64

	entries []Entry // sorted by docpath.Compare on Name
	index   [docpath.NumClasses][]int
	files   int

	meta       meta.Metadata
	childMeta  map[string]meta.Metadata // metadata of subdirectory entries
	unresolved meta.FileMeta            // metadata for descendants of subdirectories

	// ancestorGens holds the metaGen of every ancestor snapshot consulted
	// during population, parent first.
	ancestorGens []uint64
}

func (d *Directory) Name() string         { return d.name }
func (d *Directory) Class() docpath.Class { return docpath.ClassNone }
func (d *Directory) Parent() *Directory   { return d.parent }
func (d *Directory) isEntry()             {}

// Path returns the canonical logical path of the directory.
func (d *Directory) Path() string { return d.path }

// Meta returns the directory's own metadata. An unpopulated directory has none.
func (d *Directory) Meta() meta.Metadata {
	if s := d.snap.Load(); s != nil {
		return s.meta
	}
	return nil
}

// Populated reports whether the directory has been read at least once.
func (d *Directory) Populated() bool { return d.snap.Load() != nil }

// Exists reports whether the directory exists in the primary base dir.
func (d *Directory) Exists() bool { return d.load().exists }

// Mtime returns the modification time recorded at the last population.
func (d *Directory) Mtime() time.Time { return d.load().mtime }

// EnsurePopulated reads the directory if it has not been read yet.
func (d *Directory) EnsurePopulated() { d.load() }

// Refresh populates the directory if needed, or re-checks staleness and
// repopulates when the directory or its metadata changed on disk.
func (d *Directory) Refresh() { d.refresh(true) }

// Get returns the entry called name. On an exact miss it falls back to an
// entry whose name matches once extensions are stripped. It returns nil if
// nothing matches.
func (d *Directory) Get(name string) Entry {
	s := d.load()
	if i := docpath.Find(s.entries, Entry.Name, norm.NFC.String(name)); i >= 0 {
		return s.entries[i]
	}
	return nil
}

// GetIndex returns the entry at 0-based position i among the entries of the
// given class, or nil if i is out of range.
func (d *Directory) GetIndex(i int, class docpath.Class) Entry {
	s := d.load()
	if class < 0 || int(class) >= docpath.NumClasses {
		return nil
	}
	idx := s.index[class]
	if i < 0 || i >= len(idx) {
		return nil
	}
	return s.entries[idx[i]]
}

// Entries returns all entries in sorted order.
func (d *Directory) Entries() []Entry {
	return slices.Clone(d.load().entries)
}

// Size returns the number of entries.
func (d *Directory) Size() int { return len(d.load().entries) }

// SizeOf returns the number of entries of the given class.
func (d *Directory) SizeOf(class docpath.Class) int {
	if class < 0 || int(class) >= docpath.NumClasses {
		return 0
	}
	return len(d.load().index[class])
}

// lookup returns the exact entry called name without fallback.
func (s *snapshot) lookup(name string) Entry {
	i, found := slices.BinarySearchFunc(s.entries, name, func(e Entry, t string) int {
		return docpath.Compare(e.Name(), t)
	})
	if !found {
		return nil
	}
	return s.entries[i]
}

func (d *Directory) load() *snapshot {
	if s := d.snap.Load(); s != nil {
		return s
	}
	return d.repopulate()
}

func (d *Directory) refresh(force bool) *snapshot {
	s := d.snap.Load()
	if s == nil {
		return d.repopulate()
	}
	if !force && !d.checkDue() {
		return s
	}
	d.checked.Store(time.Now().UnixNano())
	if d.stale(s) {
		return d.repopulate()
	}
	return s
}

// checkDue reports whether the recheck interval has passed since the last
// staleness check. Of several concurrent callers only one wins.
func (d *Directory) checkDue() bool {
	interval := d.cache.recheck
	if interval <= 0 {
		return true
	}
	now := time.Now().UnixNano()
	last := d.checked.Load()
	if now-last < int64(interval) {
		return false
	}
	return d.checked.CompareAndSwap(last, now)
}

// repopulate builds and publishes a new snapshot. Concurrent calls for the
// same directory share one population.
func (d *Directory) repopulate() *snapshot {
	v, _, _ := d.cache.group.Do(d.path, func() (any, error) {
		prev := d.snap.Load()
		s := d.populate()
		s.metaGen = s.gen
		if prev != nil && sameInherited(prev, s) {
			s.metaGen = prev.metaGen
		}
		d.snap.Store(s)
		d.checked.Store(time.Now().UnixNano())
		return s, nil
	})
	return v.(*snapshot)
}

// stale reports whether s no longer matches the disk: the directory or its
// metadata file changed, the directory appeared or vanished, or an ancestor
// whose metadata s consumed has been repopulated since.
func (d *Directory) stale(s *snapshot) bool {
	c := d.cache
	fi, err := c.fs.Stat(c.realPath(0, d.rel))
	exists := err == nil && fi.IsDir()
	if exists != s.exists {
		return true
	}
	if !exists {
		return false
	}
	if fi.ModTime().After(s.mtime) {
		return true
	}
	if !c.metaMtime(d.rel).Equal(s.metaMtime) {
		return true
	}
	i := 0
	for a := d.parent; a != nil; a = a.parent {
		as := a.snap.Load()
		if as == nil || i >= len(s.ancestorGens) || as.metaGen != s.ancestorGens[i] {
			return true
		}
		i++
	}
	return false
}

// sameInherited reports whether a and b hand down the same metadata to
// descendants.
func sameInherited(a, b *snapshot) bool {
	eq := func(x, y meta.Metadata) bool { return maps.Equal(x, y) }
	return maps.Equal(a.meta, b.meta) &&
		maps.EqualFunc(a.childMeta, b.childMeta, eq) &&
		maps.EqualFunc(a.unresolved, b.unresolved, eq)
}

// ancestorView is an ancestor's snapshot plus the path of the populating
// directory relative to that ancestor.
type ancestorView struct {
	snap   *snapshot
	prefix string
}

// populate lists the directory and builds a complete snapshot. Ancestors are
// populated first so their unresolved metadata is available.
func (d *Directory) populate() *snapshot {
	c := d.cache
	l := logging.Sub("dircache")
	start := time.Now()

	s := &snapshot{gen: c.gen.Add(1)}

	var ancestors []ancestorView
	for a := d.parent; a != nil; a = a.parent {
		as := a.load()
		s.ancestorGens = append(s.ancestorGens, as.metaGen)
		prefix := d.path
		if a.path != "" {
			prefix = strings.TrimPrefix(d.path, a.path+"/")
		}
		ancestors = append(ancestors, ancestorView{snap: as, prefix: prefix})
	}

	realDir := c.realPath(0, d.rel)
	fi, err := c.fs.Stat(realDir)
	if err != nil || !fi.IsDir() {
		if logging.Enabled(slog.LevelDebug) {
			l.Debug("directory missing", "path", d.path, "real", realDir)
		}
		return s
	}
	s.exists = true
	s.mtime = fi.ModTime()

	infos, err := afero.ReadDir(c.fs, realDir)
	if err != nil {
		l.Warn("read directory failed", "path", d.path, "err", err)
		return s
	}

	onDisk := lo.SliceToMap(infos, func(fi os.FileInfo) (string, struct{}) {
		return fi.Name(), struct{}{}
	})
	infos = lo.Filter(infos, func(fi os.FileInfo, _ int) bool {
		return !c.excluded(fi.Name(), fi.IsDir())
	})

	// directory metadata file
	s.metaMtime = c.metaMtime(d.rel)
	own, err := c.loader.Load(c.fs, filepath.Join(realDir, c.metaFile))
	if err != nil {
		l.Warn("metadata unreadable", "path", d.path, "err", err)
		own = nil
	}

	s.meta = meta.Metadata(nil).Merge(own[meta.Self])
	if len(ancestors) > 0 {
		s.meta = s.meta.Merge(ancestors[0].snap.childMeta[d.name])
	}

	scaled := newScaledListings(c, d.rel)
	children := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		fsName := fi.Name()
		name := norm.NFC.String(fsName)

		m := meta.Metadata(nil)
		if _, ok := onDisk[fsName+".meta"]; ok && !fi.IsDir() {
			side, err := c.loader.Load(c.fs, filepath.Join(realDir, fsName+".meta"))
			if err != nil {
				l.Warn("side-car metadata unreadable", "path", docpath.Join(d.path, name), "err", err)
			}
			m = m.Merge(side[meta.Self]).Merge(side[name])
		}
		m = m.Merge(own[name])
		for _, a := range ancestors {
			m = m.Merge(a.snap.unresolved[a.prefix+"/"+name])
		}

		if fi.IsDir() {
			child := c.node(docpath.Join(d.path, name), d, docpath.Join(d.rel, fsName))
			if len(m) > 0 {
				if s.childMeta == nil {
					s.childMeta = make(map[string]meta.Metadata)
				}
				s.childMeta[name] = m
			}
			children = append(children, child)
			continue
		}

		base := dirent{name: name, parent: d, meta: m}
		filePath := filepath.Join(realDir, fsName)
		switch class := docpath.Classify(name); class {
		case docpath.ClassImage:
			children = append(children, newImageSet(base, c.fs, filePath, scaled))
		case docpath.ClassText, docpath.ClassVector:
			children = append(children, &FileEntry{
				dirent: base,
				class:  class,
				Path:   filePath,
				Mime:   docpath.MimeType(name),
			})
		default:
			children = append(children, &GenericEntry{dirent: base, Path: filePath})
		}
		s.files++
	}

	slices.SortFunc(children, func(a, b Entry) int {
		return docpath.Compare(a.Name(), b.Name())
	})
	// names that collapse to the same NFC form keep the first copy
	children = slices.CompactFunc(children, func(a, b Entry) bool {
		return a.Name() == b.Name()
	})
	s.entries = children
	for i, e := range s.entries {
		if class := e.Class(); class >= 0 {
			s.index[class] = append(s.index[class], i)
		}
	}

	for k, v := range own {
		if k == meta.Self || !strings.Contains(k, "/") {
			continue
		}
		if s.unresolved == nil {
			s.unresolved = make(meta.FileMeta)
		}
		s.unresolved[k] = v
	}

	c.files.Add(int64(s.files))
	metrics.RecordPopulate(time.Since(start))
	if logging.Enabled(slog.LevelDebug) {
		l.Debug("populated", "path", d.path, "entries", len(s.entries),
			"images", len(s.index[docpath.ClassImage]), "gen", s.gen,
			"elapsed", time.Since(start))
	}
	return s
}
