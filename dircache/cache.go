// Package dircache keeps a lazily populated, process-wide view of the
// document tree: directories with their sorted entries, per-class page
// indexes, metadata and multi-resolution image sets.
package dircache

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/pagescaler/pagescaler/docpath"
	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/meta"
	"github.com/pagescaler/pagescaler/metrics"
)

// DefaultMetaFile is the name of the per-directory metadata file.
const DefaultMetaFile = "index.meta"

// Config configures a Cache.
type Config struct {
	// Fs is the filesystem holding the base dirs. Defaults to the OS.
	Fs afero.Fs
	// BaseDirs lists the parallel base directories in priority order. The
	// first holds the full-resolution originals and defines the tree.
	BaseDirs []string
	// MetaFile is the per-directory metadata file name.
	MetaFile string
	// IgnoreFile names a file in the primary base dir with patterns of
	// entries to leave out of listings. Empty disables it.
	IgnoreFile string
	// Loader reads metadata files. Defaults to meta.YAMLLoader.
	Loader meta.Loader
	// RecheckInterval is the minimum time between staleness checks of one
	// directory during Resolve. Zero checks on every call.
	RecheckInterval time.Duration
	// Aliases maps logical alias paths onto logical target paths.
	Aliases map[string]string
}

// Cache maps canonical logical paths to directories. At most one Directory
// exists per path.
type Cache struct {
	fs       afero.Fs
	baseDirs []string
	metaFile string
	loader   meta.Loader
	ignore   *ignoreRules
	recheck  time.Duration
	aliases  []alias

	mu   sync.RWMutex
	dirs map[string]*Directory
	root *Directory

	group singleflight.Group
	gen   atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
	files  atomic.Int64
}

type alias struct {
	from, to string
}

// Stats is a diagnostic snapshot of cache counters. Hits, Misses and Files
// never decrease.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Files  int64 `json:"files"`
	Dirs   int   `json:"dirs"`
}

// New creates an empty cache. Nothing is read until the first lookup.
func New(cfg Config) (*Cache, error) {
	if len(cfg.BaseDirs) == 0 {
		return nil, errors.New("dircache: no base directories")
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.MetaFile == "" {
		cfg.MetaFile = DefaultMetaFile
	}
	if cfg.Loader == nil {
		cfg.Loader = meta.YAMLLoader{}
	}

	c := &Cache{
		fs:       cfg.Fs,
		baseDirs: slices.Clone(cfg.BaseDirs),
		metaFile: cfg.MetaFile,
		loader:   cfg.Loader,
		recheck:  cfg.RecheckInterval,
		dirs:     make(map[string]*Directory),
	}
	if cfg.IgnoreFile != "" {
		c.ignore = loadIgnoreRules(c.fs, filepath.Join(c.baseDirs[0], cfg.IgnoreFile))
	}

	for from, to := range cfg.Aliases {
		f, err := docpath.Canonicalize(from)
		if err != nil || f == "" {
			return nil, fmt.Errorf("dircache: bad alias %q: %w", from, errs.ErrInvalidPath)
		}
		t, err := docpath.Canonicalize(to)
		if err != nil {
			return nil, fmt.Errorf("dircache: bad alias target %q: %w", to, err)
		}
		c.aliases = append(c.aliases, alias{from: f, to: t})
	}
	// longest alias first
	slices.SortFunc(c.aliases, func(a, b alias) int { return len(b.from) - len(a.from) })

	c.root = c.node("", nil, "")
	logging.Sub("dircache").Info("cache ready", "basedirs", c.baseDirs, "aliases", len(c.aliases))
	return c, nil
}

// BaseDirs returns the configured base directories in priority order.
func (c *Cache) BaseDirs() []string { return slices.Clone(c.baseDirs) }

// Fs returns the filesystem the cache reads from.
func (c *Cache) Fs() afero.Fs { return c.fs }

// Root returns the root directory.
func (c *Cache) Root() *Directory { return c.root }

// node returns the directory for a canonical path, creating it if needed.
func (c *Cache) node(p string, parent *Directory, rel string) *Directory {
	c.mu.RLock()
	d, ok := c.dirs[p]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dirs[p]; ok {
		return d
	}
	d = &Directory{
		cache:  c,
		path:   p,
		rel:    rel,
		name:   docpath.Base(p),
		parent: parent,
	}
	c.dirs[p] = d
	return d
}

// lookup returns the cached directory for a canonical path, or nil.
func (c *Cache) lookup(p string) *Directory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirs[p]
}

// Dealias maps a canonical path that starts with a configured alias onto
// its target. Other paths are returned unchanged. Resolution and role rules
// both apply to the result.
func (c *Cache) Dealias(p string) string {
	for _, a := range c.aliases {
		if p == a.from {
			return a.to
		}
		if strings.HasPrefix(p, a.from+"/") {
			return docpath.Join(a.to, p[len(a.from)+1:])
		}
	}
	return p
}

// realPath maps a relative on-disk path onto base dir i.
func (c *Cache) realPath(i int, rel string) string {
	return filepath.Join(c.baseDirs[i], filepath.FromSlash(rel))
}

func (c *Cache) metaMtime(rel string) time.Time {
	fi, err := c.fs.Stat(filepath.Join(c.realPath(0, rel), c.metaFile))
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Resolve returns the directory for a logical path. Every directory on the
// way down from the root is created if missing and refreshed if stale. It
// fails with errs.ErrNotFound if the path does not name an existing
// directory.
func (c *Cache) Resolve(p string) (*Directory, error) {
	cp, err := docpath.Canonicalize(p)
	if err != nil {
		return nil, err
	}
	cp = c.Dealias(cp)

	if d := c.lookup(cp); d != nil && d.Populated() {
		c.hits.Add(1)
		metrics.RecordCacheLookup(true)
	} else {
		c.misses.Add(1)
		metrics.RecordCacheLookup(false)
	}

	d, err := c.walk(cp)
	c.publishSize()
	return d, err
}

func (c *Cache) walk(cp string) (*Directory, error) {
	d := c.root
	s := d.refresh(false)
	if !s.exists {
		logging.Sub("dircache").Warn("primary base dir missing", "dir", c.baseDirs[0])
		return nil, fmt.Errorf("%w: root", errs.ErrNotFound)
	}
	for _, seg := range docpath.Segments(cp) {
		child, ok := s.lookup(seg).(*Directory)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, cp)
		}
		d = child
		s = d.refresh(false)
		if !s.exists {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, cp)
		}
	}
	return d, nil
}

// GetFile returns the entry a request names. If p is a directory the
// 1-based page of the given class is returned; otherwise the last segment of
// p is looked up by name in its parent directory and must be of the given
// class unless class is docpath.ClassNone.
func (c *Cache) GetFile(p string, page int, class docpath.Class) (Entry, error) {
	cp, err := docpath.Canonicalize(p)
	if err != nil {
		return nil, err
	}

	if d, err := c.Resolve(cp); err == nil {
		e := d.GetIndex(page-1, class)
		if e == nil {
			return nil, fmt.Errorf("%w: %s page %d", errs.ErrNotFound, cp, page)
		}
		return e, nil
	}

	if cp == "" {
		return nil, fmt.Errorf("%w: root", errs.ErrNotFound)
	}
	d, err := c.Resolve(docpath.Parent(cp))
	if err != nil {
		return nil, err
	}
	e := d.Get(docpath.Base(cp))
	if e == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, cp)
	}
	if class != docpath.ClassNone && e.Class() != class {
		return nil, fmt.Errorf("%w: %s is not %s", errs.ErrNotFound, cp, class)
	}
	return e, nil
}

// GetDirectory returns the directory p names, or the directory holding the
// file p names.
func (c *Cache) GetDirectory(p string) (*Directory, error) {
	cp, err := docpath.Canonicalize(p)
	if err != nil {
		return nil, err
	}
	d, err := c.Resolve(cp)
	if err == nil || cp == "" {
		return d, err
	}
	d, err = c.Resolve(docpath.Parent(cp))
	if err != nil {
		return nil, err
	}
	if d.Get(docpath.Base(cp)) == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, cp)
	}
	return d, nil
}

// RefreshPath re-checks the directory at a slash separated path relative to
// the primary base dir if it is cached and populated. The path names a real
// directory, so aliases are not applied. Uncached directories are left
// alone. It reports whether a directory was checked.
func (c *Cache) RefreshPath(rel string) bool {
	d := c.lookup(norm.NFC.String(strings.Trim(rel, "/")))
	if d == nil || !d.Populated() {
		return false
	}
	d.Refresh()
	return true
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.dirs)
	c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Files:  c.files.Load(),
		Dirs:   n,
	}
}

func (c *Cache) publishSize() {
	st := c.Stats()
	metrics.SetCacheSize(int64(st.Dirs), st.Files)
}
