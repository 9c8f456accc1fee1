package dircache

import (
	"github.com/pagescaler/pagescaler/docpath"
	"github.com/pagescaler/pagescaler/meta"
)

// Entry is one named item inside a cached directory. The set of
// implementations is closed: *Directory, *ImageSet, *FileEntry and
// *GenericEntry.
type Entry interface {
	// Name is the entry name, unique within its parent.
	Name() string
	// Class is the content class, docpath.ClassNone for directories and
	// unknown files.
	Class() docpath.Class
	// Parent is the directory holding the entry, nil for the root.
	Parent() *Directory
	// Meta is the entry's own metadata, nil when it has none.
	Meta() meta.Metadata

	isEntry()
}

// EffectiveMeta returns e's own metadata, or its parent directory's own
// metadata when e has none.
func EffectiveMeta(e Entry) meta.Metadata {
	if m := e.Meta(); len(m) > 0 {
		return m
	}
	if p := e.Parent(); p != nil {
		return p.Meta()
	}
	return nil
}

// dirent holds what every file entry has in common. It is set once during
// population and never changed after the snapshot holding it is published.
type dirent struct {
	name   string
	parent *Directory
	meta   meta.Metadata
}

func (d *dirent) Name() string        { return d.name }
func (d *dirent) Parent() *Directory  { return d.parent }
func (d *dirent) Meta() meta.Metadata { return d.meta }
func (d *dirent) isEntry()            {}

// FileEntry is a single text or vector file.
type FileEntry struct {
	dirent
	class docpath.Class
	// Path is the real filesystem path of the file.
	Path string
	// Mime is the MIME type derived from the file extension.
	Mime string
}

func (f *FileEntry) Class() docpath.Class { return f.class }

// GenericEntry is a file of no known content class.
type GenericEntry struct {
	dirent
	// Path is the real filesystem path of the file.
	Path string
}

func (g *GenericEntry) Class() docpath.Class { return docpath.ClassNone }
