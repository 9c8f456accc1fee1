package docpath

import "strings"

// Class is the content class of a file, derived from its extension.
type Class int

const (
	ClassNone Class = iota - 1
	ClassImage
	ClassText
	ClassVector

	// NumClasses is the number of indexable classes (ClassNone excluded).
	NumClasses = 3
)

func (c Class) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassText:
		return "text"
	case ClassVector:
		return "vector"
	}
	return "none"
}

// ParseClass maps a class name back to a Class. Unknown names give ClassNone.
func ParseClass(s string) Class {
	switch strings.ToLower(s) {
	case "image":
		return ClassImage
	case "text":
		return ClassText
	case "vector", "svg":
		return ClassVector
	}
	return ClassNone
}

// fileTypes is the static extension to MIME type table.
var fileTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jp2":  "image/jp2",
	"png":  "image/png",
	"gif":  "image/gif",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"xml":  "text/xml",
	"svg":  "image/svg+xml",
}

// MimeType returns the MIME type for a filename, or "" if the extension is unknown.
func MimeType(name string) string {
	return fileTypes[Ext(name)]
}

// ClassForMime maps a MIME type to its content class.
func ClassForMime(mt string) Class {
	switch {
	case mt == "":
		return ClassNone
	case strings.HasPrefix(mt, "image/svg"):
		return ClassVector
	case strings.HasPrefix(mt, "image/"):
		return ClassImage
	case strings.HasPrefix(mt, "text/"):
		return ClassText
	}
	return ClassNone
}

// Classify returns the content class of a filename.
func Classify(name string) Class {
	return ClassForMime(MimeType(name))
}
