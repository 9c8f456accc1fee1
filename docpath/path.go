// Package docpath implements the rules for logical document paths: canonical
// form, parent/name splitting, extension handling and content classes.
//
// Logical paths always use "/" as separator, independent of the host OS, and
// never start or end with one. The empty string denotes the root.
package docpath

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pagescaler/pagescaler/errs"
)

// Canonicalize returns the canonical form of a logical path: NFC normalized,
// without leading, trailing or repeated separators. Paths that contain a
// parent-directory segment are rejected with errs.ErrInvalidPath.
func Canonicalize(p string) (string, error) {
	if strings.Contains(p, "../") {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidPath, p)
	}
	segs := strings.Split(norm.NFC.String(p), "/")
	out := segs[:0]
	for _, s := range segs {
		switch s {
		case "":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", errs.ErrInvalidPath, p)
		}
		out = append(out, s)
	}
	return strings.Join(out, "/"), nil
}

// Parent returns everything before the last separator, or "" if there is none.
func Parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return ""
}

// Base returns everything after the last separator, or p itself.
func Base(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Join concatenates a logical directory and a name.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}
	return dir + "/" + name
}

// Segments splits a canonical path into its components. The root has none.
func Segments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// StripExt returns the name without its last extension. Names whose only dot
// is the leading one (".hidden") are returned unchanged.
func StripExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// Ext returns the lower-cased extension without the dot, or "".
func Ext(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}
