// Package meta holds the key/value metadata attached to directory entries and
// the loader for metadata side-car files.
package meta

import (
	"maps"
	"strconv"
	"strings"
)

// Metadata is the key/value metadata of one directory entry.
type Metadata map[string]string

// Merge adds the keys of other that m does not have yet and returns the
// result. Existing keys are never overwritten, so merging the same data twice
// is a no-op. m is modified in place unless it is nil; other is never aliased.
func (m Metadata) Merge(other Metadata) Metadata {
	if len(other) == 0 {
		return m
	}
	if m == nil {
		return maps.Clone(other)
	}
	for k, v := range other {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m
}

// Float returns the value of key parsed as a float. Missing or malformed
// values report false.
func (m Metadata) Float(key string) (float64, bool) {
	s, ok := m[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FileMeta maps entry names, or slash-separated paths relative to the
// directory holding the metadata file, to their metadata. The empty key
// describes the directory itself.
type FileMeta map[string]Metadata

// Self is the key under which a directory's own metadata is stored.
const Self = ""
