package dircache

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ignoreRules holds patterns loaded from the ignore file in the primary base
// dir. Entries matching any pattern are left out of listings.
type ignoreRules struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	dirOnly bool // trailing / in source line
}

// loadIgnoreRules reads an ignore file. A missing or unreadable file ignores
// nothing.
func loadIgnoreRules(fsys afero.Fs, p string) *ignoreRules {
	r := &ignoreRules{}

	f, err := fsys.Open(p)
	if err != nil {
		return r
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ip := ignorePattern{pattern: line}
		if strings.HasSuffix(line, "/") {
			ip.pattern = strings.TrimSuffix(line, "/")
			ip.dirOnly = true
		}
		r.patterns = append(r.patterns, ip)
	}

	return r
}

// match reports whether name matches any pattern. dirOnly patterns match
// directories only.
func (r *ignoreRules) match(name string, isDir bool) bool {
	if r == nil {
		return false
	}
	for _, p := range r.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matched, _ := filepath.Match(p.pattern, name); matched {
			return true
		}
	}
	return false
}

// excluded reports whether a directory listing should skip name: hidden
// files, metadata files and names matching the ignore rules.
func (c *Cache) excluded(name string, isDir bool) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if !isDir && (name == c.metaFile || strings.HasSuffix(name, ".meta")) {
		return true
	}
	return c.ignore.match(name, isDir)
}
