package docpath

import (
	"slices"
	"strings"

	"github.com/maruel/natural"
)

// Compare orders names naturally ("p2" before "p10"). Names that compare
// equal under natural ordering fall back to byte order, so the result is a
// total order usable for binary search.
func Compare(a, b string) int {
	switch {
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	}
	return strings.Compare(a, b)
}

// Find looks up target in s, which must be sorted by Compare on name(e).
// On an exact miss it probes the insertion point, then the element below,
// then the element above for an entry whose name matches target once both
// extensions are stripped. It returns the index or -1.
func Find[E any](s []E, name func(E) string, target string) int {
	i, found := slices.BinarySearchFunc(s, target, func(e E, t string) int {
		return Compare(name(e), t)
	})
	if found {
		return i
	}
	base := StripExt(target)
	for _, j := range [...]int{i, i - 1, i + 1} {
		if j >= 0 && j < len(s) && StripExt(name(s[j])) == base {
			return j
		}
	}
	return -1
}

// FindName is Find over a sorted slice of plain names.
func FindName(names []string, target string) int {
	return Find(names, func(s string) string { return s }, target)
}

// SortNames sorts names in place by Compare.
func SortNames(names []string) {
	slices.SortFunc(names, Compare)
}
