package utils

import (
	"fmt"
	"strings"
)

// PathSeparator separates components of a virtual path. Virtual paths are
// always '/'-separated regardless of the host platform.
const PathSeparator = "/"

// SplitPath splits a virtual path into its non-empty components. Leading and
// trailing separators and repeated separators are ignored, so "/a//b/" and
// "a/b" both yield ["a" "b"]. The root path ("/" or "") yields an empty slice.
func SplitPath(path string) []string {
	parts := strings.Split(path, PathSeparator)
	components := parts[:0]
	for _, p := range parts {
		if p != "" {
			components = append(components, p)
		}
	}
	return components
}

// JoinPath joins components into a canonical path key. The root is the empty
// string.
func JoinPath(components []string) string {
	return strings.Join(components, PathSeparator)
}

// CanonicalPath reduces a virtual path to its canonical key form: components
// joined by single separators, no leading or trailing separator.
func CanonicalPath(path string) string {
	return JoinPath(SplitPath(path))
}

// ParentPath returns the canonical parent of a virtual path and the final
// component. The parent of a single-component path is the root (""). Calling
// it on the root is a caller bug.
func ParentPath(path string) (parent, name string) {
	components := SplitPath(path)
	if len(components) == 0 {
		panic("utils: root path has no parent")
	}
	return JoinPath(components[:len(components)-1]), components[len(components)-1]
}

// ComparePaths orders two virtual paths by lexicographic comparison of their
// component sequences. A proper prefix sorts before its extensions, so
// ancestors always precede descendants. Returns -1, 0 or +1.
func ComparePaths(a, b string) int {
	ca, cb := SplitPath(a), SplitPath(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := strings.Compare(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	default:
		return 0
	}
}

// ValidateVirtualPath checks that a path is a well-formed absolute virtual
// path: it must begin with '/' and contain no "." or ".." components.
func ValidateVirtualPath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(path, PathSeparator) {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	for _, c := range SplitPath(path) {
		if c == "." || c == ".." {
			return fmt.Errorf("path contains relative component: %s", path)
		}
	}
	return nil
}
