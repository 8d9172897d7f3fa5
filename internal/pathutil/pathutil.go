package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Normalize canonicalizes a project path for exact-match comparison:
// cleaned, trailing slash stripped, and case-folded on case-insensitive
// filesystems. Symlinks are deliberately not resolved; both the lock
// writer and the hook event source record paths as the process saw them.
func Normalize(path string) string {
	if path == "" {
		return ""
	}
	p := filepath.Clean(ExpandTilde(path))
	if len(p) > 1 {
		p = strings.TrimRight(p, string(filepath.Separator))
	}
	if caseInsensitiveFS() {
		p = strings.ToLower(p)
	}
	return p
}

// Equal reports whether two paths refer to the same project under the
// exact-match policy. Ancestor/descendant relationships never match.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IsAbs reports whether the path is absolute after tilde expansion.
func IsAbs(path string) bool {
	return filepath.IsAbs(ExpandTilde(path))
}

// ExpandTilde expands ~ to the user's home directory with path
// traversal protection. Also fixes malformed paths that have ~ in the
// middle (e.g. "/some/path~/actual/path" from UI text input).
func ExpandTilde(path string) string {
	if idx := strings.Index(path, "~/"); idx > 0 {
		path = path[idx:]
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded := filepath.Clean(filepath.Join(home, path[2:]))
			// Reject traversal back out of the home directory.
			if strings.HasPrefix(expanded, home) {
				return expanded
			}
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}
