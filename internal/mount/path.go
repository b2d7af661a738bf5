package mount

import (
	"fmt"
	"path"
	"strings"
)

// MaxComponentLen bounds a single path component; longer names are cut.
const MaxComponentLen = 255

// Split normalizes a sandboxed path into its components. "." and empty
// components are dropped and ".." pops the previous component. A path that
// climbs above the sandbox root is rejected.
func Split(p string) ([]string, error) {
	var out []string
	for _, c := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		c = strings.TrimSpace(c)
		switch c {
		case "", ".":
			continue
		case "..":
			if len(out) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrEscapesRoot, p)
			}
			out = out[:len(out)-1]
			continue
		}
		if len(c) > MaxComponentLen {
			c = c[:MaxComponentLen]
		}
		out = append(out, c)
	}
	return out, nil
}

// Clean returns the canonical form of p ("" for the root).
func Clean(p string) (string, error) {
	comps, err := Split(p)
	if err != nil {
		return "", err
	}
	return strings.Join(comps, "/"), nil
}

func join(comps []string) string {
	return path.Join(comps...)
}

func hasPrefix(comps, prefix []string) bool {
	if len(prefix) > len(comps) {
		return false
	}
	for i, c := range prefix {
		if comps[i] != c {
			return false
		}
	}
	return true
}
