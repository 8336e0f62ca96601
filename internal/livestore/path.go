package livestore

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidPath is returned for empty paths or segments with reserved characters.
var ErrInvalidPath = errors.New("livestore: invalid path")

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func cleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", errors.Wrapf(ErrInvalidPath, "%q", p)
		}
		if strings.ContainsAny(seg, "#$[]\x00") {
			return "", errors.Wrapf(ErrInvalidPath, "%q", p)
		}
	}
	return p, nil
}

// subtreeBounds returns the key range holding every descendant of p.
// '0' sorts immediately after '/'.
func subtreeBounds(p string) ([]byte, []byte) {
	return []byte(p + "/"), []byte(p + "0")
}

func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// related reports whether a change at changed is visible from watched.
func related(watched, changed string) bool {
	if watched == changed {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/")
}
