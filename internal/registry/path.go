package registry

import (
	"fmt"
	"regexp"
	"strings"
)

var validSegment = regexp.MustCompile(`^[-_=A-Za-z0-9]+$`)

// KeyFor maps a hierarchical path such as /services/web to the KV key
// services.web. Segments may only hold characters that are legal in a KV key
// token.
func KeyFor(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	}
	trimmed := strings.TrimSuffix(path[1:], "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: root path cannot be addressed", ErrInvalidPath)
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if !validSegment.MatchString(seg) {
			return "", fmt.Errorf("%w: bad segment %q in %q", ErrInvalidPath, seg, path)
		}
	}
	return strings.Join(segments, "."), nil
}

// PathFor is the inverse of KeyFor
func PathFor(key string) string {
	return "/" + strings.ReplaceAll(key, ".", "/")
}

// Join appends child segments to a path
func Join(path string, children ...string) string {
	parts := append([]string{strings.TrimSuffix(path, "/")}, children...)
	return strings.Join(parts, "/")
}

// lastToken returns the final dot separated token of a key
func lastToken(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}
