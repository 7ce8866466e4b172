package session

import (
	"net/url"
	"strings"
)

// DefaultLoginMarkers are path segments identifying an authentication page.
var DefaultLoginMarkers = []string{"/login", "/signin", "/sign_in", "/auth"}

// LoginMatcher decides whether a location is an authentication surface.
type LoginMatcher struct {
	markers []string
}

// NewLoginMatcher builds a matcher; an empty marker list uses DefaultLoginMarkers.
func NewLoginMatcher(markers ...string) LoginMatcher {
	if len(markers) == 0 {
		markers = DefaultLoginMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return LoginMatcher{markers: lowered}
}

// IsLogin reports whether location points at a login page. Only the path is
// inspected so identifiers in query strings cannot cause false positives, and
// a marker must end on a segment boundary so /auth does not match /authors.
func (m LoginMatcher) IsLogin(location string) bool {
	if location == "" {
		return false
	}
	target := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		target = u.Path
	}
	target = strings.ToLower(target)
	markers := m.markers
	if markers == nil {
		markers = DefaultLoginMarkers
	}
	for _, marker := range markers {
		if containsSegment(target, marker) {
			return true
		}
	}
	return false
}

// containsSegment reports whether marker occurs in path followed by the end
// of the path or a separator.
func containsSegment(path, marker string) bool {
	for from := 0; from < len(path); {
		i := strings.Index(path[from:], marker)
		if i < 0 {
			return false
		}
		end := from + i + len(marker)
		if strings.HasSuffix(marker, "/") || end == len(path) || strings.IndexByte("/.;?#", path[end]) >= 0 {
			return true
		}
		from += i + 1
	}
	return false
}
