package domain

import (
	"slices"
	"strings"
)

// StripEmail drops a trailing "<address>" annotation from a review display
// name such as "First Last <first.last@example.com>".
func StripEmail(display string) string {
	if i := strings.IndexByte(display, '<'); i >= 0 {
		display = display[:i]
	}
	return strings.TrimSpace(display)
}

// FirstName is the first whitespace-separated token of the display name.
func FirstName(display string) string {
	f := strings.Fields(StripEmail(display))
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// LastName is the last whitespace-separated token of the display name.
func LastName(display string) string {
	f := strings.Fields(StripEmail(display))
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

// SearchCandidates lists the profile search queries for a display name in
// the order they are tried: the full display name, the first name, the last
// name. Empty and repeated entries are dropped.
func SearchCandidates(display string) []string {
	raw := []string{strings.TrimSpace(display), FirstName(display), LastName(display)}
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
