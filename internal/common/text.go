package common

import "strings"

// NormalizeSubject is the canonical form of a cache or limiter subject:
// trimmed and lower-cased.
func NormalizeSubject(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ContainsAnyFold reports whether s contains any of subs, ignoring case.
func ContainsAnyFold(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
