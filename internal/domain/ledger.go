package domain

import "strings"

// SettledSet holds the correlation keys found in a third-party settlement ledger.
type SettledSet map[string]struct{}

// NewSettledSet builds a set from raw ledger values. Values are trimmed and
// empty values are dropped.
func NewSettledSet(values ...string) SettledSet {
	s := make(SettledSet, len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add records a ledger value.
func (s SettledSet) Add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	s[v] = struct{}{}
}

// Contains reports whether key was settled. An empty key never matches.
func (s SettledSet) Contains(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	_, ok := s[key]
	return ok
}
