package cdp

import "strings"

// SelectTarget picks one target from a directory listing.
//
// Page-type targets win over auxiliary ones (service workers, extensions):
// the first page whose URL contains keyword is returned, then the first target
// of any type whose URL contains it. An empty keyword matches every URL.
// Matching is case-sensitive.
func SelectTarget(targets []Target, keyword string) (Target, error) {
	matches := func(t Target) bool {
		return keyword == "" || strings.Contains(t.URL, keyword)
	}

	for _, t := range targets {
		if t.IsPage() && matches(t) {
			return t, nil
		}
	}
	for _, t := range targets {
		if matches(t) {
			return t, nil
		}
	}

	if keyword == "" {
		return Target{}, NewError(CodeNoTargetFound, "no targets listed", nil)
	}
	return Target{}, NewError(CodeNoTargetFound, "no target url contains "+keyword, nil)
}
