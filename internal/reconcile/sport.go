package reconcile

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeSport folds a sport label for comparison. A cases.Caser is not
// safe for concurrent use, so one is built per call.
func normalizeSport(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)

	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}

		return r
	}, s)
}

// sportsOverlap reports whether an activity sport and a session type refer
// to the same discipline: equal after normalisation, or one contains the
// other ("run" vs "trail running"). Mixed-discipline labels such as
// "triathlon" can match loosely; the heuristic is kept as the backend
// pairs the same way.
func sportsOverlap(activitySport, sessionType string) bool {
	a := normalizeSport(activitySport)
	s := normalizeSport(sessionType)

	if a == "" || s == "" {
		return false
	}

	return a == s || strings.Contains(a, s) || strings.Contains(s, a)
}
