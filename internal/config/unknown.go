package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid top-level keys in the config file. They mirror
// the toml tags of the embedded sub-config structs.
var knownKeys = map[string]bool{
	// Server
	"server_url": true, "session_file": true, "timezone": true,
	// Polling
	"poll_interval": true, "max_polls": true,
	// Cache
	"cache_enabled": true, "cache_file": true, "cache_ttl": true,
	// Watch
	"realtime": true, "metrics_addr": true,
	// Logging
	"log_level": true, "log_file": true, "log_format": true,
	// Network
	"connect_timeout": true, "data_timeout": true, "user_agent": true, "max_retries": true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted so ties resolve deterministically.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// IsKnownKey reports whether key is a recognised config key.
func IsKnownKey(key string) bool {
	return knownKeys[key]
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		// Every key is top-level; report the leaf of dotted keys.
		parts := strings.Split(key.String(), ".")
		leaf := parts[len(parts)-1]

		if seen[leaf] {
			continue
		}

		seen[leaf] = true
		errs = append(errs, unknownKeyError(leaf))
	}

	return errors.Join(errs...)
}

// unknownKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key when one is near enough.
func unknownKeyError(key string) error {
	if knownKeys[key] {
		return fmt.Errorf("config key %q must be at the top level, not inside a table", key)
	}

	if suggestion := closestMatch(key, knownKeysList); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", key, suggestion)
	}

	return fmt.Errorf("unknown config key %q", key)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
