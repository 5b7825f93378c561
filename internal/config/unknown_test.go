package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_section = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_UnknownKey_Typo(t *testing.T) {
	path := writeTestConfig(t, "pol_interval = \"5s\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), `did you mean "poll_interval"`)
}

func TestLoad_KnownKeyInsideTable(t *testing.T) {
	path := writeTestConfig(t, "[network]\ndata_timeout = \"30s\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at the top level")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestIsKnownKey(t *testing.T) {
	assert.True(t, IsKnownKey("cache_ttl"))
	assert.False(t, IsKnownKey("cache"))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"realtim", "realtime", 1},
		{"max_pols", "max_polls", 1},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch_Found(t *testing.T) {
	assert.Equal(t, "cache_ttl", closestMatch("cache_tll", knownKeysList))
	assert.Equal(t, "log_file", closestMatch("log_fil", knownKeysList))
}

func TestClosestMatch_NotFound(t *testing.T) {
	assert.Equal(t, "", closestMatch("completely_unrelated", knownKeysList))
}
