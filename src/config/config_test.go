package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2H":  2 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for literal, want := range cases {
		got, err := ParseDuration(literal)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseDurationRejectsBadUnit(t *testing.T) {
	_, err := ParseDuration("5w")
	require.Error(t, err)
}

func TestParseDurationRejectsNonNumeric(t *testing.T) {
	_, err := ParseDuration("abcs")
	require.Error(t, err)
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte("updateDelayAfterFailure=2h\nbgUpdateCheckInterval=30s\nblacklistedGroupIds=com.evil, com.bad.actor\n")
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.UpdateDelayAfterFailure)
	assert.Equal(t, 30*time.Second, cfg.BGUpdateCheckInterval)
	assert.Equal(t, Default().UpdateDelayAfterSuccess, cfg.UpdateDelayAfterSuccess)
	assert.Equal(t, []string{"com.evil", "com.bad.actor"}, cfg.BlacklistedGroupIDs)
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	data := []byte("# a comment\n\n! also a comment\nbgUpdateCheckInterval=10s\n")
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.BGUpdateCheckInterval)
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse([]byte("not-a-valid-line"))
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mvnwatch.properties")
	require.NoError(t, os.WriteFile(path, []byte("updateDelayAfterSuccess=12h\n"), 0o644))

	cfg, err := Load("file:" + path)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.UpdateDelayAfterSuccess)
}

func TestLoadFromClasspath(t *testing.T) {
	cfg, err := Load("classpath:default.properties")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownScheme(t *testing.T) {
	_, err := Load("http://example.com/config")
	require.Error(t, err)
}
