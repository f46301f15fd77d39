package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExperienceYears(t *testing.T) {
	cases := map[string]int{
		"5":         5,
		"5 years":   5,
		"1 year":    1,
		"5-7":       6,
		"7-11":      9,
		"12+":       12,
		"12+ years": 12,
		"lots":      5,
		"":          5,
		"3-x":       5,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseExperienceYears(in), "input %q", in)
	}
}

func TestResolve_Defaults(t *testing.T) {
	p := DefaultAssessmentPolicy()

	got := p.Resolve("qs-1", "")
	assert.Equal(t, 1800, got.DurationSeconds)
	assert.Equal(t, 60.0, got.PassingThreshold)
	assert.Equal(t, 0, got.QuestionTimeLimitSeconds)
}

func TestResolve_ExperienceBands(t *testing.T) {
	p := DefaultAssessmentPolicy()

	assert.Equal(t, 60.0, p.Resolve("qs", "2 years").PassingThreshold)
	assert.Equal(t, 70.0, p.Resolve("qs", "5-7").PassingThreshold)
	assert.Equal(t, 75.0, p.Resolve("qs", "10").PassingThreshold)
	assert.Equal(t, 80.0, p.Resolve("qs", "12+").PassingThreshold)
	assert.Equal(t, 80.0, p.Resolve("qs", "70").PassingThreshold)
}

func TestParseAssessmentPolicy_Overrides(t *testing.T) {
	doc := []byte(`
defaults:
  duration_seconds: 600
  passing_threshold: 50
  question_time_limit_seconds: 60
question_sets:
  qs-fixed:
    duration_seconds: 900
    passing_threshold: 90
    question_time_limit_seconds: 0
    adjust_by_experience: false
`)
	p, err := ParseAssessmentPolicy(doc)
	require.NoError(t, err)

	base := p.Resolve("other", "")
	assert.Equal(t, 600, base.DurationSeconds)
	assert.Equal(t, 50.0, base.PassingThreshold)
	assert.Equal(t, 60, base.QuestionTimeLimitSeconds)

	fixed := p.Resolve("qs-fixed", "12+")
	assert.Equal(t, 900, fixed.DurationSeconds)
	assert.Equal(t, 90.0, fixed.PassingThreshold)
	assert.Equal(t, 0, fixed.QuestionTimeLimitSeconds)

	// Bands survive when the document omits them.
	assert.Equal(t, 80.0, p.Resolve("other", "15").PassingThreshold)
}

func TestParseAssessmentPolicy_Invalid(t *testing.T) {
	_, err := ParseAssessmentPolicy([]byte("defaults:\n  duration_seconds: -1\n"))
	require.Error(t, err)

	_, err = ParseAssessmentPolicy([]byte("experience_bands:\n  - {min_years: 5, max_years: 1, passing_threshold: 10}\n"))
	require.Error(t, err)

	_, err = ParseAssessmentPolicy([]byte("defaults: [oops"))
	require.Error(t, err)
}

func TestLoadAssessmentPolicy_MissingFile(t *testing.T) {
	p, err := LoadAssessmentPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1800, p.Defaults.DurationSeconds)
}

func TestLoadAssessmentPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  duration_seconds: 120\n  passing_threshold: 40\n"), 0o600))

	p, err := LoadAssessmentPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 120, p.Defaults.DurationSeconds)
	assert.Equal(t, 40.0, p.Defaults.PassingThreshold)
}
