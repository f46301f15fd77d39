package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the resolved assessment configuration applied to one session.
type Policy struct {
	DurationSeconds          int     `yaml:"duration_seconds" json:"duration_seconds"`
	PassingThreshold         float64 `yaml:"passing_threshold" json:"passing_threshold"`
	QuestionTimeLimitSeconds int     `yaml:"question_time_limit_seconds" json:"question_time_limit_seconds"`
}

// ExperienceBand maps a range of years of experience to a passing threshold.
type ExperienceBand struct {
	MinYears         int     `yaml:"min_years"`
	MaxYears         int     `yaml:"max_years"`
	PassingThreshold float64 `yaml:"passing_threshold"`
}

// QuestionSetPolicy overrides the defaults for one question set. Zero
// values inherit the default.
type QuestionSetPolicy struct {
	DurationSeconds          int     `yaml:"duration_seconds"`
	PassingThreshold         float64 `yaml:"passing_threshold"`
	QuestionTimeLimitSeconds *int    `yaml:"question_time_limit_seconds"`
	AdjustByExperience       *bool   `yaml:"adjust_by_experience"`
}

// AssessmentPolicy is the read-only assessment configuration document.
type AssessmentPolicy struct {
	Defaults        Policy                       `yaml:"defaults"`
	ExperienceBands []ExperienceBand             `yaml:"experience_bands"`
	QuestionSets    map[string]QuestionSetPolicy `yaml:"question_sets"`
}

const defaultExperienceYears = 5

// DefaultAssessmentPolicy returns the built-in policy used when no file is present.
func DefaultAssessmentPolicy() *AssessmentPolicy {
	return &AssessmentPolicy{
		Defaults: Policy{
			DurationSeconds:  1800,
			PassingThreshold: 60,
		},
		ExperienceBands: []ExperienceBand{
			{MinYears: 0, MaxYears: 3, PassingThreshold: 60},
			{MinYears: 4, MaxYears: 6, PassingThreshold: 70},
			{MinYears: 7, MaxYears: 11, PassingThreshold: 75},
			{MinYears: 12, MaxYears: 50, PassingThreshold: 80},
		},
	}
}

// LoadAssessmentPolicy reads the YAML policy at path. A missing file yields
// the defaults; a malformed one is an error.
func LoadAssessmentPolicy(path string) (*AssessmentPolicy, error) {
	p := DefaultAssessmentPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParseAssessmentPolicy(data)
}

// ParseAssessmentPolicy decodes a YAML policy document on top of the defaults.
func ParseAssessmentPolicy(data []byte) (*AssessmentPolicy, error) {
	p := DefaultAssessmentPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}

	if p.Defaults.DurationSeconds <= 0 {
		return nil, fmt.Errorf("defaults.duration_seconds must be positive")
	}
	if p.Defaults.PassingThreshold < 0 || p.Defaults.PassingThreshold > 100 {
		return nil, fmt.Errorf("defaults.passing_threshold must be within 0..100")
	}
	for i, b := range p.ExperienceBands {
		if b.MinYears > b.MaxYears {
			return nil, fmt.Errorf("experience_bands[%d]: min_years exceeds max_years", i)
		}
	}

	return p, nil
}

// Resolve returns the effective policy for a question set. A non-empty
// experience string replaces the passing threshold with its band's value
// unless the question set disables experience adjustment.
func (p *AssessmentPolicy) Resolve(questionSetID, experience string) Policy {
	out := p.Defaults

	override, ok := p.QuestionSets[questionSetID]
	if ok {
		if override.DurationSeconds > 0 {
			out.DurationSeconds = override.DurationSeconds
		}
		if override.PassingThreshold > 0 {
			out.PassingThreshold = override.PassingThreshold
		}
		if override.QuestionTimeLimitSeconds != nil {
			out.QuestionTimeLimitSeconds = *override.QuestionTimeLimitSeconds
		}
	}

	adjust := !ok || override.AdjustByExperience == nil || *override.AdjustByExperience
	if adjust && strings.TrimSpace(experience) != "" && len(p.ExperienceBands) > 0 {
		out.PassingThreshold = p.thresholdForYears(ParseExperienceYears(experience))
	}

	return out
}

func (p *AssessmentPolicy) thresholdForYears(years int) float64 {
	for _, b := range p.ExperienceBands {
		if years >= b.MinYears && years <= b.MaxYears {
			return b.PassingThreshold
		}
	}
	// Past every band: the most senior band applies.
	return p.ExperienceBands[len(p.ExperienceBands)-1].PassingThreshold
}

// ParseExperienceYears turns strings like "5", "5 years", "5-7" or "12+"
// into whole years. Ranges resolve to their floored midpoint. Anything
// unparseable counts as 5 years.
func ParseExperienceYears(raw string) int {
	clean := strings.ToLower(raw)
	clean = strings.ReplaceAll(clean, "years", "")
	clean = strings.ReplaceAll(clean, "year", "")
	clean = strings.TrimSpace(clean)

	if strings.Contains(clean, "+") {
		n, err := strconv.Atoi(strings.TrimSpace(strings.ReplaceAll(clean, "+", "")))
		if err != nil {
			return defaultExperienceYears
		}
		return n
	}

	if lo, hi, found := strings.Cut(clean, "-"); found {
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil {
			return defaultExperienceYears
		}
		return (a + b) / 2
	}

	n, err := strconv.Atoi(clean)
	if err != nil {
		return defaultExperienceYears
	}
	return n
}
