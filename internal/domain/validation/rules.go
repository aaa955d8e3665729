package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
)

// WarningNoExpectation is attached when a step has nothing to check against.
const WarningNoExpectation = "no expected outcome configured"

// ErrInvalidRule marks a rule that cannot be evaluated, such as a regex that
// does not compile. Callers treat it as the deterministic judge being
// unavailable rather than as a failed check.
var ErrInvalidRule = errors.New("invalid validation rule")

// RuleKind discriminates the Rule variants.
type RuleKind string

const (
	RuleContains      RuleKind = "contains"
	RuleNotContains   RuleKind = "not_contains"
	RuleRegex         RuleKind = "regex"
	RuleRegexNotMatch RuleKind = "regex_not_match"
)

// Rule is a response-content check. Contains rules match case-insensitively;
// regex patterns are used as written.
type Rule struct {
	Kind     RuleKind `json:"kind" yaml:"kind"`
	Patterns []string `json:"patterns" yaml:"patterns"`
}

// ExpectedOutcome is what a step expects from the assistant. Zero-valued
// fields are not checked.
type ExpectedOutcome struct {
	Classification string         `json:"classification,omitempty" yaml:"classification,omitempty"`
	MinConfidence  *float64       `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	Rules          []Rule         `json:"rules,omitempty" yaml:"rules,omitempty"`
	Entities       map[string]any `json:"entities,omitempty" yaml:"entities,omitempty"`
}

// Observation is the slice of an assistant response the rules look at.
type Observation struct {
	Classification string
	Confidence     float64
	Response       string
	Entities       map[string]any
}

// DeterministicResult is the rule judge's outcome.
type DeterministicResult struct {
	Passed               bool     `json:"passed"`
	Score                float64  `json:"score"`
	Errors               []string `json:"errors,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
	MissingConfiguration bool     `json:"missing_configuration,omitempty"`
}

// Validate checks that every rule is well formed.
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleContains, RuleNotContains:
	case RuleRegex, RuleRegexNotMatch:
		for _, p := range r.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("%w: %s pattern %q: %v", ErrInvalidRule, r.Kind, p, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("%w: %s rule has no patterns", ErrInvalidRule, r.Kind)
	}
	return nil
}

// Evaluate runs every configured check of exp against obs. A nil exp passes
// with WarningNoExpectation. The returned error is non-nil only when a rule
// cannot be evaluated.
func Evaluate(exp *ExpectedOutcome, obs Observation) (*DeterministicResult, error) {
	if exp == nil {
		return &DeterministicResult{
			Passed:               true,
			Score:                1.0,
			Warnings:             []string{WarningNoExpectation},
			MissingConfiguration: true,
		}, nil
	}

	res := &DeterministicResult{Passed: true, Score: 1.0}
	check := func(score float64, failure string) {
		res.Score = math.Min(res.Score, score)
		if failure != "" {
			res.Passed = false
			res.Errors = append(res.Errors, failure)
		}
	}

	if exp.Classification != "" {
		if obs.Classification == exp.Classification {
			check(1, "")
		} else {
			check(0, fmt.Sprintf("classification mismatch: expected %q, got %q", exp.Classification, obs.Classification))
		}
	}

	if exp.MinConfidence != nil {
		conf := clamp01(obs.Confidence)
		if conf >= *exp.MinConfidence {
			check(conf, "")
		} else {
			check(conf, fmt.Sprintf("confidence %.2f below minimum %.2f", obs.Confidence, *exp.MinConfidence))
		}
	}

	for _, rule := range exp.Rules {
		failure, err := evalRule(rule, obs.Response)
		if err != nil {
			return nil, err
		}
		if failure == "" {
			check(1, "")
		} else {
			check(0, failure)
		}
	}

	for _, key := range sortedKeys(exp.Entities) {
		want := exp.Entities[key]
		got, ok := obs.Entities[key]
		switch {
		case !ok:
			check(0, fmt.Sprintf("entity %q missing", key))
		case !entityEqual(want, got):
			check(0, fmt.Sprintf("entity %q mismatch: expected %v, got %v", key, want, got))
		default:
			check(1, "")
		}
	}

	if len(exp.Rules) == 0 && len(exp.Entities) == 0 && exp.Classification == "" && exp.MinConfidence == nil {
		res.Warnings = append(res.Warnings, "expected outcome has no checks")
	}
	return res, nil
}

// evalRule returns one failure message naming every offending pattern of
// rule, or "" when the response satisfies it.
func evalRule(rule Rule, response string) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}

	var offending []string
	lower := strings.ToLower(response)
	for _, p := range rule.Patterns {
		var bad bool
		switch rule.Kind {
		case RuleContains:
			bad = !strings.Contains(lower, strings.ToLower(p))
		case RuleNotContains:
			bad = strings.Contains(lower, strings.ToLower(p))
		case RuleRegex:
			bad = !regexp.MustCompile(p).MatchString(response)
		case RuleRegexNotMatch:
			bad = regexp.MustCompile(p).MatchString(response)
		}
		if bad {
			offending = append(offending, p)
		}
	}
	if len(offending) == 0 {
		return "", nil
	}

	switch rule.Kind {
	case RuleContains:
		return fmt.Sprintf("response missing required phrases %q", offending), nil
	case RuleNotContains:
		return fmt.Sprintf("response contains forbidden phrases %q", offending), nil
	case RuleRegex:
		return fmt.Sprintf("response does not match patterns %q", offending), nil
	default:
		return fmt.Sprintf("response matches forbidden patterns %q", offending), nil
	}
}

// entityEqual compares decoded JSON/YAML values, treating all numeric kinds
// as float64.
func entityEqual(want, got any) bool {
	wf, wok := toFloat(want)
	gf, gok := toFloat(got)
	if wok && gok {
		return wf == gf
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
