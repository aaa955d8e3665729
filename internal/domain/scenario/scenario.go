// Package scenario defines test scripts: ordered steps, their per-language
// utterance variants and what each step expects from the assistant.
package scenario

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// Script is one versioned scenario. Executions pin Version so the steps they
// run never change underneath them.
type Script struct {
	ID              string          `json:"id" yaml:"id,omitempty"`
	TenantID        string          `json:"tenant_id,omitempty" yaml:"-"`
	Name            string          `json:"name" yaml:"name"`
	Version         int             `json:"version" yaml:"version,omitempty"`
	PrimaryLanguage string          `json:"primary_language,omitempty" yaml:"primary_language,omitempty"`
	ValidationMode  validation.Mode `json:"validation_mode,omitempty" yaml:"validation_mode,omitempty"`
	Steps           []Step          `json:"steps" yaml:"steps"`
	CreatedAt       time.Time       `json:"created_at" yaml:"-"`
}

// Step is a single turn of a script.
type Step struct {
	Position        int                         `json:"position" yaml:"position"`
	Utterance       string                      `json:"utterance" yaml:"utterance"`
	Language        string                      `json:"language,omitempty" yaml:"language,omitempty"`
	Variants        map[string]string           `json:"variants,omitempty" yaml:"variants,omitempty"`
	PrimaryLanguage string                      `json:"primary_language,omitempty" yaml:"primary_language,omitempty"`
	Expected        *validation.ExpectedOutcome `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Target is a resolved (language, utterance) pair to play for a step.
type Target struct {
	Language  string `json:"language"`
	Utterance string `json:"utterance"`
	Primary   bool   `json:"primary"`
}

// Validate checks the script is runnable.
func (s *Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if _, err := validation.ParseMode(string(s.ValidationMode)); err != nil {
		return err
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Position != i {
			return fmt.Errorf("step %d: position %d out of order", i, st.Position)
		}
		if st.Utterance == "" && len(st.Variants) == 0 {
			return fmt.Errorf("step %d: utterance is required", i)
		}
		for lang, u := range st.Variants {
			if u == "" {
				return fmt.Errorf("step %d: variant %s has no utterance", i, lang)
			}
		}
		if st.Expected != nil {
			for _, r := range st.Expected.Rules {
				if err := r.Validate(); err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}
			}
		}
	}
	return nil
}

// Normalize assigns step positions in slice order.
func (s *Script) Normalize() {
	for i := range s.Steps {
		s.Steps[i].Position = i
	}
}

// PrimaryFor resolves the primary language of step: step-level setting,
// else script-level, else fallback.
func (s *Script) PrimaryFor(step *Step, fallback string) string {
	switch {
	case step.PrimaryLanguage != "":
		return step.PrimaryLanguage
	case s.PrimaryLanguage != "":
		return s.PrimaryLanguage
	}
	return fallback
}

// Targets resolves the pairs to run for filter (empty = every variant).
// When no variant matches, the step's default language runs alone; a step
// without a default utterance falls back to the primary's variant, then to
// the first variant by language tag. The primary language runs first when present; otherwise the first
// target is promoted so that exactly one target carries state forward.
func (st *Step) Targets(filter []string, primary, defaultLanguage string) []Target {
	lang := st.Language
	if lang == "" {
		lang = defaultLanguage
	}

	all := make(map[string]string, len(st.Variants)+1)
	for l, u := range st.Variants {
		all[l] = u
	}
	if _, ok := all[lang]; !ok && st.Utterance != "" {
		all[lang] = st.Utterance
	}

	langs := make([]string, 0, len(all))
	for l := range all {
		if len(filter) == 0 || slices.Contains(filter, l) {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		return []Target{st.fallback(all, lang, primary)}
	}

	slices.SortFunc(langs, func(a, b string) int {
		switch {
		case a == primary:
			return -1
		case b == primary:
			return 1
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})

	targets := make([]Target, len(langs))
	for i, l := range langs {
		targets[i] = Target{Language: l, Utterance: all[l]}
	}
	targets[0].Primary = true
	return targets
}

func (st *Step) fallback(all map[string]string, lang, primary string) Target {
	if u, ok := all[lang]; ok {
		return Target{Language: lang, Utterance: u, Primary: true}
	}
	if u, ok := all[primary]; ok {
		return Target{Language: primary, Utterance: u, Primary: true}
	}
	first := slices.Sorted(maps.Keys(all))[0]
	return Target{Language: first, Utterance: all[first], Primary: true}
}
