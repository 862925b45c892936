package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// ExpanderPolicy is the replaceable follow-up detection and synonym policy
// for the query expander. It is maintained alongside the corpus data, loaded
// once at startup and treated as read-only afterwards.
type ExpanderPolicy struct {
	// A query counts as an anaphoric follow-up when history is non-empty and
	// it is shorter than FollowupMaxRunes, or when it contains one of the
	// FollowupMarkers (pronouns and elliptical phrases).
	FollowupMaxRunes int      `yaml:"followup_max_runes"`
	FollowupMarkers  []string `yaml:"followup_markers"`

	// RewriteEnabled gates the LLM-assisted follow-up rewrite. When off, the
	// expander falls back to concatenating the previous turn.
	RewriteEnabled bool `yaml:"rewrite_enabled"`

	// Synonyms are merged over the corpus-provided table, colloquial term to
	// formal term.
	Synonyms map[string]string `yaml:"synonyms"`
}

func DefaultExpanderPolicy() ExpanderPolicy {
	return ExpanderPolicy{
		FollowupMaxRunes: 20,
		FollowupMarkers:  []string{"那", "它", "這個", "那個", "他", "她", "呢"},
		RewriteEnabled:   true,
		Synonyms:         map[string]string{},
	}
}

// LoadExpanderPolicy reads the policy file; a missing file yields defaults.
func LoadExpanderPolicy(path string) (ExpanderPolicy, error) {
	policy := DefaultExpanderPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy, nil
		}
		return policy, err
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return DefaultExpanderPolicy(), err
	}
	if policy.FollowupMaxRunes <= 0 {
		policy.FollowupMaxRunes = 20
	}
	if policy.Synonyms == nil {
		policy.Synonyms = map[string]string{}
	}
	return policy, nil
}
