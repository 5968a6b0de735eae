package intent

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileRule lets an operator extend the compiled-in keyword list for an
// existing intent without recompiling — e.g. adding a clinic's local slang
// for "reschedule" to appointment_modify.
type fileRule struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

type fileRules struct {
	Rules []fileRule `yaml:"rules"`
}

// LoadRuleMatcherFromFile builds a RuleMatcher from the compiled-in table,
// appending any extra keywords found in the YAML file at path to their
// matching intent's rule. A missing file is not an error; it leaves the
// defaults untouched.
func LoadRuleMatcherFromFile(path string) (*RuleMatcher, error) {
	m := NewRuleMatcher()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}

	var parsed fileRules
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	for _, fr := range parsed.Rules {
		for i := range m.rules {
			if string(m.rules[i].Intent) == fr.Intent {
				m.rules[i].Keywords = append(m.rules[i].Keywords, fr.Keywords...)
			}
		}
	}

	return m, nil
}
