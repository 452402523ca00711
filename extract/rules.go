package extract

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule kinds.
const (
	KindScriptSrc     = "script_src"
	KindLinkHref      = "link_href"
	KindMetaGenerator = "meta_generator"
)

// Rule maps a markup pattern to a technology name.
type Rule struct {
	Technology string `yaml:"technology"`
	Kind       string `yaml:"kind"`
	Pattern    string `yaml:"pattern"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

//go:embed rules.yaml
var defaultRulesYAML []byte

// DefaultRules returns the built-in technology fingerprints.
func DefaultRules() []Rule {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic("extract: embedded rules: " + err.Error())
	}
	return rules
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("extract: parse rules: %w", err)
	}
	for i, r := range f.Rules {
		if r.Technology == "" || r.Pattern == "" {
			return nil, fmt.Errorf("extract: rule %d: technology and pattern are required", i)
		}
		switch r.Kind {
		case KindScriptSrc, KindLinkHref, KindMetaGenerator:
		default:
			return nil, fmt.Errorf("extract: rule %d: unknown kind %q", i, r.Kind)
		}
	}
	return f.Rules, nil
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read rules: %w", err)
	}
	return ParseRules(data)
}
