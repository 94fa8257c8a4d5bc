package extract

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Field names a rule may capture with a named group.
const (
	FieldName     = "name"
	FieldPosition = "position"
	FieldCompany  = "company"
	FieldTitle    = "title"
	FieldLocation = "location"
	FieldURL      = "url"
)

// Placeholders expand into the named capture groups above. Rules may also
// write raw named groups.
var placeholders = strings.NewReplacer(
	"{NAME}", `(?P<name>[A-Z][\p{L}'\-]+(?:[ ][A-Z][\p{L}'\-]+){1,3})`,
	"{POSITION}", `(?P<position>[^,.;:!?\n()|]{2,80}?)`,
	"{COMPANY}", `(?P<company>[A-Z][\w&'\-]*(?:[ ][A-Z][\w&.'\-]*){0,4})`,
	"{TITLE}", `(?P<title>[A-Z][^,;:!?\n()|]{2,99}?)`,
	"{LOCATION}", `(?P<location>[A-Z][\p{L} .,'\-]{1,79}?)`,
	"{END}", `(?:\s+(?i:at|for|in|effective|who|with|from|to|starting|and|after)\b|\s*[,.;:!?()|]|\s+[-–]\s+|$)`,
)

// Rule is one declarative extraction pattern. Earlier rules in a table win
// ties against later ones. Keywords are added to the pre-filter for the
// rule's type so text the rule can match is never screened out first.
type Rule struct {
	Name     string                `yaml:"name"`
	Type     signals.DetectionType `yaml:"type"`
	Pattern  string                `yaml:"pattern"`
	Weight   int                   `yaml:"weight"`
	Keywords []string              `yaml:"keywords,omitempty"`
	Sources  []signals.SourceTag   `yaml:"sources,omitempty"`
	Defaults map[string]string     `yaml:"defaults,omitempty"`
}

// RuleFile is the on-disk shape of a rule table.
type RuleFile struct {
	// Replace discards the built-in table instead of appending to it.
	Replace bool   `yaml:"replace"`
	Rules   []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	re     *regexp.Regexp
	groups map[string][]int
}

func (r compiledRule) appliesTo(source signals.SourceTag) bool {
	if len(r.Sources) == 0 {
		return true
	}
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// field returns the first non-empty capture for a field across every group
// carrying that name.
func (r compiledRule) field(line string, loc []int, name string) string {
	for _, idx := range r.groups[name] {
		start, end := loc[2*idx], loc[2*idx+1]
		if start >= 0 && end > start {
			return line[start:end]
		}
	}
	return r.Defaults[name]
}

// DefaultRules returns the built-in rule table.
func DefaultRules() ([]Rule, error) {
	file, err := parseRuleFile(defaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}
	return file.Rules, nil
}

// LoadRules reads a rule file and merges it with the built-in table.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	file, err := parseRuleFile(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if file.Replace {
		return file.Rules, nil
	}
	defaults, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return append(defaults, file.Rules...), nil
}

func parseRuleFile(data []byte) (RuleFile, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return RuleFile{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	for i, r := range file.Rules {
		if r.Name == "" {
			return RuleFile{}, fmt.Errorf("rule %d: name is required", i)
		}
		if r.Type != signals.DetectionJob && r.Type != signals.DetectionHire {
			return RuleFile{}, fmt.Errorf("rule %s: unknown type %q", r.Name, r.Type)
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return RuleFile{}, fmt.Errorf("rule %s: pattern is required", r.Name)
		}
	}
	return file, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(placeholders.Replace(r.Pattern))
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.Name, err)
		}
		groups := make(map[string][]int)
		for idx, name := range re.SubexpNames() {
			if name != "" {
				groups[name] = append(groups[name], idx)
			}
		}
		out = append(out, compiledRule{Rule: r, re: re, groups: groups})
	}
	return out, nil
}
