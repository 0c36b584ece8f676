package qc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one deterministic check against an upload's filename or metadata.
type Rule struct {
	ID          string   `yaml:"id"`
	Category    string   `yaml:"category"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Severity    FlagType `yaml:"severity"`

	// FilenamePattern flags files whose name matches the pattern;
	// FilenameMustMatch flags files whose name does not.
	FilenamePattern   string `yaml:"filename_pattern,omitempty"`
	FilenameMustMatch string `yaml:"filename_must_match,omitempty"`
	// RequiredSuffix flags files that do not carry one of these extensions.
	RequiredSuffix []string `yaml:"required_suffix,omitempty"`
	// MetadataRequired flags uploads missing the given metadata key;
	// MetadataKey/MetadataEquals flag uploads whose metadata value matches.
	MetadataRequired string `yaml:"metadata_required,omitempty"`
	MetadataKey      string `yaml:"metadata_key,omitempty"`
	MetadataEquals   string `yaml:"metadata_equals,omitempty"`
}

// RuleSet is a named group of rules, loaded from YAML. The baseline set
// applies to every upload; client sets apply when the client name matches.
type RuleSet struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// RuleStore loads rule sets. Implementations must be safe for concurrent use.
type RuleStore interface {
	Baseline() (*RuleSet, error)
	ForClient(clientName string) (*RuleSet, error)
}

type fileRuleStore struct {
	dir string
}

// NewFileRuleStore serves rule sets from YAML files in dir: baseline.yaml
// plus one optional <client>.yaml per client.
func NewFileRuleStore(dir string) RuleStore {
	return &fileRuleStore{dir: dir}
}

func (s *fileRuleStore) Baseline() (*RuleSet, error) {
	return s.load("baseline")
}

func (s *fileRuleStore) ForClient(clientName string) (*RuleSet, error) {
	slug := clientSlug(clientName)
	if slug == "" || slug == "baseline" {
		return nil, nil
	}
	rs, err := s.load(slug)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return rs, nil
}

func (s *fileRuleStore) load(name string) (*RuleSet, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name+".yaml"))
	if err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set %q: %w", name, err)
	}
	if rs.Name == "" {
		rs.Name = name
	}
	return &rs, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func clientSlug(clientName string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(clientName)), "-"), "-")
}

// EvaluateRules runs every rule in the given sets against the upload's
// filename and metadata. Deterministic, no I/O.
func EvaluateRules(sets []*RuleSet, fileName string, metadata map[string]string) []Flag {
	flags := []Flag{}
	lowerName := strings.ToLower(fileName)
	n := 0
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, r := range set.Rules {
			if !ruleMatches(r, lowerName, metadata) {
				continue
			}
			sev := r.Severity
			if sev == "" {
				sev = FlagTypeWarning
			}
			n++
			flags = append(flags, Flag{
				ID:          NewFlagID(FlagSourceRule, n),
				Type:        sev,
				Category:    r.Category,
				Title:       r.Title,
				Description: r.Description,
				Source:      FlagSourceRule,
			})
		}
	}
	return flags
}

func ruleMatches(r Rule, lowerName string, metadata map[string]string) bool {
	if r.FilenamePattern != "" {
		re, err := regexp.Compile("(?i)" + r.FilenamePattern)
		if err != nil || !re.MatchString(lowerName) {
			return false
		}
		return true
	}
	if r.FilenameMustMatch != "" {
		re, err := regexp.Compile("(?i)" + r.FilenameMustMatch)
		if err != nil {
			return false
		}
		return !re.MatchString(lowerName)
	}
	if len(r.RequiredSuffix) > 0 {
		for _, suf := range r.RequiredSuffix {
			if strings.HasSuffix(lowerName, strings.ToLower(suf)) {
				return false
			}
		}
		return true
	}
	if r.MetadataRequired != "" {
		v, ok := metadata[r.MetadataRequired]
		return !ok || strings.TrimSpace(v) == ""
	}
	if r.MetadataKey != "" {
		v, ok := metadata[r.MetadataKey]
		if !ok {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(r.MetadataEquals))
	}
	return false
}

// StandardsChecked lists rule titles for the thought trace.
func StandardsChecked(sets []*RuleSet) []string {
	out := []string{}
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, r := range set.Rules {
			out = append(out, r.Title)
		}
	}
	return out
}
