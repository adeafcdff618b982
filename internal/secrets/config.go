// Package secrets redacts credentials from document text before it is sent
// to a model provider.
//
// Two detectors run in sequence: a set of regular-expression rules tuned for
// prose (key=value pairs, connection strings, provider token prefixes) and,
// optionally, the gitleaks default rule set.
package secrets

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/casesmith/internal/config"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Gitleaks enables the gitleaks detector in addition to Rules.
	Gitleaks bool `koanf:"gitleaks"`

	Rules           []Rule   `koanf:"rules"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule is one regular-expression detector.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`

	// Keywords gate the rule: when set, at least one must appear in the text.
	Keywords []string `koanf:"keywords"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables both detectors with the built-in rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Gitleaks:        true,
		Rules:           DefaultRules(),
		RedactionString: DefaultRedaction,
	}
}

// FromAppConfig maps the application's secrets section onto a Config.
func FromAppConfig(sc config.SecretsConfig) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = sc.Enabled
	cfg.Gitleaks = sc.Gitleaks
	return cfg
}

// Validate compiles rules and the allow list.
func (c *Config) Validate() error {
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedaction
	}
	if !c.Enabled {
		return nil
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil || rule.Pattern == "" {
			return fmt.Errorf("rule %s: invalid pattern %q: %v", rule.ID, rule.Pattern, err)
		}
		cr := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, cr)
	}

	c.compiledAllowList = c.compiledAllowList[:0]
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}
