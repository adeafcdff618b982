package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding describes one redaction. The secret value itself is not kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Detector string `json:"detector"`
	Line     int    `json:"line"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Text     string
	Findings []Finding
}

// ByRule counts findings per rule id.
func (r Result) ByRule() map[string]int {
	out := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		out[f.RuleID]++
	}
	return out
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	config *Config

	mu       sync.Mutex
	detector *detect.Detector
}

// New compiles cfg and, when enabled, loads the gitleaks default rules.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("secrets config: %w", err)
	}
	s := &Scrubber{config: cfg}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Enabled reports whether Scrub changes anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.config.Enabled
}

type span struct {
	start, end int
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) Result {
	if !s.Enabled() || text == "" {
		return Result{Text: text}
	}

	var (
		findings []Finding
		spans    []span
	)
	for _, rule := range s.config.compiledRules {
		if !rule.applies(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				Detector: "regex",
				Line:     strings.Count(text[:m[0]], "\n") + 1,
			})
		}
	}
	text = s.redact(text, spans)

	if s.detector != nil {
		s.mu.Lock()
		leaks := s.detector.DetectString(text)
		s.mu.Unlock()

		for _, f := range leaks {
			secret := f.Secret
			if secret == "" {
				secret = f.Match
			}
			if secret == "" || s.allowed(secret) || !strings.Contains(text, secret) {
				continue
			}
			text = strings.ReplaceAll(text, secret, s.config.RedactionString)
			findings = append(findings, Finding{
				RuleID:   f.RuleID,
				Detector: "gitleaks",
				Line:     f.StartLine,
			})
		}
	}

	return Result{Text: text, Findings: findings}
}

func (r *compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// redact merges overlapping spans and replaces them back to front.
func (s *Scrubber) redact(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(text[prev:sp.start])
		b.WriteString(s.config.RedactionString)
		prev = sp.end
	}
	b.WriteString(text[prev:])
	return b.String()
}
