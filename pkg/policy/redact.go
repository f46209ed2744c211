package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RedactRule declares one pattern-based content rule. The action decides
// what a match does: ActionAllow records a finding without altering the
// text, ActionRedact masks the match with Replacement, ActionDeny flags
// the whole text as blocked.
type RedactRule struct {
	Name        string
	Pattern     string
	Action      Action
	Replacement string
}

// RedactConfig bundles the rule set for a Scanner.
type RedactConfig struct {
	Rules []RedactRule
}

// DefaultRedactConfig returns a baseline rule set covering common PII
// classes.
func DefaultRedactConfig() RedactConfig {
	return RedactConfig{
		Rules: []RedactRule{
			{
				Name:        "email",
				Pattern:     `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
				Action:      ActionRedact,
				Replacement: "[REDACTED:email]",
			},
			{
				Name:        "ssn",
				Pattern:     `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
				Action:      ActionRedact,
				Replacement: "[REDACTED:ssn]",
			},
		},
	}
}

// Finding captures a single rule match.
type Finding struct {
	Rule   string
	Match  string
	Start  int
	End    int
	Action Action
}

// Report summarises the outcome of a scan.
type Report struct {
	Findings          []Finding
	Redacted          string
	RedactionsApplied bool
	Blocked           bool
}

// Scanner applies content rules to text values flowing between nodes.
type Scanner struct {
	rules []compiledRedactRule
}

type compiledRedactRule struct {
	name        string
	expr        *regexp.Regexp
	action      Action
	replacement string
}

// NewScanner compiles the configured rules.
func NewScanner(cfg RedactConfig) (*Scanner, error) {
	if len(cfg.Rules) == 0 {
		return &Scanner{}, nil
	}

	compiled := make([]compiledRedactRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("redact: rule name is required")
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("redact: pattern is required for rule %s", name)
		}
		action := rule.Action
		if action == "" {
			action = ActionRedact
		}
		switch action {
		case ActionAllow, ActionRedact, ActionDeny:
		default:
			return nil, fmt.Errorf("redact: unsupported action %q for rule %s", action, name)
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("redact: invalid pattern for rule %s: %w", name, err)
		}
		replacement := rule.Replacement
		if replacement == "" && action == ActionRedact {
			replacement = fmt.Sprintf("[REDACTED:%s]", name)
		}

		compiled = append(compiled, compiledRedactRule{
			name:        name,
			expr:        expr,
			action:      action,
			replacement: replacement,
		})
	}

	return &Scanner{rules: compiled}, nil
}

// Scan applies every rule to the supplied text. Findings report match
// positions against the original text; the redacted form accumulates
// replacements across rules.
func (s *Scanner) Scan(ctx context.Context, text string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	if len(s.rules) == 0 {
		return Report{Redacted: text}, nil
	}

	original := text
	redacted := text
	var findings []Finding
	blocked := false

	for _, rule := range s.rules {
		matches := rule.expr.FindAllStringIndex(original, -1)
		for _, match := range matches {
			findings = append(findings, Finding{
				Rule:   rule.name,
				Match:  original[match[0]:match[1]],
				Start:  match[0],
				End:    match[1],
				Action: rule.action,
			})
		}

		switch rule.action {
		case ActionRedact:
			redacted = rule.expr.ReplaceAllStringFunc(redacted, func(string) string {
				return rule.replacement
			})
		case ActionDeny:
			if len(matches) > 0 {
				blocked = true
			}
		case ActionAllow:
			// finding recorded, text untouched
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Start == findings[j].Start {
			return findings[i].End < findings[j].End
		}
		return findings[i].Start < findings[j].Start
	})

	return Report{
		Findings:          findings,
		Redacted:          redacted,
		RedactionsApplied: original != redacted,
		Blocked:           blocked,
	}, nil
}
