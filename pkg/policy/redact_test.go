package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestScanner_RedactsEmailAndSSN(t *testing.T) {
	scanner, err := NewScanner(DefaultRedactConfig())
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	text := "contact support@example.com, ssn 123-45-6789 on file"
	report, err := scanner.Scan(context.Background(), text)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if !report.RedactionsApplied {
		t.Fatal("expected redactions to be applied")
	}
	if strings.Contains(report.Redacted, "support@example.com") {
		t.Fatalf("email survived redaction: %s", report.Redacted)
	}
	if !strings.Contains(report.Redacted, "[REDACTED:email]") {
		t.Fatalf("missing email placeholder: %s", report.Redacted)
	}
	if !strings.Contains(report.Redacted, "[REDACTED:ssn]") {
		t.Fatalf("missing ssn placeholder: %s", report.Redacted)
	}

	if len(report.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(report.Findings))
	}
	if report.Findings[0].Rule != "email" || report.Findings[0].Match != "support@example.com" {
		t.Fatalf("unexpected first finding: %#v", report.Findings[0])
	}
	if report.Findings[1].Rule != "ssn" {
		t.Fatalf("unexpected second finding: %#v", report.Findings[1])
	}
}

func TestScanner_DenyRuleBlocks(t *testing.T) {
	scanner, err := NewScanner(RedactConfig{
		Rules: []RedactRule{
			{Name: "ssn", Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`, Action: ActionDeny},
		},
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	text := "sensitive: 123-45-6789 data"
	report, err := scanner.Scan(context.Background(), text)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if !report.Blocked {
		t.Fatal("expected report.Blocked to be true")
	}
	if report.Redacted != text {
		t.Fatalf("deny rule must not rewrite text, got: %s", report.Redacted)
	}
	if len(report.Findings) != 1 || report.Findings[0].Action != ActionDeny {
		t.Fatalf("unexpected findings: %#v", report.Findings)
	}
}

func TestScanner_AllowRuleRecordsFindingOnly(t *testing.T) {
	scanner, err := NewScanner(RedactConfig{
		Rules: []RedactRule{
			{Name: "order-id", Pattern: `order-[0-9]+`, Action: ActionAllow},
		},
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	text := "shipping order-1234 tomorrow"
	report, err := scanner.Scan(context.Background(), text)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.RedactionsApplied || report.Blocked {
		t.Fatalf("allow rule must not alter outcome: %#v", report)
	}
	if report.Redacted != text {
		t.Fatalf("text changed: %s", report.Redacted)
	}
	if len(report.Findings) != 1 || report.Findings[0].Match != "order-1234" {
		t.Fatalf("unexpected findings: %#v", report.Findings)
	}
}

func TestScanner_FindingsSortedByPosition(t *testing.T) {
	// Rule order is reversed relative to match positions.
	scanner, err := NewScanner(RedactConfig{
		Rules: []RedactRule{
			{Name: "late", Pattern: `omega`, Action: ActionAllow},
			{Name: "early", Pattern: `alpha`, Action: ActionAllow},
		},
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	report, err := scanner.Scan(context.Background(), "alpha then omega")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(report.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(report.Findings))
	}
	if report.Findings[0].Rule != "early" || report.Findings[1].Rule != "late" {
		t.Fatalf("findings out of order: %#v", report.Findings)
	}
	if report.Findings[0].Start >= report.Findings[1].Start {
		t.Fatalf("expected ascending positions: %#v", report.Findings)
	}
}

func TestScanner_DefaultReplacement(t *testing.T) {
	scanner, err := NewScanner(RedactConfig{
		Rules: []RedactRule{
			{Name: "token", Pattern: `tok_[a-z0-9]+`, Action: ActionRedact},
		},
	})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	report, err := scanner.Scan(context.Background(), "key tok_abc123 leaked")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if !strings.Contains(report.Redacted, "[REDACTED:token]") {
		t.Fatalf("expected default placeholder, got: %s", report.Redacted)
	}
}

func TestScanner_NoRules(t *testing.T) {
	scanner, err := NewScanner(RedactConfig{})
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	report, err := scanner.Scan(context.Background(), "plain text")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Redacted != "plain text" || len(report.Findings) != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestScanner_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    RedactRule
		wantErr string
	}{
		{
			name:    "missing name",
			rule:    RedactRule{Pattern: `x`},
			wantErr: "rule name is required",
		},
		{
			name:    "missing pattern",
			rule:    RedactRule{Name: "empty"},
			wantErr: "pattern is required",
		},
		{
			name:    "invalid pattern",
			rule:    RedactRule{Name: "bad", Pattern: `(`},
			wantErr: "invalid pattern",
		},
		{
			name:    "unknown action",
			rule:    RedactRule{Name: "odd", Pattern: `x`, Action: Action("quarantine")},
			wantErr: "unsupported action",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScanner(RedactConfig{Rules: []RedactRule{tc.rule}})
			if err == nil {
				t.Fatal("expected config error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScanner_HonorsContextCancellation(t *testing.T) {
	scanner, err := NewScanner(DefaultRedactConfig())
	if err != nil {
		t.Fatalf("failed to create scanner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = scanner.Scan(ctx, "anything")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
