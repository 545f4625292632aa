package policyopa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"heirloom/internal/domain"
)

const majorityPolicy = `package heirloom.quorum

required := floor(input.eligible / 2) + 1

default outcome := "undecided"

outcome := "approved" {
	input.approvals >= required
}

outcome := "rejected" {
	input.approvals < required
	input.approvals + (input.eligible - input.approvals - input.rejections) < required
}

result := {"outcome": outcome, "required": required}
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quorum.rego")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	return path
}

func TestQuorumRuleMajority(t *testing.T) {
	rule, err := NewQuorumRuleFromPath(context.Background(), writePolicy(t, majorityPolicy))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	tests := []struct {
		name  string
		tally domain.Tally
		want  domain.QuorumOutcome
	}{
		{"undecided", domain.Tally{Eligible: 5, Approvals: 2}, domain.OutcomeUndecided},
		{"approved", domain.Tally{Eligible: 5, Approvals: 3}, domain.OutcomeApproved},
		{"unreachable", domain.Tally{Eligible: 4, Approvals: 1, Rejections: 2}, domain.OutcomeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rule.Evaluate(context.Background(), tt.tally)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got.Outcome != tt.want || got.Met != (tt.want != domain.OutcomeUndecided) {
				t.Fatalf("expected %s, got %+v", tt.want, got)
			}
			if got.Required != tt.tally.Eligible/2+1 {
				t.Fatalf("unexpected required %d", got.Required)
			}
		})
	}
	if rule.Name() == rule.PolicyHash() || len(rule.PolicyHash()) != 64 {
		t.Fatalf("unexpected rule identity %s / %s", rule.Name(), rule.PolicyHash())
	}
}

func TestQuorumRuleRejectsBadTally(t *testing.T) {
	rule, err := NewQuorumRuleFromPath(context.Background(), writePolicy(t, majorityPolicy))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	_, err = rule.Evaluate(context.Background(), domain.Tally{})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestQuorumRuleRejectsUnknownOutcome(t *testing.T) {
	policy := `package heirloom.quorum

result := {"outcome": "maybe", "required": 1}
`
	rule, err := NewQuorumRuleFromPath(context.Background(), writePolicy(t, policy))
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	_, err = rule.Evaluate(context.Background(), domain.Tally{Eligible: 3, Approvals: 1})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestQuorumRuleRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestQuorumRuleRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, `http.send({"method": "get", "url": "https://example.com"})`)
}

func TestQuorumRuleRejectsRand(t *testing.T) {
	rejectBuiltin(t, `rand.intn("seed", 10)`)
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	policy := `package heirloom.quorum

result := {"outcome": "undecided", "required": 1} {
	x := ` + expr + `
	x == x
}
`
	if _, err := NewQuorumRuleFromPath(context.Background(), writePolicy(t, policy)); err == nil {
		t.Fatalf("expected policy using %s to be rejected", expr)
	}
}
