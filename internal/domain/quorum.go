package domain

import (
	"context"
	"fmt"
	"time"
)

type SubjectKind string

const (
	SubjectClaim    SubjectKind = "claim"
	SubjectRecovery SubjectKind = "recovery"
)

type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Cast() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Attestation is one party's vote on a subject. There is at most one row per (kind, subject, party).
type Attestation struct {
	ID          string
	SubjectKind SubjectKind
	SubjectID   string
	PartyID     string
	Role        PartyRole
	Decision    Decision
	Signature   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type QuorumOutcome string

const (
	OutcomeApproved  QuorumOutcome = "approved"
	OutcomeRejected  QuorumOutcome = "rejected"
	OutcomeUndecided QuorumOutcome = "undecided"
)

type Tally struct {
	Eligible   int
	Approvals  int
	Rejections int
}

func (t Tally) Voted() int {
	return t.Approvals + t.Rejections
}

func (t Tally) Remaining() int {
	return t.Eligible - t.Voted()
}

// Validate rejects tallies no rule can decide: no voters, or more votes than voters.
func (t Tally) Validate() error {
	if t.Eligible <= 0 {
		return fmt.Errorf("%w: subject has no eligible voters", ErrInvariantViolation)
	}
	if t.Approvals < 0 || t.Rejections < 0 || t.Voted() > t.Eligible {
		return fmt.Errorf("%w: tally %d+%d exceeds %d eligible", ErrInvariantViolation, t.Approvals, t.Rejections, t.Eligible)
	}
	return nil
}

type QuorumResult struct {
	Met      bool
	Outcome  QuorumOutcome
	Rule     string
	Required int
	Tally    Tally
}

func decided(rule string, required int, t Tally, outcome QuorumOutcome) QuorumResult {
	return QuorumResult{
		Met:      outcome != OutcomeUndecided,
		Outcome:  outcome,
		Rule:     rule,
		Required: required,
		Tally:    t,
	}
}

// QuorumRule decides a subject from its tally.
type QuorumRule interface {
	Name() string
	Evaluate(ctx context.Context, t Tally) (QuorumResult, error)
}

// ClaimApprovalPercent is the share of eligible voters that must approve a claim.
const ClaimApprovalPercent = 70

func ClaimQuorumRule() QuorumRule {
	return PercentRule{Percent: ClaimApprovalPercent}
}

func RecoveryQuorumRule() QuorumRule {
	return ThresholdRule{Threshold: RecoveryKeyThreshold, Total: RecoveryKeyCount}
}

// PercentRule approves once approvals reach ceil(Percent% of eligible). It rejects when the
// rejection rate among voters exceeds the complement and at least half the eligible voters
// have voted, or when approval can no longer be reached.
type PercentRule struct {
	Percent int
}

func (r PercentRule) Name() string {
	return fmt.Sprintf("percent_%d", r.Percent)
}

// Required is ceil(Percent*eligible/100), kept in integers so no float rounding can
// move the boundary.
func (r PercentRule) Required(eligible int) int {
	return (r.Percent*eligible + 99) / 100
}

func (r PercentRule) Evaluate(_ context.Context, t Tally) (QuorumResult, error) {
	if r.Percent <= 0 || r.Percent > 100 {
		return QuorumResult{}, fmt.Errorf("%w: percent rule %d out of range", ErrInvariantViolation, r.Percent)
	}
	if err := t.Validate(); err != nil {
		return QuorumResult{}, err
	}
	name := r.Name()
	required := r.Required(t.Eligible)
	if t.Approvals >= required {
		return decided(name, required, t, OutcomeApproved), nil
	}
	voted := t.Voted()
	rejectLimit := 100 - r.Percent
	if voted > 0 && t.Rejections*100 > rejectLimit*voted && 2*voted >= t.Eligible {
		return decided(name, required, t, OutcomeRejected), nil
	}
	if t.Approvals+t.Remaining() < required {
		return decided(name, required, t, OutcomeRejected), nil
	}
	return decided(name, required, t, OutcomeUndecided), nil
}

// ThresholdRule is a fixed k-of-n rule.
type ThresholdRule struct {
	Threshold int
	Total     int
}

func (r ThresholdRule) Name() string {
	return fmt.Sprintf("threshold_%d_of_%d", r.Threshold, r.Total)
}

func (r ThresholdRule) Evaluate(_ context.Context, t Tally) (QuorumResult, error) {
	if err := t.Validate(); err != nil {
		return QuorumResult{}, err
	}
	if t.Eligible != r.Total {
		return QuorumResult{}, fmt.Errorf("%w: %s expects %d eligible, got %d", ErrInvariantViolation, r.Name(), r.Total, t.Eligible)
	}
	name := r.Name()
	switch {
	case t.Approvals >= r.Threshold:
		return decided(name, r.Threshold, t, OutcomeApproved), nil
	case t.Approvals+t.Remaining() < r.Threshold:
		return decided(name, r.Threshold, t, OutcomeRejected), nil
	default:
		return decided(name, r.Threshold, t, OutcomeUndecided), nil
	}
}

// AttestationSubject is anything parties vote on: a claim or a recovery.
type AttestationSubject struct {
	Kind     SubjectKind
	ID       string
	VaultID  string
	Rule     QuorumRule
	Eligible map[string]PartyRole
	Resolved bool
}

func (s AttestationSubject) RoleOf(partyID string) (PartyRole, bool) {
	role, ok := s.Eligible[partyID]
	return role, ok
}

// Tally counts cast decisions from currently eligible parties only.
func (s AttestationSubject) Tally(attestations []Attestation) Tally {
	t := Tally{Eligible: len(s.Eligible)}
	for _, a := range attestations {
		if _, ok := s.Eligible[a.PartyID]; !ok {
			continue
		}
		switch a.Decision {
		case DecisionApprove:
			t.Approvals++
		case DecisionReject:
			t.Rejections++
		}
	}
	return t
}
