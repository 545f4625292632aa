// Package policyopa evaluates claim quorum with an operator-supplied Rego policy in place
// of the built-in percentage rule.
package policyopa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"heirloom/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.heirloom.quorum.result"

// QuorumRule implements domain.QuorumRule. The policy sees
// {"eligible", "approvals", "rejections"} and must produce
// {"outcome": "approved"|"rejected"|"undecided", "required": n}.
type QuorumRule struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

type policyResult struct {
	Outcome  string `json:"outcome"`
	Required int    `json:"required"`
}

func NewQuorumRuleFromPath(ctx context.Context, policyPath string) (*QuorumRule, error) {
	raw, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("read quorum policy: %w", err)
	}
	sum := sha256.Sum256(raw)

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module(policyPath, string(raw)),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile quorum policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &QuorumRule{query: prepared, policyHash: hex.EncodeToString(sum[:])}, nil
}

func (r *QuorumRule) Name() string {
	if r == nil {
		return "opa"
	}
	return "opa_" + r.policyHash[:12]
}

func (r *QuorumRule) PolicyHash() string {
	return r.policyHash
}

func (r *QuorumRule) Evaluate(ctx context.Context, t domain.Tally) (domain.QuorumResult, error) {
	if r == nil {
		return domain.QuorumResult{}, errors.New("quorum policy is nil")
	}
	if err := t.Validate(); err != nil {
		return domain.QuorumResult{}, err
	}
	results, err := r.query.Eval(ctx, rego.EvalInput(map[string]any{
		"eligible":   t.Eligible,
		"approvals":  t.Approvals,
		"rejections": t.Rejections,
	}))
	if err != nil {
		return domain.QuorumResult{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.QuorumResult{}, errors.New("empty quorum policy result")
	}
	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return domain.QuorumResult{}, err
	}
	var out policyResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return domain.QuorumResult{}, fmt.Errorf("decode quorum policy result: %w", err)
	}
	outcome := domain.QuorumOutcome(out.Outcome)
	switch outcome {
	case domain.OutcomeApproved, domain.OutcomeRejected, domain.OutcomeUndecided:
	default:
		return domain.QuorumResult{}, fmt.Errorf("%w: quorum policy returned outcome %q", domain.ErrInvariantViolation, out.Outcome)
	}
	if outcome == domain.OutcomeApproved && t.Approvals == 0 {
		return domain.QuorumResult{}, fmt.Errorf("%w: quorum policy approved without approvals", domain.ErrInvariantViolation)
	}
	return domain.QuorumResult{
		Met:      outcome != domain.OutcomeUndecided,
		Outcome:  outcome,
		Rule:     r.Name(),
		Required: out.Required,
		Tally:    t,
	}, nil
}
