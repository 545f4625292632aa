package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"heirloom/internal/domain"
	"heirloom/internal/logging"
)

// SubjectHandler binds one subject kind to the engine. All three calls run inside the
// engine's transaction and under the subject lock.
type SubjectHandler interface {
	// LoadSubject reads and row-locks the subject and reports who may vote on it.
	LoadSubject(ctx context.Context, tx Store, subjectID string) (domain.AttestationSubject, error)
	// OnDecision runs after an attestation was stored.
	OnDecision(ctx context.Context, tx Store, subject domain.AttestationSubject, att domain.Attestation) error
	// Resolve applies a decided outcome. It is called at most once per subject.
	Resolve(ctx context.Context, tx Store, subject domain.AttestationSubject, result domain.QuorumResult) error
}

type DecisionInput struct {
	Kind      domain.SubjectKind
	SubjectID string
	PartyID   string
	Decision  domain.Decision
	Signature string
}

type DecisionResult struct {
	Attestation domain.Attestation
	Quorum      domain.QuorumResult
	// Fired is true when this call performed the subject's resolution.
	Fired bool
	// ResolveErr is a failed resolution. The attestation is still recorded and a later
	// Reconcile retries the resolution.
	ResolveErr error
}

type QuorumEngine struct {
	Store    Store
	Locker   SubjectLocker
	Clock    Clock
	Logger   logging.Logger
	handlers map[domain.SubjectKind]SubjectHandler
}

func NewQuorumEngine(store Store, locker SubjectLocker, clock Clock) *QuorumEngine {
	return &QuorumEngine{
		Store:    store,
		Locker:   locker,
		Clock:    clock,
		Logger:   logging.Nop(),
		handlers: make(map[domain.SubjectKind]SubjectHandler),
	}
}

func (e *QuorumEngine) Register(kind domain.SubjectKind, handler SubjectHandler) {
	if e.handlers == nil {
		e.handlers = make(map[domain.SubjectKind]SubjectHandler)
	}
	e.handlers[kind] = handler
}

// RecordDecision upserts the party's vote, re-evaluates the quorum and resolves the subject
// the first time an outcome is reached.
func (e *QuorumEngine) RecordDecision(ctx context.Context, in DecisionInput) (DecisionResult, error) {
	if !in.Decision.Cast() {
		return DecisionResult{}, fmt.Errorf("%w: decision must be approve or reject", domain.ErrValidation)
	}
	if strings.TrimSpace(in.SubjectID) == "" || strings.TrimSpace(in.PartyID) == "" {
		return DecisionResult{}, fmt.Errorf("%w: subject and party are required", domain.ErrValidation)
	}
	handler, err := e.handler(in.Kind)
	if err != nil {
		return DecisionResult{}, err
	}

	unlock, err := lockSubject(ctx, e.Locker, subjectLockKey(in.Kind, in.SubjectID))
	if err != nil {
		return DecisionResult{}, err
	}
	defer unlock()

	var att domain.Attestation
	err = e.Store.WithTx(ctx, func(tx Store) error {
		subject, err := handler.LoadSubject(ctx, tx, in.SubjectID)
		if err != nil {
			return err
		}
		role, ok := subject.RoleOf(in.PartyID)
		if !ok {
			return fmt.Errorf("%w: party %s may not vote on %s %s", domain.ErrAuthorization, in.PartyID, in.Kind, in.SubjectID)
		}
		if subject.Resolved {
			prior, err := findAttestation(ctx, tx, in.Kind, in.SubjectID, in.PartyID)
			if err != nil {
				return err
			}
			if prior == nil || prior.Decision != in.Decision {
				return fmt.Errorf("%w: %s %s is already resolved", domain.ErrPreconditionFailed, in.Kind, in.SubjectID)
			}
		}
		now := nowFrom(e.Clock)
		att, err = tx.UpsertAttestation(ctx, domain.Attestation{
			SubjectKind: in.Kind,
			SubjectID:   in.SubjectID,
			PartyID:     in.PartyID,
			Role:        role,
			Decision:    in.Decision,
			Signature:   in.Signature,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		return handler.OnDecision(ctx, tx, subject, att)
	})
	if err != nil {
		return DecisionResult{}, err
	}

	result, fired, err := e.settle(ctx, in.Kind, in.SubjectID, handler)
	out := DecisionResult{Attestation: att, Quorum: result, Fired: fired}
	if err != nil {
		e.logger().Error(ctx, "quorum resolution failed", "kind", string(in.Kind), "subject_id", in.SubjectID, "err", err)
		out.ResolveErr = err
	}
	return out, nil
}

// EvaluateQuorum reports the current outcome without changing anything.
func (e *QuorumEngine) EvaluateQuorum(ctx context.Context, kind domain.SubjectKind, subjectID string) (domain.QuorumResult, error) {
	handler, err := e.handler(kind)
	if err != nil {
		return domain.QuorumResult{}, err
	}
	var result domain.QuorumResult
	err = e.Store.WithTx(ctx, func(tx Store) error {
		subject, err := handler.LoadSubject(ctx, tx, subjectID)
		if err != nil {
			return err
		}
		result, err = evaluate(ctx, tx, subject)
		return err
	})
	return result, err
}

// Reconcile re-runs evaluation and resolution without a new vote. Sweeps call it to retry
// resolutions that failed after the vote was stored.
func (e *QuorumEngine) Reconcile(ctx context.Context, kind domain.SubjectKind, subjectID string) (domain.QuorumResult, bool, error) {
	handler, err := e.handler(kind)
	if err != nil {
		return domain.QuorumResult{}, false, err
	}
	unlock, err := lockSubject(ctx, e.Locker, subjectLockKey(kind, subjectID))
	if err != nil {
		return domain.QuorumResult{}, false, err
	}
	defer unlock()
	return e.settle(ctx, kind, subjectID, handler)
}

// WithSubjectLock runs fn while holding the same lock votes take.
func (e *QuorumEngine) WithSubjectLock(ctx context.Context, kind domain.SubjectKind, subjectID string, fn func() error) error {
	unlock, err := lockSubject(ctx, e.Locker, subjectLockKey(kind, subjectID))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (e *QuorumEngine) settle(ctx context.Context, kind domain.SubjectKind, subjectID string, handler SubjectHandler) (domain.QuorumResult, bool, error) {
	var (
		result domain.QuorumResult
		fired  bool
	)
	err := e.Store.WithTx(ctx, func(tx Store) error {
		subject, err := handler.LoadSubject(ctx, tx, subjectID)
		if err != nil {
			return err
		}
		result, err = evaluate(ctx, tx, subject)
		if err != nil {
			return err
		}
		if !result.Met || subject.Resolved {
			return nil
		}
		if err := handler.Resolve(ctx, tx, subject, result); err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return result, false, err
	}
	if fired {
		e.logger().Info(ctx, "subject resolved", "kind", string(kind), "subject_id", subjectID, "outcome", string(result.Outcome), "rule", result.Rule)
	}
	return result, fired, nil
}

func evaluate(ctx context.Context, tx Store, subject domain.AttestationSubject) (domain.QuorumResult, error) {
	if subject.Rule == nil {
		return domain.QuorumResult{}, fmt.Errorf("%w: %s %s has no quorum rule", domain.ErrInvariantViolation, subject.Kind, subject.ID)
	}
	attestations, err := tx.ListAttestations(ctx, subject.Kind, subject.ID)
	if err != nil {
		return domain.QuorumResult{}, err
	}
	return subject.Rule.Evaluate(ctx, subject.Tally(attestations))
}

func findAttestation(ctx context.Context, tx Store, kind domain.SubjectKind, subjectID, partyID string) (*domain.Attestation, error) {
	attestations, err := tx.ListAttestations(ctx, kind, subjectID)
	if err != nil {
		return nil, err
	}
	for i := range attestations {
		if attestations[i].PartyID == partyID {
			return &attestations[i], nil
		}
	}
	return nil, nil
}

func (e *QuorumEngine) handler(kind domain.SubjectKind) (SubjectHandler, error) {
	if e == nil || e.Store == nil {
		return nil, errors.New("quorum engine store required")
	}
	handler, ok := e.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown subject kind %q", domain.ErrValidation, kind)
	}
	return handler, nil
}

func (e *QuorumEngine) logger() logging.Logger {
	if e.Logger == nil {
		return logging.Nop()
	}
	return e.Logger
}
