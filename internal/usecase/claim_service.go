package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"

	"github.com/google/uuid"
)

type CreateClaimInput struct {
	VaultID  string
	Claimant string
	Reason   string
	Source   domain.ClaimSource
}

type EvidenceInput struct {
	Name     string
	MimeType string
	Content  io.Reader
}

type ClaimSweepReport struct {
	// Reconciled counts open claims with votes whose quorum was re-run.
	Reconciled int
	Scanned    int
	Resolved   int
	Expired    int
	Failed     int
}

type ClaimService struct {
	Store            Store
	Engine           *QuorumEngine
	Locker           SubjectLocker
	Evidence         EvidenceStore
	Release          ReleaseHandler
	Notifier         Notifier
	Audit            *AuditEmitter
	Clock            Clock
	Logger           logging.Logger
	Rule             domain.QuorumRule
	VotingWindow     time.Duration
	MaxEvidenceBytes int64
	EvidencePrefix   string
}

// NewClaimService wires the claim lifecycle and registers it with the engine for claim subjects.
func NewClaimService(store Store, engine *QuorumEngine, locker SubjectLocker, evidence EvidenceStore, clock Clock) *ClaimService {
	s := &ClaimService{
		Store:            store,
		Engine:           engine,
		Locker:           locker,
		Evidence:         evidence,
		Clock:            clock,
		Logger:           logging.Nop(),
		Rule:             domain.ClaimQuorumRule(),
		VotingWindow:     14 * 24 * time.Hour,
		MaxEvidenceBytes: 25 << 20,
		EvidencePrefix:   "claims/",
	}
	if engine != nil {
		engine.Register(domain.SubjectClaim, claimSubjects{s: s})
	}
	return s
}

// CreateClaim opens a claim on a vault in warning or critical. A vault holds at most one
// open claim.
func (s *ClaimService) CreateClaim(ctx context.Context, in CreateClaimInput) (domain.Claim, error) {
	in.Claimant = strings.TrimSpace(in.Claimant)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.VaultID == "" || in.Claimant == "" {
		return domain.Claim{}, fmt.Errorf("%w: vault id and claimant are required", domain.ErrValidation)
	}
	if in.Source == "" {
		in.Source = domain.ClaimSourceGuardian
	}
	switch in.Source {
	case domain.ClaimSourceOwner, domain.ClaimSourceGuardian, domain.ClaimSourceSignal:
	default:
		return domain.Claim{}, fmt.Errorf("%w: unknown claim source %q", domain.ErrValidation, in.Source)
	}

	unlock, err := lockSubject(ctx, s.Locker, vaultLockKey(in.VaultID))
	if err != nil {
		return domain.Claim{}, err
	}
	defer unlock()

	var out domain.Claim
	err = s.Store.WithTx(ctx, func(tx Store) error {
		vault, err := tx.LockVault(ctx, in.VaultID)
		if err != nil {
			return err
		}
		now := nowFrom(s.Clock)
		if status := domain.ComputeVaultStatus(vault, now); status != vault.Status {
			vault.Status = status
			vault.UpdatedAt = now
			if err := tx.UpdateVault(ctx, vault); err != nil {
				return err
			}
		}
		if !domain.ClaimableStatus(vault.Status) {
			return fmt.Errorf("%w: vault %s is %s; claims need warning or critical", domain.ErrPreconditionFailed, vault.ID, vault.Status)
		}
		if open, err := tx.FindOpenClaim(ctx, vault.ID); err == nil {
			return fmt.Errorf("%w: vault %s already has open claim %s", domain.ErrConflict, vault.ID, open.ID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		out, err = tx.CreateClaim(ctx, domain.Claim{
			VaultID:        vault.ID,
			Claimant:       in.Claimant,
			Reason:         in.Reason,
			Source:         in.Source,
			Status:         domain.ClaimPending,
			VotingDeadline: now.Add(s.votingWindow()),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		return s.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vault.ID,
			EventType: domain.AuditClaimCreated,
			TargetID:  out.ID,
			Payload: map[string]any{
				"claim_id":      out.ID,
				"source":        string(out.Source),
				"claimant_hash": domain.HashString(out.Claimant),
			},
		})
	})
	if err != nil {
		return domain.Claim{}, err
	}
	s.notifyVoters(ctx, out)
	return out, nil
}

// ProposeFromSignal turns an external inactivity signal into a claim. Signals can open a
// claim like any other claimant but never vote or resolve one.
func (s *ClaimService) ProposeFromSignal(ctx context.Context, sig domain.InactivitySignal) (domain.Claim, error) {
	source := strings.TrimSpace(sig.Source)
	if source == "" || sig.VaultID == "" {
		return domain.Claim{}, fmt.Errorf("%w: signal source and vault id are required", domain.ErrValidation)
	}
	reason := "external inactivity signal"
	if sig.Reference != "" {
		reason += " " + sig.Reference
	}
	if !sig.ObservedAt.IsZero() {
		reason += " observed " + sig.ObservedAt.UTC().Format(time.RFC3339)
	}
	return s.CreateClaim(ctx, CreateClaimInput{
		VaultID:  sig.VaultID,
		Claimant: "signal:" + source,
		Reason:   reason,
		Source:   domain.ClaimSourceSignal,
	})
}

// AttachEvidence stores a file against an open claim. It never changes claim state.
func (s *ClaimService) AttachEvidence(ctx context.Context, claimID string, in EvidenceInput) (domain.ClaimFile, error) {
	name := path.Base(strings.TrimSpace(in.Name))
	if name == "" || name == "." || name == "/" {
		return domain.ClaimFile{}, fmt.Errorf("%w: file name is required", domain.ErrValidation)
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if in.Content == nil {
		return domain.ClaimFile{}, fmt.Errorf("%w: file content is required", domain.ErrValidation)
	}
	if s.Evidence == nil {
		return domain.ClaimFile{}, errors.New("evidence store required")
	}
	claim, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return domain.ClaimFile{}, err
	}
	if !claim.Status.Open() {
		return domain.ClaimFile{}, fmt.Errorf("%w: claim %s is %s", domain.ErrPreconditionFailed, claimID, claim.Status)
	}

	limit := s.MaxEvidenceBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	content, err := io.ReadAll(io.LimitReader(in.Content, limit+1))
	if err != nil {
		return domain.ClaimFile{}, err
	}
	if int64(len(content)) > limit {
		return domain.ClaimFile{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrValidation, limit)
	}
	sum := sha256.Sum256(content)
	fileID := uuid.NewString()
	key := s.EvidencePrefix + claimID + "/" + fileID
	if err := s.Evidence.Put(ctx, key, mimeType, bytes.NewReader(content), int64(len(content))); err != nil {
		return domain.ClaimFile{}, fmt.Errorf("store evidence: %w", err)
	}

	var out domain.ClaimFile
	err = s.Store.WithTx(ctx, func(tx Store) error {
		var err error
		out, err = tx.AddClaimFile(ctx, domain.ClaimFile{
			ID:         fileID,
			ClaimID:    claimID,
			Name:       name,
			MimeType:   mimeType,
			SizeBytes:  int64(len(content)),
			SHA256:     hex.EncodeToString(sum[:]),
			StorageKey: key,
			CreatedAt:  nowFrom(s.Clock),
		})
		if err != nil {
			return err
		}
		return s.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  claim.VaultID,
			EventType: domain.AuditClaimEvidence,
			TargetID:  claimID,
			Payload:   map[string]any{"file_id": out.ID, "sha256": out.SHA256},
		})
	})
	if err != nil {
		return domain.ClaimFile{}, err
	}
	return out, nil
}

// RecordAttestation casts a guardian or attestor vote on a claim.
func (s *ClaimService) RecordAttestation(ctx context.Context, claimID, partyID string, decision domain.Decision, signature string) (DecisionResult, error) {
	if s.Engine == nil {
		return DecisionResult{}, errors.New("quorum engine required")
	}
	res, err := s.Engine.RecordDecision(ctx, DecisionInput{
		Kind:      domain.SubjectClaim,
		SubjectID: claimID,
		PartyID:   partyID,
		Decision:  decision,
		Signature: signature,
	})
	if err != nil {
		return DecisionResult{}, err
	}
	if res.Fired && res.Quorum.Outcome == domain.OutcomeApproved {
		s.release(ctx, claimID)
	}
	return res, nil
}

func (s *ClaimService) EvaluateQuorum(ctx context.Context, claimID string) (domain.QuorumResult, error) {
	if s.Engine == nil {
		return domain.QuorumResult{}, errors.New("quorum engine required")
	}
	return s.Engine.EvaluateQuorum(ctx, domain.SubjectClaim, claimID)
}

func (s *ClaimService) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	return s.Store.GetClaim(ctx, claimID)
}

func (s *ClaimService) ListClaims(ctx context.Context, vaultID string) ([]domain.Claim, error) {
	if _, err := s.Store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	return s.Store.ListClaimsByVault(ctx, vaultID)
}

func (s *ClaimService) ListEvidence(ctx context.Context, claimID string) ([]domain.ClaimFile, error) {
	if _, err := s.Store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}
	return s.Store.ListClaimFiles(ctx, claimID)
}

func (s *ClaimService) ListAttestations(ctx context.Context, claimID string) ([]domain.Attestation, error) {
	if _, err := s.Store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}
	return s.Store.ListAttestations(ctx, domain.SubjectClaim, claimID)
}

// ExpireClaims first re-runs the quorum on every open claim that has votes, so a resolution
// that failed after its deciding vote is applied on the next sweep. It then closes open
// claims whose voting deadline passed.
func (s *ClaimService) ExpireClaims(ctx context.Context, limit int) (ClaimSweepReport, error) {
	var report ClaimSweepReport
	if limit <= 0 {
		limit = 500
	}
	if err := s.reconcileVoted(ctx, limit, &report); err != nil {
		return report, err
	}
	now := nowFrom(s.Clock)
	claims, err := s.Store.ListOpenClaimsDueBefore(ctx, now, limit)
	if err != nil {
		return report, err
	}
	for _, c := range claims {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		expired, resolved, err := s.expireOne(ctx, c.ID, now)
		switch {
		case err != nil:
			report.Failed++
			s.logger().Warn(ctx, "expire claim failed", "claim_id", c.ID, "err", err)
		case resolved:
			report.Resolved++
		case expired:
			report.Expired++
		}
	}
	return report, nil
}

func (s *ClaimService) reconcileVoted(ctx context.Context, batch int, report *ClaimSweepReport) error {
	if s.Engine == nil {
		return nil
	}
	after := ""
	for {
		ids, err := s.Store.ListOpenClaimIDs(ctx, after, batch)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			votes, err := s.Store.ListAttestations(ctx, domain.SubjectClaim, id)
			if err != nil {
				report.Failed++
				continue
			}
			if len(votes) == 0 {
				continue
			}
			report.Reconciled++
			result, fired, err := s.Engine.Reconcile(ctx, domain.SubjectClaim, id)
			switch {
			case err != nil && !errors.Is(err, domain.ErrInvariantViolation):
				report.Failed++
				s.logger().Warn(ctx, "reconcile claim failed", "claim_id", id, "err", err)
			case fired:
				report.Resolved++
				if result.Outcome == domain.OutcomeApproved {
					s.release(ctx, id)
				}
			}
		}
		if len(ids) < batch {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

func (s *ClaimService) expireOne(ctx context.Context, claimID string, now time.Time) (bool, bool, error) {
	if s.Engine != nil {
		result, fired, err := s.Engine.Reconcile(ctx, domain.SubjectClaim, claimID)
		if err != nil && !errors.Is(err, domain.ErrInvariantViolation) {
			return false, false, err
		}
		if fired {
			if result.Outcome == domain.OutcomeApproved {
				s.release(ctx, claimID)
			}
			return false, true, nil
		}
	}
	unlock, err := lockSubject(ctx, s.Locker, subjectLockKey(domain.SubjectClaim, claimID))
	if err != nil {
		return false, false, err
	}
	defer unlock()
	var expired bool
	err = s.Store.WithTx(ctx, func(tx Store) error {
		claim, err := tx.GetClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if _, err := tx.LockVault(ctx, claim.VaultID); err != nil {
			return err
		}
		claim, err = tx.LockClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if !claim.Status.Open() || now.Before(claim.VotingDeadline) {
			return nil
		}
		expired = true
		return closeClaim(ctx, tx, s.Audit, claim, domain.ClaimExpired, now, "voting_deadline_passed")
	})
	return expired, false, err
}

func (s *ClaimService) release(ctx context.Context, claimID string) {
	if s.Release == nil {
		return
	}
	claim, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		s.logger().Error(ctx, "load approved claim failed", "claim_id", claimID, "err", err)
		return
	}
	vault, err := s.Store.GetVault(ctx, claim.VaultID)
	if err != nil {
		s.logger().Error(ctx, "load triggered vault failed", "vault_id", claim.VaultID, "err", err)
		return
	}
	if err := s.Release.Release(ctx, vault, claim); err != nil {
		s.logger().Error(ctx, "vault release failed", "vault_id", vault.ID, "claim_id", claim.ID, "err", err)
	}
}

func (s *ClaimService) notifyVoters(ctx context.Context, claim domain.Claim) {
	if s.Notifier == nil {
		return
	}
	parties, err := s.Store.ListParties(ctx, claim.VaultID)
	if err != nil {
		s.logger().Warn(ctx, "list voters failed", "claim_id", claim.ID, "err", err)
		return
	}
	msg := fmt.Sprintf("A claim was opened on a vault you guard. Please review claim %s before %s.", claim.ID, claim.VotingDeadline.Format("2006-01-02"))
	for _, p := range parties {
		if !domain.CanVote(p) {
			continue
		}
		if err := s.Notifier.SendReminder(ctx, p.Base().Contact, msg); err != nil {
			s.logger().Warn(ctx, "notify voter failed", "claim_id", claim.ID, "party_id", p.Base().ID, "err", err)
		}
	}
}

func (s *ClaimService) votingWindow() time.Duration {
	if s.VotingWindow <= 0 {
		return 14 * 24 * time.Hour
	}
	return s.VotingWindow
}

func (s *ClaimService) rule() domain.QuorumRule {
	if s.Rule == nil {
		return domain.ClaimQuorumRule()
	}
	return s.Rule
}

func (s *ClaimService) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Nop()
	}
	return s.Logger
}

// claimSubjects adapts claims to the quorum engine.
type claimSubjects struct {
	s *ClaimService
}

func (h claimSubjects) LoadSubject(ctx context.Context, tx Store, claimID string) (domain.AttestationSubject, error) {
	claim, err := tx.GetClaim(ctx, claimID)
	if err != nil {
		return domain.AttestationSubject{}, err
	}
	// vault before claim, the same order check-in and cancel use
	if _, err := tx.LockVault(ctx, claim.VaultID); err != nil {
		return domain.AttestationSubject{}, err
	}
	claim, err = tx.LockClaim(ctx, claimID)
	if err != nil {
		return domain.AttestationSubject{}, err
	}
	parties, err := tx.ListParties(ctx, claim.VaultID)
	if err != nil {
		return domain.AttestationSubject{}, err
	}
	eligible := make(map[string]domain.PartyRole, len(parties))
	for _, p := range parties {
		if domain.CanVote(p) {
			eligible[p.Base().ID] = p.Role()
		}
	}
	return domain.AttestationSubject{
		Kind:     domain.SubjectClaim,
		ID:       claim.ID,
		VaultID:  claim.VaultID,
		Rule:     h.s.rule(),
		Eligible: eligible,
		Resolved: !claim.Status.Open(),
	}, nil
}

func (h claimSubjects) OnDecision(ctx context.Context, tx Store, subject domain.AttestationSubject, _ domain.Attestation) error {
	claim, err := tx.GetClaim(ctx, subject.ID)
	if err != nil {
		return err
	}
	if claim.Status != domain.ClaimPending {
		return nil
	}
	now := nowFrom(h.s.Clock)
	claim.Status = domain.ClaimUnderReview
	claim.ReviewStartedAt = &now
	claim.UpdatedAt = now
	return tx.UpdateClaim(ctx, claim)
}

func (h claimSubjects) Resolve(ctx context.Context, tx Store, subject domain.AttestationSubject, result domain.QuorumResult) error {
	claim, err := tx.GetClaim(ctx, subject.ID)
	if err != nil {
		return err
	}
	vault, err := tx.LockVault(ctx, claim.VaultID)
	if err != nil {
		return err
	}
	now := nowFrom(h.s.Clock)
	switch result.Outcome {
	case domain.OutcomeApproved:
		if err := closeClaim(ctx, tx, h.s.Audit, claim, domain.ClaimApproved, now, result.Rule); err != nil {
			return err
		}
		if vault.Status == domain.VaultCancelled {
			return fmt.Errorf("%w: vault %s was cancelled", domain.ErrPreconditionFailed, vault.ID)
		}
		prev := vault.Status
		vault.Status = domain.VaultTriggered
		vault.TriggeredAt = &now
		vault.UpdatedAt = now
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return err
		}
		return h.s.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vault.ID,
			EventType: domain.AuditVaultStatusChanged,
			TargetID:  vault.ID,
			Payload:   map[string]any{"from": string(prev), "to": string(domain.VaultTriggered), "claim_id": claim.ID},
		})
	case domain.OutcomeRejected:
		if err := closeClaim(ctx, tx, h.s.Audit, claim, domain.ClaimRejected, now, result.Rule); err != nil {
			return err
		}
		if next := domain.ComputeVaultStatus(vault, now); next != vault.Status {
			vault.Status = next
			vault.UpdatedAt = now
			return tx.UpdateVault(ctx, vault)
		}
		return nil
	default:
		return nil
	}
}

// closeClaim moves an open claim into a terminal status and records why.
func closeClaim(ctx context.Context, tx Store, audit *AuditEmitter, claim domain.Claim, status domain.ClaimStatus, now time.Time, reason string) error {
	if !claim.Status.Open() {
		return fmt.Errorf("%w: claim %s is already %s", domain.ErrPreconditionFailed, claim.ID, claim.Status)
	}
	claim.Status = status
	claim.ResolvedAt = &now
	claim.UpdatedAt = now
	if err := tx.UpdateClaim(ctx, claim); err != nil {
		return err
	}
	return audit.Emit(ctx, tx, domain.AuditEvent{
		StreamID:  claim.VaultID,
		EventType: domain.AuditClaimResolved,
		TargetID:  claim.ID,
		Payload:   map[string]any{"claim_id": claim.ID, "status": string(status), "reason": reason},
	})
}
