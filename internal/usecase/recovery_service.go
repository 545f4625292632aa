package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"

	"github.com/google/uuid"
)

type CreateRecoveryInput struct {
	UserID          string
	WalletAddress   string
	Holders         []string
	EncryptedSecret []byte
	CorrelationID   string
}

type RecoveryService struct {
	Store     Store
	Engine    *QuorumEngine
	Locker    SubjectLocker
	Notifier  Notifier
	Audit     *AuditEmitter
	Clock     Clock
	Logger    logging.Logger
	InviteTTL time.Duration
	TimeLock  time.Duration
}

// NewRecoveryService registers the recovery subject kind with engine.
func NewRecoveryService(store Store, engine *QuorumEngine, locker SubjectLocker, clock Clock) *RecoveryService {
	s := &RecoveryService{
		Store:     store,
		Engine:    engine,
		Locker:    locker,
		Clock:     clock,
		Logger:    logging.Nop(),
		InviteTTL: 7 * 24 * time.Hour,
		TimeLock:  7 * 24 * time.Hour,
	}
	if engine != nil {
		engine.Register(domain.SubjectRecovery, recoverySubjects{s: s})
	}
	return s
}

func (s *RecoveryService) CreateRecovery(ctx context.Context, in CreateRecoveryInput) (domain.Recovery, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.WalletAddress = strings.TrimSpace(in.WalletAddress)
	if in.UserID == "" {
		return domain.Recovery{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if err := domain.ValidateWalletAddress(in.WalletAddress); err != nil {
		return domain.Recovery{}, err
	}
	if len(in.Holders) != domain.RecoveryKeyCount {
		return domain.Recovery{}, fmt.Errorf("%w: recovery needs exactly %d key holders, got %d", domain.ErrValidation, domain.RecoveryKeyCount, len(in.Holders))
	}
	seen := make(map[string]bool, len(in.Holders))
	for i, h := range in.Holders {
		h = strings.TrimSpace(h)
		if err := domain.ValidateContact(h); err != nil {
			return domain.Recovery{}, err
		}
		if seen[strings.ToLower(h)] {
			return domain.Recovery{}, fmt.Errorf("%w: key holder %q listed twice", domain.ErrValidation, h)
		}
		seen[strings.ToLower(h)] = true
		in.Holders[i] = h
	}
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}

	now := nowFrom(s.Clock)
	ttl := s.InviteTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	rec := domain.Recovery{
		UserID:          in.UserID,
		WalletAddress:   in.WalletAddress,
		EncryptedSecret: in.EncryptedSecret,
		Status:          domain.RecoveryActive,
		CorrelationID:   in.CorrelationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tokens := make([]string, 0, len(in.Holders))
	for _, h := range in.Holders {
		token, hash, err := newToken()
		if err != nil {
			return domain.Recovery{}, err
		}
		tokens = append(tokens, token)
		rec.Keys = append(rec.Keys, domain.RecoveryKey{
			HolderContact:   h,
			InviteTokenHash: hash,
			InviteExpiresAt: now.Add(ttl),
		})
	}

	var out domain.Recovery
	err := s.Store.WithTx(ctx, func(tx Store) error {
		var err error
		out, err = tx.CreateRecovery(ctx, rec)
		if err != nil {
			return err
		}
		return s.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  out.ID,
			EventType: domain.AuditRecoveryCreated,
			TargetID:  out.ID,
			Payload: map[string]any{
				"user_id_hash":   domain.HashString(out.UserID),
				"wallet_address": out.WalletAddress,
				"correlation_id": out.CorrelationID,
			},
		})
	})
	if err != nil {
		return domain.Recovery{}, err
	}
	for i := range out.Keys {
		out.Keys[i].InviteToken = tokens[i]
		if s.Notifier == nil {
			continue
		}
		if err := s.Notifier.SendInvite(ctx, out.Keys[i].HolderContact, tokens[i]); err != nil {
			s.logger().Warn(ctx, "send recovery invite failed", "recovery_id", out.ID, "key_id", out.Keys[i].ID, "err", err)
		}
	}
	return out, nil
}

// Attest records a key holder's approval. The holder proves itself with the invite token;
// attesting again refreshes the signature.
func (s *RecoveryService) Attest(ctx context.Context, recoveryID, keyToken, signature string) (domain.RecoveryKey, error) {
	keyToken = strings.TrimSpace(keyToken)
	if keyToken == "" {
		return domain.RecoveryKey{}, fmt.Errorf("%w: key token is required", domain.ErrValidation)
	}
	if strings.TrimSpace(signature) == "" {
		return domain.RecoveryKey{}, fmt.Errorf("%w: signature is required", domain.ErrValidation)
	}
	if s.Engine == nil {
		return domain.RecoveryKey{}, errors.New("quorum engine required")
	}
	rec, err := s.Store.GetRecovery(ctx, recoveryID)
	if err != nil {
		return domain.RecoveryKey{}, err
	}
	key, err := keyByToken(rec, keyToken)
	if err != nil {
		return domain.RecoveryKey{}, err
	}
	if !key.InviteExpiresAt.IsZero() && !nowFrom(s.Clock).Before(key.InviteExpiresAt) {
		return domain.RecoveryKey{}, fmt.Errorf("%w: recovery key token expired at %s", domain.ErrTokenExpired, key.InviteExpiresAt.Format(time.RFC3339))
	}

	res, err := s.Engine.RecordDecision(ctx, DecisionInput{
		Kind:      domain.SubjectRecovery,
		SubjectID: recoveryID,
		PartyID:   key.ID,
		Decision:  domain.DecisionApprove,
		Signature: signature,
	})
	if err != nil {
		return domain.RecoveryKey{}, err
	}
	if res.ResolveErr != nil {
		s.logger().Warn(ctx, "recovery trigger deferred", "recovery_id", recoveryID, "err", res.ResolveErr)
	}
	rec, err = s.Store.GetRecovery(ctx, recoveryID)
	if err != nil {
		return domain.RecoveryKey{}, err
	}
	for _, k := range rec.Keys {
		if k.ID == key.ID {
			return k, nil
		}
	}
	return domain.RecoveryKey{}, fmt.Errorf("%w: recovery key %s", domain.ErrNotFound, key.ID)
}

func (s *RecoveryService) CompleteRecovery(ctx context.Context, recoveryID string) (domain.Recovery, error) {
	return s.transition(ctx, recoveryID, func(rec *domain.Recovery, now time.Time) (domain.AuditEventType, error) {
		if rec.Status != domain.RecoveryTriggered {
			return "", fmt.Errorf("%w: recovery %s is %s", domain.ErrPreconditionFailed, rec.ID, rec.Status)
		}
		if !rec.TimeLockElapsed(now) {
			return "", fmt.Errorf("%w: recovery %s unlocks at %s", domain.ErrPreconditionFailed, rec.ID, rec.UnlocksAt.Format(time.RFC3339))
		}
		rec.Status = domain.RecoveryCompleted
		rec.CompletedAt = &now
		return domain.AuditRecoveryCompleted, nil
	})
}

var errRecoveryThresholdReached = fmt.Errorf("%w: recovery reached its attestation threshold", domain.ErrPreconditionFailed)

// CancelRecovery stops an active recovery. Once enough keys attested it is refused even if
// the trigger itself has not been applied yet; the trigger is then retried in place.
func (s *RecoveryService) CancelRecovery(ctx context.Context, recoveryID string) (domain.Recovery, error) {
	out, err := s.transition(ctx, recoveryID, func(rec *domain.Recovery, now time.Time) (domain.AuditEventType, error) {
		if rec.Status != domain.RecoveryActive {
			return "", fmt.Errorf("%w: recovery %s is %s", domain.ErrPreconditionFailed, rec.ID, rec.Status)
		}
		if n := attestedKeys(*rec); n >= domain.RecoveryKeyThreshold {
			return "", fmt.Errorf("%w: %d of %d keys of %s attested", errRecoveryThresholdReached, n, len(rec.Keys), rec.ID)
		}
		rec.Status = domain.RecoveryCancelled
		rec.CancelledAt = &now
		return domain.AuditRecoveryCancelled, nil
	})
	if errors.Is(err, errRecoveryThresholdReached) && s.Engine != nil {
		if _, _, rerr := s.Engine.Reconcile(ctx, domain.SubjectRecovery, recoveryID); rerr != nil {
			s.logger().Warn(ctx, "recovery trigger retry failed", "recovery_id", recoveryID, "err", rerr)
		}
	}
	return out, err
}

type RecoverySweepReport struct {
	Scanned   int
	Triggered int
	Failed    int
}

// ReconcileRecoveries re-runs the quorum on active recoveries that already hold attestations,
// applying triggers whose first attempt failed.
func (s *RecoveryService) ReconcileRecoveries(ctx context.Context, limit int) (RecoverySweepReport, error) {
	var report RecoverySweepReport
	if s.Engine == nil {
		return report, errors.New("quorum engine required")
	}
	if limit <= 0 {
		limit = 500
	}
	after := ""
	for {
		ids, err := s.Store.ListRecoveryIDs(ctx, []domain.RecoveryStatus{domain.RecoveryActive}, after, limit)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			rec, err := s.Store.GetRecovery(ctx, id)
			if err != nil {
				report.Failed++
				continue
			}
			if attestedKeys(rec) == 0 {
				continue
			}
			report.Scanned++
			_, fired, err := s.Engine.Reconcile(ctx, domain.SubjectRecovery, id)
			switch {
			case err != nil:
				report.Failed++
				s.logger().Warn(ctx, "reconcile recovery failed", "recovery_id", id, "err", err)
			case fired:
				report.Triggered++
			}
		}
		if len(ids) < limit {
			return report, nil
		}
		after = ids[len(ids)-1]
	}
}

func attestedKeys(rec domain.Recovery) int {
	n := 0
	for _, k := range rec.Keys {
		if k.HasAttested {
			n++
		}
	}
	return n
}

func (s *RecoveryService) GetRecovery(ctx context.Context, recoveryID string) (domain.Recovery, error) {
	return s.Store.GetRecovery(ctx, recoveryID)
}

func (s *RecoveryService) transition(ctx context.Context, recoveryID string, apply func(rec *domain.Recovery, now time.Time) (domain.AuditEventType, error)) (domain.Recovery, error) {
	unlock, err := lockSubject(ctx, s.Locker, subjectLockKey(domain.SubjectRecovery, recoveryID))
	if err != nil {
		return domain.Recovery{}, err
	}
	defer unlock()

	var out domain.Recovery
	err = s.Store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.LockRecovery(ctx, recoveryID)
		if err != nil {
			return err
		}
		now := nowFrom(s.Clock)
		prev := rec.Status
		eventType, err := apply(&rec, now)
		if err != nil {
			return err
		}
		rec.UpdatedAt = now
		if err := tx.UpdateRecovery(ctx, rec); err != nil {
			return err
		}
		out = rec
		return s.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  rec.ID,
			EventType: eventType,
			TargetID:  rec.ID,
			Payload:   map[string]any{"from": string(prev), "to": string(rec.Status)},
		})
	})
	if err != nil {
		return domain.Recovery{}, err
	}
	return out, nil
}

func (s *RecoveryService) timeLock() time.Duration {
	if s.TimeLock <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TimeLock
}

func (s *RecoveryService) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Nop()
	}
	return s.Logger
}

// keyByToken compares every key in constant time so the match position does not leak.
func keyByToken(rec domain.Recovery, token string) (domain.RecoveryKey, error) {
	want := []byte(domain.HashString(token))
	var (
		found domain.RecoveryKey
		ok    bool
	)
	for _, k := range rec.Keys {
		if subtle.ConstantTimeCompare([]byte(k.InviteTokenHash), want) == 1 {
			found, ok = k, true
		}
	}
	if !ok {
		return domain.RecoveryKey{}, fmt.Errorf("%w: token does not match a key of recovery %s", domain.ErrAuthorization, rec.ID)
	}
	return found, nil
}

type recoverySubjects struct {
	s *RecoveryService
}

func (h recoverySubjects) LoadSubject(ctx context.Context, tx Store, recoveryID string) (domain.AttestationSubject, error) {
	rec, err := tx.LockRecovery(ctx, recoveryID)
	if err != nil {
		return domain.AttestationSubject{}, err
	}
	subject := domain.AttestationSubject{
		Kind:     domain.SubjectRecovery,
		ID:       rec.ID,
		Rule:     domain.RecoveryQuorumRule(),
		Eligible: make(map[string]domain.PartyRole, len(rec.Keys)),
		Resolved: rec.Status != domain.RecoveryActive,
	}
	for _, k := range rec.Keys {
		subject.Eligible[k.ID] = domain.RoleRecoveryKey
	}
	return subject, nil
}

func (h recoverySubjects) OnDecision(ctx context.Context, tx Store, subject domain.AttestationSubject, att domain.Attestation) error {
	rec, err := tx.GetRecovery(ctx, subject.ID)
	if err != nil {
		return err
	}
	for _, k := range rec.Keys {
		if k.ID != att.PartyID {
			continue
		}
		now := nowFrom(h.s.Clock)
		k.HasAttested = att.Decision == domain.DecisionApprove
		k.Signature = att.Signature
		k.AttestedAt = &now
		return tx.UpdateRecoveryKey(ctx, k)
	}
	return fmt.Errorf("%w: recovery key %s", domain.ErrNotFound, att.PartyID)
}

func (h recoverySubjects) Resolve(ctx context.Context, tx Store, subject domain.AttestationSubject, result domain.QuorumResult) error {
	if result.Outcome != domain.OutcomeApproved {
		return nil
	}
	rec, err := tx.GetRecovery(ctx, subject.ID)
	if err != nil {
		return err
	}
	now := nowFrom(h.s.Clock)
	unlocks := now.Add(h.s.timeLock())
	rec.Status = domain.RecoveryTriggered
	rec.TriggeredAt = &now
	rec.UnlocksAt = &unlocks
	rec.UpdatedAt = now
	if err := tx.UpdateRecovery(ctx, rec); err != nil {
		return err
	}
	return h.s.Audit.Emit(ctx, tx, domain.AuditEvent{
		StreamID:  rec.ID,
		EventType: domain.AuditRecoveryTriggered,
		TargetID:  rec.ID,
		Payload:   map[string]any{"unlocks_at": unlocks.Format(time.RFC3339), "rule": result.Rule},
	})
}
