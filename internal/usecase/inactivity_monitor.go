package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"
)

type CreateVaultInput struct {
	OwnerID             string
	OwnerContact        string
	CheckInIntervalDays int
	GracePeriodDays     int
	FragmentScheme      string
}

type CheckInInput struct {
	Signature string
	IPAddress string
}

type SweepReport struct {
	Scanned int
	Changed int
	Failed  int
}

type InactivityMonitor struct {
	Store     Store
	Locker    SubjectLocker
	Notifier  Notifier
	Audit     *AuditEmitter
	Clock     Clock
	Logger    logging.Logger
	BatchSize int
}

func NewInactivityMonitor(store Store, locker SubjectLocker, clock Clock) *InactivityMonitor {
	return &InactivityMonitor{
		Store:     store,
		Locker:    locker,
		Clock:     clock,
		Logger:    logging.Nop(),
		BatchSize: 500,
	}
}

func (m *InactivityMonitor) CreateVault(ctx context.Context, in CreateVaultInput) (domain.Vault, error) {
	if m.Store == nil {
		return domain.Vault{}, errors.New("inactivity monitor store required")
	}
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if in.OwnerID == "" {
		return domain.Vault{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if in.OwnerContact != "" {
		if err := domain.ValidateContact(in.OwnerContact); err != nil {
			return domain.Vault{}, err
		}
	}
	if in.CheckInIntervalDays <= 0 {
		return domain.Vault{}, fmt.Errorf("%w: check-in interval must be positive", domain.ErrValidation)
	}
	if in.GracePeriodDays < 0 {
		return domain.Vault{}, fmt.Errorf("%w: grace period cannot be negative", domain.ErrValidation)
	}
	if in.FragmentScheme == "" {
		in.FragmentScheme = "2-of-3"
	}
	scheme, err := domain.ParseFragmentScheme(in.FragmentScheme)
	if err != nil {
		return domain.Vault{}, err
	}
	now := nowFrom(m.Clock)
	vault := domain.Vault{
		OwnerID:             in.OwnerID,
		OwnerContact:        strings.TrimSpace(in.OwnerContact),
		CheckInIntervalDays: in.CheckInIntervalDays,
		GracePeriodDays:     in.GracePeriodDays,
		FragmentScheme:      scheme.String(),
		Status:              domain.VaultActive,
		LastCheckInAt:       now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	vault.NextCheckInDue = vault.DueAt()

	var out domain.Vault
	err = m.Store.WithTx(ctx, func(tx Store) error {
		created, err := tx.CreateVault(ctx, vault)
		if err != nil {
			return err
		}
		out = created
		return m.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  created.ID,
			EventType: domain.AuditVaultCreated,
			TargetID:  created.ID,
			Payload: map[string]any{
				"owner_id_hash":   domain.HashString(created.OwnerID),
				"interval_days":   fmt.Sprint(created.CheckInIntervalDays),
				"grace_days":      fmt.Sprint(created.GracePeriodDays),
				"fragment_scheme": created.FragmentScheme,
			},
		})
	})
	if err != nil {
		return domain.Vault{}, err
	}
	return out, nil
}

// GetVault returns the vault with its status evaluated at the current time. Nothing is
// persisted; the sweep does that.
func (m *InactivityMonitor) GetVault(ctx context.Context, vaultID string) (domain.Vault, error) {
	vault, err := m.Store.GetVault(ctx, vaultID)
	if err != nil {
		return domain.Vault{}, err
	}
	vault.Status = domain.ComputeVaultStatus(vault, nowFrom(m.Clock))
	return vault, nil
}

// RecomputeStatus persists the status the clock implies. Calling it repeatedly is harmless.
func (m *InactivityMonitor) RecomputeStatus(ctx context.Context, vaultID string) (domain.Vault, error) {
	var (
		out     domain.Vault
		changed bool
	)
	err := m.withVaultLock(ctx, vaultID, func(tx Store) error {
		vault, err := tx.LockVault(ctx, vaultID)
		if err != nil {
			return err
		}
		out, changed, err = m.applyStatus(ctx, tx, vault)
		return err
	})
	if err != nil {
		return domain.Vault{}, err
	}
	if changed {
		m.remind(ctx, out)
	}
	return out, nil
}

func (m *InactivityMonitor) applyStatus(ctx context.Context, tx Store, vault domain.Vault) (domain.Vault, bool, error) {
	now := nowFrom(m.Clock)
	next := domain.ComputeVaultStatus(vault, now)
	if next == vault.Status {
		return vault, false, nil
	}
	prev := vault.Status
	vault.Status = next
	vault.UpdatedAt = now
	if err := tx.UpdateVault(ctx, vault); err != nil {
		return domain.Vault{}, false, err
	}
	err := m.Audit.Emit(ctx, tx, domain.AuditEvent{
		StreamID:  vault.ID,
		EventType: domain.AuditVaultStatusChanged,
		TargetID:  vault.ID,
		Payload:   map[string]any{"from": string(prev), "to": string(next)},
	})
	return vault, true, err
}

// CheckIn proves the owner is alive: it resets the clock and returns the vault to active.
// A claim that is already under review keeps running; a claim nobody has voted on yet is
// superseded and expires.
func (m *InactivityMonitor) CheckIn(ctx context.Context, vaultID string, in CheckInInput) (domain.Vault, error) {
	if strings.TrimSpace(in.Signature) == "" {
		return domain.Vault{}, fmt.Errorf("%w: check-in signature is required", domain.ErrValidation)
	}
	var out domain.Vault
	err := m.withVaultLock(ctx, vaultID, func(tx Store) error {
		vault, err := tx.LockVault(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.Status.Terminal() {
			return fmt.Errorf("%w: vault %s is %s and no longer accepts check-ins", domain.ErrPreconditionFailed, vaultID, vault.Status)
		}
		now := nowFrom(m.Clock)
		prev := vault.Status
		vault.LastCheckInAt = now
		vault.NextCheckInDue = vault.DueAt()
		vault.Status = domain.VaultActive
		vault.UpdatedAt = now
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return err
		}
		if err := m.supersedePendingClaim(ctx, tx, vaultID, now); err != nil {
			return err
		}
		out = vault
		return m.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditVaultCheckedIn,
			TargetID:  vaultID,
			Payload: map[string]any{
				"previous_status": string(prev),
				"signature_hash":  domain.HashString(in.Signature),
				"ip_hash":         domain.HashString(in.IPAddress),
			},
		})
	})
	if err != nil {
		return domain.Vault{}, err
	}
	return out, nil
}

func (m *InactivityMonitor) supersedePendingClaim(ctx context.Context, tx Store, vaultID string, now time.Time) error {
	claim, err := tx.FindOpenClaim(ctx, vaultID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if claim.Status != domain.ClaimPending {
		return nil
	}
	return closeClaim(ctx, tx, m.Audit, claim, domain.ClaimExpired, now, "superseded_by_check_in")
}

// CancelVault is terminal. Cancelling twice is a no-op; a triggered vault cannot be cancelled.
func (m *InactivityMonitor) CancelVault(ctx context.Context, vaultID string) (domain.Vault, error) {
	var out domain.Vault
	err := m.withVaultLock(ctx, vaultID, func(tx Store) error {
		vault, err := tx.LockVault(ctx, vaultID)
		if err != nil {
			return err
		}
		switch vault.Status {
		case domain.VaultCancelled:
			out = vault
			return nil
		case domain.VaultTriggered:
			return fmt.Errorf("%w: vault %s is already triggered", domain.ErrPreconditionFailed, vaultID)
		}
		now := nowFrom(m.Clock)
		vault.Status = domain.VaultCancelled
		vault.CancelledAt = &now
		vault.UpdatedAt = now
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return err
		}
		claim, err := tx.FindOpenClaim(ctx, vaultID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil {
			if err := closeClaim(ctx, tx, m.Audit, claim, domain.ClaimExpired, now, "vault_cancelled"); err != nil {
				return err
			}
		}
		out = vault
		return m.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditVaultCancelled,
			TargetID:  vaultID,
		})
	})
	if err != nil {
		return domain.Vault{}, err
	}
	return out, nil
}

// Sweep recomputes every non-terminal vault. One vault failing does not stop the sweep.
func (m *InactivityMonitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	batch := m.BatchSize
	if batch <= 0 {
		batch = 500
	}
	statuses := []domain.VaultStatus{domain.VaultActive, domain.VaultWarning, domain.VaultCritical}
	after := ""
	for {
		ids, err := m.Store.ListVaultIDs(ctx, statuses, after, batch)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			before, err := m.Store.GetVault(ctx, id)
			if err != nil {
				report.Failed++
				continue
			}
			updated, err := m.RecomputeStatus(ctx, id)
			if err != nil {
				report.Failed++
				m.logger().Warn(ctx, "recompute vault status failed", "vault_id", id, "err", err)
				continue
			}
			if updated.Status != before.Status {
				report.Changed++
			}
		}
		if len(ids) < batch {
			return report, nil
		}
		after = ids[len(ids)-1]
	}
}

func (m *InactivityMonitor) remind(ctx context.Context, vault domain.Vault) {
	if m.Notifier == nil || vault.OwnerContact == "" {
		return
	}
	var msg string
	switch vault.Status {
	case domain.VaultWarning:
		msg = fmt.Sprintf("Your vault check-in was due %s. Please check in before the grace period ends.", vault.NextCheckInDue.Format("2006-01-02"))
	case domain.VaultCritical:
		msg = "Your vault grace period has ended. Guardians may now open a claim. Check in to stop it."
	default:
		return
	}
	if err := m.Notifier.SendReminder(ctx, vault.OwnerContact, msg); err != nil {
		m.logger().Warn(ctx, "send reminder failed", "vault_id", vault.ID, "err", err)
	}
}

func (m *InactivityMonitor) withVaultLock(ctx context.Context, vaultID string, fn func(tx Store) error) error {
	if m.Store == nil {
		return errors.New("inactivity monitor store required")
	}
	unlock, err := lockSubject(ctx, m.Locker, vaultLockKey(vaultID))
	if err != nil {
		return err
	}
	defer unlock()
	return m.Store.WithTx(ctx, fn)
}

func (m *InactivityMonitor) logger() logging.Logger {
	if m.Logger == nil {
		return logging.Nop()
	}
	return m.Logger
}
