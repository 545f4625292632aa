package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"
)

type GuardianInput struct {
	Name    string
	Contact string
}

type AttestorInput struct {
	Name         string
	Contact      string
	Organization string
}

type BeneficiaryInput struct {
	Name             string
	Contact          string
	ShareBasisPoints int
}

type GuardianRegistry struct {
	Store     Store
	Locker    SubjectLocker
	Notifier  Notifier
	Sharer    SecretSharer
	Sealer    FragmentSealer
	Audit     *AuditEmitter
	Clock     Clock
	Logger    logging.Logger
	InviteTTL time.Duration
}

func NewGuardianRegistry(store Store, locker SubjectLocker, sharer SecretSharer, sealer FragmentSealer, clock Clock) *GuardianRegistry {
	return &GuardianRegistry{
		Store:     store,
		Locker:    locker,
		Sharer:    sharer,
		Sealer:    sealer,
		Clock:     clock,
		Logger:    logging.Nop(),
		InviteTTL: 7 * 24 * time.Hour,
	}
}

func (r *GuardianRegistry) AddGuardian(ctx context.Context, vaultID string, in GuardianInput) (domain.Guardian, error) {
	base, err := r.newPartyBase(vaultID, in.Name, in.Contact)
	if err != nil {
		return domain.Guardian{}, err
	}
	var out domain.Guardian
	err = r.withVault(ctx, vaultID, func(tx Store, vault domain.Vault, scheme domain.FragmentScheme) error {
		parties, err := tx.ListParties(ctx, vaultID)
		if err != nil {
			return err
		}
		if len(holders(parties)) >= scheme.Total {
			return fmt.Errorf("%w: vault %s already has %d guardians for scheme %s", domain.ErrInvariantViolation, vaultID, scheme.Total, scheme)
		}
		created, err := tx.CreateParty(ctx, domain.Guardian{PartyBase: base})
		if err != nil {
			return err
		}
		out = created.(domain.Guardian)

		fragments, err := tx.ListFragments(ctx, vaultID)
		if err != nil {
			return err
		}
		if len(fragments) > 0 {
			index := vacantIndex(scheme.Total, fragments)
			if err := r.issueFragment(ctx, tx, vault, scheme, out.ID, index, fragments); err != nil {
				return err
			}
			out.FragmentIndex = index
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditPartyAdded,
			TargetID:  out.ID,
			Payload:   map[string]any{"role": string(domain.RoleGuardian), "party_id": out.ID},
		})
	})
	if err != nil {
		return domain.Guardian{}, err
	}
	out.InviteToken = base.InviteToken
	r.sendInvite(ctx, out.Contact, base.InviteToken)
	return out, nil
}

func (r *GuardianRegistry) AddAttestor(ctx context.Context, vaultID string, in AttestorInput) (domain.Attestor, error) {
	base, err := r.newPartyBase(vaultID, in.Name, in.Contact)
	if err != nil {
		return domain.Attestor{}, err
	}
	created, err := r.addParty(ctx, domain.Attestor{PartyBase: base, Organization: strings.TrimSpace(in.Organization)})
	if err != nil {
		return domain.Attestor{}, err
	}
	out := created.(domain.Attestor)
	out.InviteToken = base.InviteToken
	return out, nil
}

func (r *GuardianRegistry) AddBeneficiary(ctx context.Context, vaultID string, in BeneficiaryInput) (domain.Beneficiary, error) {
	if in.ShareBasisPoints < 0 || in.ShareBasisPoints > 10000 {
		return domain.Beneficiary{}, fmt.Errorf("%w: share basis points must be within 0..10000", domain.ErrValidation)
	}
	base, err := r.newPartyBase(vaultID, in.Name, in.Contact)
	if err != nil {
		return domain.Beneficiary{}, err
	}
	created, err := r.addParty(ctx, domain.Beneficiary{PartyBase: base, ShareBasisPoints: in.ShareBasisPoints})
	if err != nil {
		return domain.Beneficiary{}, err
	}
	out := created.(domain.Beneficiary)
	out.InviteToken = base.InviteToken
	return out, nil
}

func (r *GuardianRegistry) addParty(ctx context.Context, party domain.Party) (domain.Party, error) {
	vaultID := party.Base().VaultID
	var created domain.Party
	err := r.withVault(ctx, vaultID, func(tx Store, _ domain.Vault, _ domain.FragmentScheme) error {
		var err error
		created, err = tx.CreateParty(ctx, party)
		if err != nil {
			return err
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditPartyAdded,
			TargetID:  created.Base().ID,
			Payload:   map[string]any{"role": string(created.Role()), "party_id": created.Base().ID},
		})
	})
	if err != nil {
		return nil, err
	}
	r.sendInvite(ctx, created.Base().Contact, party.Base().InviteToken)
	return created, nil
}

// RemoveGuardian refuses while the vault has 3 or fewer active guardians. The count and the
// delete happen in one transaction under the vault lock.
func (r *GuardianRegistry) RemoveGuardian(ctx context.Context, vaultID, guardianID string) error {
	return r.withVault(ctx, vaultID, func(tx Store, _ domain.Vault, _ domain.FragmentScheme) error {
		parties, err := tx.ListParties(ctx, vaultID)
		if err != nil {
			return err
		}
		target, err := findGuardian(parties, guardianID)
		if err != nil {
			return err
		}
		if target.Status == domain.PartyActive {
			if active := countActiveGuardians(parties); active <= domain.MinActiveGuardians {
				return fmt.Errorf("%w: vault %s has %d active guardians; removal needs more than %d", domain.ErrInvariantViolation, vaultID, active, domain.MinActiveGuardians)
			}
		}
		if err := tx.DeleteFragmentByGuardian(ctx, guardianID); err != nil {
			return err
		}
		if err := tx.DeleteParty(ctx, guardianID); err != nil {
			return err
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditGuardianRemoved,
			TargetID:  guardianID,
			Payload:   map[string]any{"guardian_id": guardianID},
		})
	})
}

// ReplaceGuardian swaps one guardian for another in a single transaction: the old guardian and
// its fragment go, the new guardian takes over the old status and fragment index, and a fresh
// fragment is sealed for it. Any failure leaves the guardian set untouched.
//
// A replacement for an active guardian is active at once so the active floor holds. Its invite
// only confirms: accepting is a no-op and declining is refused. A replacement who will not serve
// is swapped out by another ReplaceGuardian call. Declined or inactive guardians are replaced by
// a pending party that answers its invite as usual.
func (r *GuardianRegistry) ReplaceGuardian(ctx context.Context, vaultID, oldGuardianID string, in GuardianInput) (domain.Guardian, error) {
	base, err := r.newPartyBase(vaultID, in.Name, in.Contact)
	if err != nil {
		return domain.Guardian{}, err
	}
	var out domain.Guardian
	err = r.withVault(ctx, vaultID, func(tx Store, vault domain.Vault, scheme domain.FragmentScheme) error {
		parties, err := tx.ListParties(ctx, vaultID)
		if err != nil {
			return err
		}
		old, err := findGuardian(parties, oldGuardianID)
		if err != nil {
			return err
		}
		if strings.EqualFold(old.Contact, base.Contact) {
			return fmt.Errorf("%w: replacement must be a different contact", domain.ErrValidation)
		}
		fragments, err := tx.ListFragments(ctx, vaultID)
		if err != nil {
			return err
		}
		remaining := make([]domain.Fragment, 0, len(fragments))
		index := 0
		for _, f := range fragments {
			if f.GuardianID == oldGuardianID {
				index = f.Index
				continue
			}
			remaining = append(remaining, f)
		}

		if err := tx.DeleteFragmentByGuardian(ctx, oldGuardianID); err != nil {
			return err
		}
		if err := tx.DeleteParty(ctx, oldGuardianID); err != nil {
			return err
		}
		base.Status = old.Status
		if base.Status == domain.PartyDeclined || base.Status == domain.PartyInactive {
			base.Status = domain.PartyPending
		}
		created, err := tx.CreateParty(ctx, domain.Guardian{PartyBase: base})
		if err != nil {
			return err
		}
		out = created.(domain.Guardian)

		if len(fragments) > 0 {
			if index == 0 {
				index = vacantIndex(scheme.Total, remaining)
			}
			if err := r.issueFragment(ctx, tx, vault, scheme, out.ID, index, remaining); err != nil {
				return err
			}
			out.FragmentIndex = index
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditGuardianReplaced,
			TargetID:  out.ID,
			Payload:   map[string]any{"old_guardian_id": oldGuardianID, "new_guardian_id": out.ID},
		})
	})
	if err != nil {
		return domain.Guardian{}, err
	}
	out.InviteToken = base.InviteToken
	r.sendInvite(ctx, out.Contact, base.InviteToken)
	return out, nil
}

func (r *GuardianRegistry) ListByRole(ctx context.Context, vaultID string, role domain.PartyRole) ([]domain.Party, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	if _, err := r.Store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	parties, err := r.Store.ListParties(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Party, 0, len(parties))
	for _, p := range parties {
		if p.Role() == role {
			out = append(out, p)
		}
	}
	return out, nil
}

// MemberIDs lists the parties of a vault that have not declined their invite.
func (r *GuardianRegistry) MemberIDs(ctx context.Context, vaultID string) ([]string, error) {
	parties, err := r.Store.ListParties(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(parties))
	for _, p := range parties {
		if b := p.Base(); b.Status != domain.PartyDeclined {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

// AcceptInvite moves a pending party to active. Accepting twice is a no-op.
func (r *GuardianRegistry) AcceptInvite(ctx context.Context, token string) (domain.Party, error) {
	return r.answerInvite(ctx, token, domain.PartyActive)
}

// DeclineInvite moves a pending party to declined and destroys any fragment issued to it.
func (r *GuardianRegistry) DeclineInvite(ctx context.Context, token string) (domain.Party, error) {
	return r.answerInvite(ctx, token, domain.PartyDeclined)
}

func (r *GuardianRegistry) answerInvite(ctx context.Context, token string, next domain.PartyStatus) (domain.Party, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: invite token is required", domain.ErrValidation)
	}
	party, err := r.Store.GetPartyByInviteHash(ctx, domain.HashString(token))
	if err != nil {
		return nil, err
	}
	vaultID := party.Base().VaultID
	var out domain.Party
	err = r.withVault(ctx, vaultID, func(tx Store, _ domain.Vault, _ domain.FragmentScheme) error {
		current, err := tx.GetParty(ctx, vaultID, party.Base().ID)
		if err != nil {
			return err
		}
		base := current.Base()
		now := nowFrom(r.Clock)
		if base.Status == next {
			out = current
			return nil
		}
		if base.Status != domain.PartyPending {
			return fmt.Errorf("%w: party %s is %s", domain.ErrPreconditionFailed, base.ID, base.Status)
		}
		if base.InviteExpired(now) {
			return fmt.Errorf("%w: invite for party %s expired at %s", domain.ErrTokenExpired, base.ID, base.InviteExpiresAt.Format(time.RFC3339))
		}
		if err := tx.UpdatePartyStatus(ctx, base.ID, next, now); err != nil {
			return err
		}
		if next == domain.PartyDeclined {
			if err := tx.DeleteFragmentByGuardian(ctx, base.ID); err != nil {
				return err
			}
		}
		out, err = tx.GetParty(ctx, vaultID, base.ID)
		if err != nil {
			return err
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditPartyStatusChanged,
			TargetID:  base.ID,
			Payload:   map[string]any{"from": string(base.Status), "to": string(next)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkInactive records prolonged non-response to an invite. Only pending parties qualify, so
// the active guardian floor is never touched.
func (r *GuardianRegistry) MarkInactive(ctx context.Context, vaultID, partyID string) error {
	return r.withVault(ctx, vaultID, func(tx Store, _ domain.Vault, _ domain.FragmentScheme) error {
		party, err := tx.GetParty(ctx, vaultID, partyID)
		if err != nil {
			return err
		}
		base := party.Base()
		if base.Status == domain.PartyInactive {
			return nil
		}
		if base.Status != domain.PartyPending {
			return fmt.Errorf("%w: only pending parties can be marked inactive, %s is %s", domain.ErrPreconditionFailed, partyID, base.Status)
		}
		if err := tx.UpdatePartyStatus(ctx, partyID, domain.PartyInactive, nowFrom(r.Clock)); err != nil {
			return err
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditPartyStatusChanged,
			TargetID:  partyID,
			Payload:   map[string]any{"from": string(base.Status), "to": string(domain.PartyInactive)},
		})
	})
}

// ExpireInvites marks parties whose invites lapsed without an answer as inactive.
func (r *GuardianRegistry) ExpireInvites(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	parties, err := r.Store.ListPendingInvitesExpiredBefore(ctx, nowFrom(r.Clock), limit)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, p := range parties {
		base := p.Base()
		if err := r.MarkInactive(ctx, base.VaultID, base.ID); err != nil {
			r.logger().Warn(ctx, "mark party inactive failed", "vault_id", base.VaultID, "party_id", base.ID, "err", err)
			continue
		}
		marked++
	}
	return marked, nil
}

// DistributeSecret splits secret across the vault's guardians, one sealed fragment each.
// It needs exactly scheme-total active guardians and runs once per vault.
func (r *GuardianRegistry) DistributeSecret(ctx context.Context, vaultID string, secret []byte) ([]domain.Fragment, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret is required", domain.ErrValidation)
	}
	if r.Sharer == nil || r.Sealer == nil {
		return nil, errors.New("secret sharer and fragment sealer are required")
	}
	var out []domain.Fragment
	err := r.withVault(ctx, vaultID, func(tx Store, vault domain.Vault, scheme domain.FragmentScheme) error {
		existing, err := tx.ListFragments(ctx, vaultID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: vault %s secret is already distributed", domain.ErrConflict, vaultID)
		}
		parties, err := tx.ListParties(ctx, vaultID)
		if err != nil {
			return err
		}
		guardians := holders(parties)
		if len(guardians) != scheme.Total {
			return fmt.Errorf("%w: scheme %s needs %d guardians, vault has %d", domain.ErrPreconditionFailed, scheme, scheme.Total, len(guardians))
		}
		for _, g := range guardians {
			if g.Status != domain.PartyActive {
				return fmt.Errorf("%w: guardian %s has not accepted", domain.ErrPreconditionFailed, g.ID)
			}
		}
		shares, err := r.Sharer.Split(secret, scheme.Threshold, scheme.Total)
		if err != nil {
			return err
		}
		if len(shares) != len(guardians) {
			return fmt.Errorf("%w: split produced %d shares for %d guardians", domain.ErrInvariantViolation, len(shares), len(guardians))
		}
		now := nowFrom(r.Clock)
		for i, g := range guardians {
			index := int(shares[i].X)
			ciphertext, salt, err := r.Sealer.Seal(vault.ID, g.ID, index, shares[i].Data)
			if err != nil {
				return err
			}
			f, err := tx.CreateFragment(ctx, domain.Fragment{
				VaultID:    vault.ID,
				GuardianID: g.ID,
				Index:      index,
				Ciphertext: ciphertext,
				Salt:       salt,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return r.Audit.Emit(ctx, tx, domain.AuditEvent{
			StreamID:  vaultID,
			EventType: domain.AuditSecretDistributed,
			TargetID:  vaultID,
			Payload:   map[string]any{"scheme": scheme.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GuardianRegistry) issueFragment(ctx context.Context, tx Store, vault domain.Vault, scheme domain.FragmentScheme, guardianID string, index int, existing []domain.Fragment) error {
	if r.Sharer == nil || r.Sealer == nil {
		return errors.New("secret sharer and fragment sealer are required")
	}
	if index < 1 || index > scheme.Total {
		return fmt.Errorf("%w: no vacant fragment index in scheme %s", domain.ErrInvariantViolation, scheme)
	}
	if len(existing) < scheme.Threshold {
		return fmt.Errorf("%w: %d fragments remain, %d needed to issue a new one", domain.ErrInvariantViolation, len(existing), scheme.Threshold)
	}
	shares := make([]domain.Share, 0, scheme.Threshold)
	for _, f := range existing[:scheme.Threshold] {
		data, err := r.Sealer.Open(f)
		if err != nil {
			return fmt.Errorf("open fragment %d: %w", f.Index, err)
		}
		shares = append(shares, domain.Share{X: byte(f.Index), Data: data})
	}
	share, err := r.Sharer.ShareAt(shares, byte(index))
	if err != nil {
		return err
	}
	ciphertext, salt, err := r.Sealer.Seal(vault.ID, guardianID, index, share.Data)
	if err != nil {
		return err
	}
	_, err = tx.CreateFragment(ctx, domain.Fragment{
		VaultID:    vault.ID,
		GuardianID: guardianID,
		Index:      index,
		Ciphertext: ciphertext,
		Salt:       salt,
		CreatedAt:  nowFrom(r.Clock),
	})
	return err
}

func (r *GuardianRegistry) withVault(ctx context.Context, vaultID string, fn func(tx Store, vault domain.Vault, scheme domain.FragmentScheme) error) error {
	if r.Store == nil {
		return errors.New("guardian registry store required")
	}
	unlock, err := lockSubject(ctx, r.Locker, vaultLockKey(vaultID))
	if err != nil {
		return err
	}
	defer unlock()
	return r.Store.WithTx(ctx, func(tx Store) error {
		vault, err := tx.LockVault(ctx, vaultID)
		if err != nil {
			return err
		}
		if vault.Status.Terminal() {
			return fmt.Errorf("%w: vault %s is %s", domain.ErrPreconditionFailed, vaultID, vault.Status)
		}
		scheme, err := domain.ParseFragmentScheme(vault.FragmentScheme)
		if err != nil {
			return err
		}
		return fn(tx, vault, scheme)
	})
}

func (r *GuardianRegistry) newPartyBase(vaultID, name, contact string) (domain.PartyBase, error) {
	name = strings.TrimSpace(name)
	contact = strings.TrimSpace(contact)
	if vaultID == "" {
		return domain.PartyBase{}, fmt.Errorf("%w: vault id is required", domain.ErrValidation)
	}
	if name == "" {
		return domain.PartyBase{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if err := domain.ValidateContact(contact); err != nil {
		return domain.PartyBase{}, err
	}
	token, hash, err := newToken()
	if err != nil {
		return domain.PartyBase{}, err
	}
	now := nowFrom(r.Clock)
	ttl := r.InviteTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return domain.PartyBase{
		VaultID:         vaultID,
		Name:            name,
		Contact:         contact,
		Status:          domain.PartyPending,
		InviteToken:     token,
		InviteTokenHash: hash,
		InviteExpiresAt: now.Add(ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *GuardianRegistry) sendInvite(ctx context.Context, contact, token string) {
	if r.Notifier == nil || token == "" {
		return
	}
	if err := r.Notifier.SendInvite(ctx, contact, token); err != nil {
		r.logger().Warn(ctx, "send invite failed", "err", err)
	}
}

func (r *GuardianRegistry) logger() logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}

// holders are the guardians that occupy a fragment slot: everyone but those who declined,
// oldest first.
func holders(parties []domain.Party) []domain.Guardian {
	out := make([]domain.Guardian, 0, len(parties))
	for _, p := range parties {
		g, ok := p.(domain.Guardian)
		if !ok || g.Status == domain.PartyDeclined {
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func countActiveGuardians(parties []domain.Party) int {
	n := 0
	for _, p := range parties {
		if p.Role() == domain.RoleGuardian && p.Base().Status == domain.PartyActive {
			n++
		}
	}
	return n
}

func findGuardian(parties []domain.Party, guardianID string) (domain.Guardian, error) {
	for _, p := range parties {
		if g, ok := p.(domain.Guardian); ok && g.ID == guardianID {
			return g, nil
		}
	}
	return domain.Guardian{}, fmt.Errorf("%w: guardian %s", domain.ErrNotFound, guardianID)
}

func vacantIndex(total int, fragments []domain.Fragment) int {
	used := make(map[int]bool, len(fragments))
	for _, f := range fragments {
		used[f.Index] = true
	}
	for i := 1; i <= total; i++ {
		if !used[i] {
			return i
		}
	}
	return 0
}
