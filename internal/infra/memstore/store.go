// Package memstore keeps every repository in process memory. It backs no-db mode and the
// usecase tests. A transaction works on a copy of the data and swaps it in on commit.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"

	"github.com/google/uuid"
)

type state struct {
	vaults       map[string]domain.Vault
	parties      map[string]domain.Party
	fragments    map[string]domain.Fragment
	claims       map[string]domain.Claim
	files        map[string]domain.ClaimFile
	attestations map[string]domain.Attestation
	recoveries   map[string]domain.Recovery
	keys         map[string]domain.RecoveryKey
	audit        map[string][]domain.AuditEvent
}

func newState() *state {
	return &state{
		vaults:       map[string]domain.Vault{},
		parties:      map[string]domain.Party{},
		fragments:    map[string]domain.Fragment{},
		claims:       map[string]domain.Claim{},
		files:        map[string]domain.ClaimFile{},
		attestations: map[string]domain.Attestation{},
		recoveries:   map[string]domain.Recovery{},
		keys:         map[string]domain.RecoveryKey{},
		audit:        map[string][]domain.AuditEvent{},
	}
}

func (s *state) clone() *state {
	return &state{
		vaults:       maps.Clone(s.vaults),
		parties:      maps.Clone(s.parties),
		fragments:    maps.Clone(s.fragments),
		claims:       maps.Clone(s.claims),
		files:        maps.Clone(s.files),
		attestations: maps.Clone(s.attestations),
		recoveries:   maps.Clone(s.recoveries),
		keys:         maps.Clone(s.keys),
		audit:        maps.Clone(s.audit),
	}
}

// Store implements usecase.Store. Transactions are serialized on one mutex, which also
// makes the row-lock methods plain reads.
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool
}

var _ usecase.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx usecase.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{mu: s.mu, data: s.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	*s.data = *tx.data
	return nil
}

func (s *Store) view(fn func(d *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

// Vaults

func (s *Store) CreateVault(_ context.Context, v domain.Vault) (domain.Vault, error) {
	err := s.view(func(d *state) error {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if _, ok := d.vaults[v.ID]; ok {
			return fmt.Errorf("%w: vault %s exists", domain.ErrConflict, v.ID)
		}
		d.vaults[v.ID] = v
		return nil
	})
	return v, err
}

func (s *Store) GetVault(_ context.Context, id string) (domain.Vault, error) {
	var out domain.Vault
	err := s.view(func(d *state) error {
		v, ok := d.vaults[id]
		if !ok {
			return notFound("vault", id)
		}
		out = v
		return nil
	})
	return out, err
}

func (s *Store) LockVault(ctx context.Context, id string) (domain.Vault, error) {
	return s.GetVault(ctx, id)
}

func (s *Store) UpdateVault(_ context.Context, v domain.Vault) error {
	return s.view(func(d *state) error {
		if _, ok := d.vaults[v.ID]; !ok {
			return notFound("vault", v.ID)
		}
		d.vaults[v.ID] = v
		return nil
	})
}

func (s *Store) ListVaultIDs(_ context.Context, statuses []domain.VaultStatus, afterID string, limit int) ([]string, error) {
	var out []string
	err := s.view(func(d *state) error {
		for id, v := range d.vaults {
			if id > afterID && (len(statuses) == 0 || slices.Contains(statuses, v.Status)) {
				out = append(out, id)
			}
		}
		return nil
	})
	return pageIDs(out, limit), err
}

func pageIDs(ids []string, limit int) []string {
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// Parties

func (s *Store) CreateParty(_ context.Context, p domain.Party) (domain.Party, error) {
	var out domain.Party
	err := s.view(func(d *state) error {
		if _, ok := d.vaults[p.Base().VaultID]; !ok {
			return notFound("vault", p.Base().VaultID)
		}
		hash := p.Base().InviteTokenHash
		for _, existing := range d.parties {
			if hash != "" && existing.Base().InviteTokenHash == hash {
				return fmt.Errorf("%w: invite token reused", domain.ErrConflict)
			}
		}
		id := p.Base().ID
		if id == "" {
			id = uuid.NewString()
		}
		switch v := p.(type) {
		case domain.Guardian:
			v.ID, v.InviteToken, v.FragmentIndex = id, "", 0
			out = v
		case domain.Attestor:
			v.ID, v.InviteToken = id, ""
			out = v
		case domain.Beneficiary:
			v.ID, v.InviteToken = id, ""
			out = v
		default:
			return fmt.Errorf("%w: unknown party type %T", domain.ErrValidation, p)
		}
		d.parties[id] = out
		return nil
	})
	return out, err
}

func (s *Store) GetParty(_ context.Context, vaultID, partyID string) (domain.Party, error) {
	var out domain.Party
	err := s.view(func(d *state) error {
		p, ok := d.parties[partyID]
		if !ok || p.Base().VaultID != vaultID {
			return notFound("party", partyID)
		}
		out = d.withFragmentIndex(p)
		return nil
	})
	return out, err
}

func (s *Store) GetPartyByInviteHash(_ context.Context, tokenHash string) (domain.Party, error) {
	var out domain.Party
	err := s.view(func(d *state) error {
		for _, p := range d.parties {
			if tokenHash != "" && p.Base().InviteTokenHash == tokenHash {
				out = d.withFragmentIndex(p)
				return nil
			}
		}
		return notFound("invite", "")
	})
	return out, err
}

func (s *Store) ListParties(_ context.Context, vaultID string) ([]domain.Party, error) {
	var out []domain.Party
	err := s.view(func(d *state) error {
		for _, p := range d.parties {
			if p.Base().VaultID == vaultID {
				out = append(out, d.withFragmentIndex(p))
			}
		}
		return nil
	})
	sortParties(out)
	return out, err
}

func (s *Store) UpdatePartyStatus(_ context.Context, partyID string, status domain.PartyStatus, at time.Time) error {
	return s.view(func(d *state) error {
		p, ok := d.parties[partyID]
		if !ok {
			return notFound("party", partyID)
		}
		switch v := p.(type) {
		case domain.Guardian:
			v.Status, v.UpdatedAt = status, at
			d.parties[partyID] = v
		case domain.Attestor:
			v.Status, v.UpdatedAt = status, at
			d.parties[partyID] = v
		case domain.Beneficiary:
			v.Status, v.UpdatedAt = status, at
			d.parties[partyID] = v
		}
		return nil
	})
}

func (s *Store) DeleteParty(_ context.Context, partyID string) error {
	return s.view(func(d *state) error {
		if _, ok := d.parties[partyID]; !ok {
			return notFound("party", partyID)
		}
		delete(d.parties, partyID)
		return nil
	})
}

func (s *Store) ListPendingInvitesExpiredBefore(_ context.Context, before time.Time, limit int) ([]domain.Party, error) {
	var out []domain.Party
	err := s.view(func(d *state) error {
		for _, p := range d.parties {
			b := p.Base()
			if b.Status == domain.PartyPending && !b.InviteExpiresAt.IsZero() && !b.InviteExpiresAt.After(before) {
				out = append(out, p)
			}
		}
		return nil
	})
	sortParties(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (d *state) withFragmentIndex(p domain.Party) domain.Party {
	g, ok := p.(domain.Guardian)
	if !ok {
		return p
	}
	for _, f := range d.fragments {
		if f.GuardianID == g.ID {
			g.FragmentIndex = f.Index
			break
		}
	}
	return g
}

func sortParties(parties []domain.Party) {
	sort.SliceStable(parties, func(i, j int) bool {
		a, b := parties[i].Base(), parties[j].Base()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Fragments

func (s *Store) CreateFragment(_ context.Context, f domain.Fragment) (domain.Fragment, error) {
	err := s.view(func(d *state) error {
		for _, existing := range d.fragments {
			if existing.GuardianID == f.GuardianID {
				return fmt.Errorf("%w: guardian %s already holds a fragment", domain.ErrConflict, f.GuardianID)
			}
			if existing.VaultID == f.VaultID && existing.Index == f.Index {
				return fmt.Errorf("%w: fragment index %d is taken", domain.ErrConflict, f.Index)
			}
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		d.fragments[f.ID] = f
		return nil
	})
	return f, err
}

func (s *Store) ListFragments(_ context.Context, vaultID string) ([]domain.Fragment, error) {
	var out []domain.Fragment
	err := s.view(func(d *state) error {
		for _, f := range d.fragments {
			if f.VaultID == vaultID {
				out = append(out, f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, err
}

func (s *Store) DeleteFragmentByGuardian(_ context.Context, guardianID string) error {
	return s.view(func(d *state) error {
		for id, f := range d.fragments {
			if f.GuardianID == guardianID {
				delete(d.fragments, id)
			}
		}
		return nil
	})
}

// Claims

func (s *Store) CreateClaim(_ context.Context, c domain.Claim) (domain.Claim, error) {
	err := s.view(func(d *state) error {
		if _, ok := d.vaults[c.VaultID]; !ok {
			return notFound("vault", c.VaultID)
		}
		if c.Status.Open() {
			for _, existing := range d.claims {
				if existing.VaultID == c.VaultID && existing.Status.Open() {
					return fmt.Errorf("%w: vault %s already has an open claim", domain.ErrConflict, c.VaultID)
				}
			}
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		d.claims[c.ID] = c
		return nil
	})
	return c, err
}

func (s *Store) GetClaim(_ context.Context, id string) (domain.Claim, error) {
	var out domain.Claim
	err := s.view(func(d *state) error {
		c, ok := d.claims[id]
		if !ok {
			return notFound("claim", id)
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Store) LockClaim(ctx context.Context, id string) (domain.Claim, error) {
	return s.GetClaim(ctx, id)
}

func (s *Store) UpdateClaim(_ context.Context, c domain.Claim) error {
	return s.view(func(d *state) error {
		if _, ok := d.claims[c.ID]; !ok {
			return notFound("claim", c.ID)
		}
		d.claims[c.ID] = c
		return nil
	})
}

func (s *Store) ListClaimsByVault(_ context.Context, vaultID string) ([]domain.Claim, error) {
	var out []domain.Claim
	err := s.view(func(d *state) error {
		for _, c := range d.claims {
			if c.VaultID == vaultID {
				out = append(out, c)
			}
		}
		return nil
	})
	sortClaims(out)
	return out, err
}

func (s *Store) FindOpenClaim(_ context.Context, vaultID string) (domain.Claim, error) {
	var out domain.Claim
	err := s.view(func(d *state) error {
		for _, c := range d.claims {
			if c.VaultID == vaultID && c.Status.Open() {
				out = c
				return nil
			}
		}
		return notFound("open claim on vault", vaultID)
	})
	return out, err
}

func (s *Store) ListOpenClaimsDueBefore(_ context.Context, deadline time.Time, limit int) ([]domain.Claim, error) {
	var out []domain.Claim
	err := s.view(func(d *state) error {
		for _, c := range d.claims {
			if c.Status.Open() && !c.VotingDeadline.After(deadline) {
				out = append(out, c)
			}
		}
		return nil
	})
	sortClaims(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) ListOpenClaimIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	var out []string
	err := s.view(func(d *state) error {
		for id, c := range d.claims {
			if id > afterID && c.Status.Open() {
				out = append(out, id)
			}
		}
		return nil
	})
	return pageIDs(out, limit), err
}

func (s *Store) AddClaimFile(_ context.Context, f domain.ClaimFile) (domain.ClaimFile, error) {
	err := s.view(func(d *state) error {
		if _, ok := d.claims[f.ClaimID]; !ok {
			return notFound("claim", f.ClaimID)
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		d.files[f.ID] = f
		return nil
	})
	return f, err
}

func (s *Store) ListClaimFiles(_ context.Context, claimID string) ([]domain.ClaimFile, error) {
	var out []domain.ClaimFile
	err := s.view(func(d *state) error {
		for _, f := range d.files {
			if f.ClaimID == claimID {
				out = append(out, f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func sortClaims(claims []domain.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].ID < claims[j].ID
		}
		return claims[i].CreatedAt.Before(claims[j].CreatedAt)
	})
}

// Attestations

func attestationKey(kind domain.SubjectKind, subjectID, partyID string) string {
	return string(kind) + "|" + subjectID + "|" + partyID
}

func (s *Store) UpsertAttestation(_ context.Context, a domain.Attestation) (domain.Attestation, error) {
	err := s.view(func(d *state) error {
		key := attestationKey(a.SubjectKind, a.SubjectID, a.PartyID)
		if prev, ok := d.attestations[key]; ok {
			a.ID = prev.ID
			a.CreatedAt = prev.CreatedAt
		} else if a.ID == "" {
			a.ID = uuid.NewString()
		}
		d.attestations[key] = a
		return nil
	})
	return a, err
}

func (s *Store) ListAttestations(_ context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Attestation, error) {
	var out []domain.Attestation
	err := s.view(func(d *state) error {
		for _, a := range d.attestations {
			if a.SubjectKind == kind && a.SubjectID == subjectID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PartyID < out[j].PartyID })
	return out, err
}

// Recoveries

func (s *Store) CreateRecovery(_ context.Context, r domain.Recovery) (domain.Recovery, error) {
	err := s.view(func(d *state) error {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		keys := make([]domain.RecoveryKey, len(r.Keys))
		for i, k := range r.Keys {
			if k.ID == "" {
				k.ID = uuid.NewString()
			}
			k.RecoveryID = r.ID
			k.InviteToken = ""
			d.keys[k.ID] = k
			keys[i] = k
		}
		r.Keys = nil
		d.recoveries[r.ID] = r
		r.Keys = keys
		return nil
	})
	return r, err
}

func (s *Store) GetRecovery(_ context.Context, id string) (domain.Recovery, error) {
	var out domain.Recovery
	err := s.view(func(d *state) error {
		r, ok := d.recoveries[id]
		if !ok {
			return notFound("recovery", id)
		}
		for _, k := range d.keys {
			if k.RecoveryID == id {
				r.Keys = append(r.Keys, k)
			}
		}
		sort.Slice(r.Keys, func(i, j int) bool { return r.Keys[i].HolderContact < r.Keys[j].HolderContact })
		out = r
		return nil
	})
	return out, err
}

func (s *Store) LockRecovery(ctx context.Context, id string) (domain.Recovery, error) {
	return s.GetRecovery(ctx, id)
}

func (s *Store) UpdateRecovery(_ context.Context, r domain.Recovery) error {
	return s.view(func(d *state) error {
		if _, ok := d.recoveries[r.ID]; !ok {
			return notFound("recovery", r.ID)
		}
		r.Keys = nil
		d.recoveries[r.ID] = r
		return nil
	})
}

func (s *Store) ListRecoveryIDs(_ context.Context, statuses []domain.RecoveryStatus, afterID string, limit int) ([]string, error) {
	var out []string
	err := s.view(func(d *state) error {
		for id, r := range d.recoveries {
			if id > afterID && (len(statuses) == 0 || slices.Contains(statuses, r.Status)) {
				out = append(out, id)
			}
		}
		return nil
	})
	return pageIDs(out, limit), err
}

func (s *Store) UpdateRecoveryKey(_ context.Context, k domain.RecoveryKey) error {
	return s.view(func(d *state) error {
		prev, ok := d.keys[k.ID]
		if !ok {
			return notFound("recovery key", k.ID)
		}
		k.RecoveryID = prev.RecoveryID
		k.InviteToken = ""
		d.keys[k.ID] = k
		return nil
	})
}

// Audit

func (s *Store) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	var out domain.AuditEvent
	err := s.view(func(d *state) error {
		stream := d.audit[event.StreamID]
		var prev *domain.AuditEvent
		if n := len(stream); n > 0 {
			prev = &stream[n-1]
		}
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		sealed, err := event.Seal(prev)
		if err != nil {
			return err
		}
		d.audit[event.StreamID] = append(slices.Clip(stream), sealed)
		out = sealed
		return nil
	})
	return out, err
}

func (s *Store) ListByStream(_ context.Context, streamID string) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	err := s.view(func(d *state) error {
		out = slices.Clone(d.audit[streamID])
		return nil
	})
	return out, err
}
