package db

import (
	"context"
	"fmt"
	"time"

	"heirloom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateParty(ctx context.Context, p domain.Party) (domain.Party, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	model, err := partyModelFromDomain(p)
	if err != nil {
		return nil, err
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := db.Create(&model).Error; err != nil {
		return nil, mapErr(err, "party on vault", model.VaultID)
	}
	return partyFromModel(model, 0)
}

func (s *Store) GetParty(ctx context.Context, vaultID, partyID string) (domain.Party, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var model PartyModel
	if err := db.Where("id = ? AND vault_id = ?", partyID, vaultID).Take(&model).Error; err != nil {
		return nil, mapErr(err, "party", partyID)
	}
	return s.withFragmentIndex(db, model)
}

func (s *Store) GetPartyByInviteHash(ctx context.Context, tokenHash string) (domain.Party, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if tokenHash == "" {
		return nil, fmt.Errorf("%w: invite", domain.ErrNotFound)
	}
	var model PartyModel
	if err := db.Where("invite_token_hash = ?", tokenHash).Take(&model).Error; err != nil {
		return nil, mapErr(err, "invite", "")
	}
	return s.withFragmentIndex(db, model)
}

func (s *Store) ListParties(ctx context.Context, vaultID string) ([]domain.Party, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []PartyModel
	if err := db.Where("vault_id = ?", vaultID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, mapErr(err, "vault", vaultID)
	}
	var frags []FragmentModel
	if err := db.Select("guardian_id", "idx").Where("vault_id = ?", vaultID).Find(&frags).Error; err != nil {
		return nil, err
	}
	indexes := make(map[string]int, len(frags))
	for _, f := range frags {
		indexes[f.GuardianID] = f.Idx
	}
	out := make([]domain.Party, 0, len(models))
	for _, m := range models {
		p, err := partyFromModel(m, indexes[m.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdatePartyStatus(ctx context.Context, partyID string, status domain.PartyStatus, at time.Time) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Model(&PartyModel{}).Where("id = ?", partyID).Updates(map[string]any{
		"status":     string(status),
		"updated_at": at.UTC(),
	})
	if res.Error != nil {
		return mapErr(res.Error, "party", partyID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "party", partyID)
	}
	return nil
}

func (s *Store) DeleteParty(ctx context.Context, partyID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Where("id = ?", partyID).Delete(&PartyModel{})
	if res.Error != nil {
		return mapErr(res.Error, "party", partyID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "party", partyID)
	}
	return nil
}

func (s *Store) ListPendingInvitesExpiredBefore(ctx context.Context, before time.Time, limit int) ([]domain.Party, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where("status = ? AND invite_expires_at IS NOT NULL AND invite_expires_at <= ?", string(domain.PartyPending), before.UTC()).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []PartyModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Party, 0, len(models))
	for _, m := range models {
		p, err := partyFromModel(m, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) withFragmentIndex(db *gorm.DB, model PartyModel) (domain.Party, error) {
	index := 0
	if model.Role == string(domain.RoleGuardian) {
		var idx []int
		if err := db.Model(&FragmentModel{}).Where("guardian_id = ?", model.ID).Pluck("idx", &idx).Error; err != nil {
			return nil, err
		}
		if len(idx) > 0 {
			index = idx[0]
		}
	}
	return partyFromModel(model, index)
}

func partyModelFromDomain(p domain.Party) (PartyModel, error) {
	b := p.Base()
	model := PartyModel{
		ID:              b.ID,
		VaultID:         b.VaultID,
		Role:            string(p.Role()),
		Name:            b.Name,
		Contact:         b.Contact,
		Status:          string(b.Status),
		InviteTokenHash: stringPtrIfNotEmpty(b.InviteTokenHash),
		InviteExpiresAt: timePtrIfNotZero(b.InviteExpiresAt),
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
	}
	switch v := p.(type) {
	case domain.Guardian:
	case domain.Attestor:
		model.Organization = stringPtrIfNotEmpty(v.Organization)
	case domain.Beneficiary:
		bps := v.ShareBasisPoints
		model.ShareBasisPoints = &bps
	default:
		return PartyModel{}, fmt.Errorf("%w: unknown party type %T", domain.ErrValidation, p)
	}
	return model, nil
}

func partyFromModel(m PartyModel, fragmentIndex int) (domain.Party, error) {
	base := domain.PartyBase{
		ID:              m.ID,
		VaultID:         m.VaultID,
		Name:            m.Name,
		Contact:         m.Contact,
		Status:          domain.PartyStatus(m.Status),
		InviteTokenHash: stringValue(m.InviteTokenHash),
		InviteExpiresAt: timeValue(m.InviteExpiresAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	switch domain.PartyRole(m.Role) {
	case domain.RoleGuardian:
		return domain.Guardian{PartyBase: base, FragmentIndex: fragmentIndex}, nil
	case domain.RoleAttestor:
		return domain.Attestor{PartyBase: base, Organization: stringValue(m.Organization)}, nil
	case domain.RoleBeneficiary:
		bps := 0
		if m.ShareBasisPoints != nil {
			bps = *m.ShareBasisPoints
		}
		return domain.Beneficiary{PartyBase: base, ShareBasisPoints: bps}, nil
	}
	return nil, fmt.Errorf("party %s has unknown role %q", m.ID, m.Role)
}
