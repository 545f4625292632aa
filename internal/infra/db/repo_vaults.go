package db

import (
	"context"

	"heirloom/internal/domain"

	"github.com/google/uuid"
)

func (s *Store) CreateVault(ctx context.Context, v domain.Vault) (domain.Vault, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Vault{}, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	model := vaultModelFromDomain(v)
	if err := db.Create(&model).Error; err != nil {
		return domain.Vault{}, mapErr(err, "vault", v.ID)
	}
	return vaultFromModel(model), nil
}

func (s *Store) GetVault(ctx context.Context, id string) (domain.Vault, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Vault{}, err
	}
	var model VaultModel
	if err := db.Where("id = ?", id).Take(&model).Error; err != nil {
		return domain.Vault{}, mapErr(err, "vault", id)
	}
	return vaultFromModel(model), nil
}

func (s *Store) LockVault(ctx context.Context, id string) (domain.Vault, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Vault{}, err
	}
	var model VaultModel
	if err := forUpdate(db).Where("id = ?", id).Take(&model).Error; err != nil {
		return domain.Vault{}, mapErr(err, "vault", id)
	}
	return vaultFromModel(model), nil
}

func (s *Store) UpdateVault(ctx context.Context, v domain.Vault) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	model := vaultModelFromDomain(v)
	res := db.Model(&VaultModel{}).Where("id = ?", v.ID).Select("*").Omit("id", "created_at").Updates(&model)
	if res.Error != nil {
		return mapErr(res.Error, "vault", v.ID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "vault", v.ID)
	}
	return nil
}

func (s *Store) ListVaultIDs(ctx context.Context, statuses []domain.VaultStatus, afterID string, limit int) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&VaultModel{}).Where("id::text > ?", afterID).Order("id::text ASC")
	if len(statuses) > 0 {
		raw := make([]string, len(statuses))
		for i, st := range statuses {
			raw[i] = string(st)
		}
		q = q.Where("status IN ?", raw)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func vaultModelFromDomain(v domain.Vault) VaultModel {
	return VaultModel{
		ID:                  v.ID,
		OwnerID:             v.OwnerID,
		OwnerContact:        v.OwnerContact,
		CheckInIntervalDays: v.CheckInIntervalDays,
		GracePeriodDays:     v.GracePeriodDays,
		FragmentScheme:      v.FragmentScheme,
		Status:              string(v.Status),
		LastCheckInAt:       v.LastCheckInAt.UTC(),
		NextCheckInDue:      v.NextCheckInDue.UTC(),
		TriggeredAt:         utcPtr(v.TriggeredAt),
		CancelledAt:         utcPtr(v.CancelledAt),
		CreatedAt:           v.CreatedAt.UTC(),
		UpdatedAt:           v.UpdatedAt.UTC(),
	}
}

func vaultFromModel(m VaultModel) domain.Vault {
	return domain.Vault{
		ID:                  m.ID,
		OwnerID:             m.OwnerID,
		OwnerContact:        m.OwnerContact,
		CheckInIntervalDays: m.CheckInIntervalDays,
		GracePeriodDays:     m.GracePeriodDays,
		FragmentScheme:      m.FragmentScheme,
		Status:              domain.VaultStatus(m.Status),
		LastCheckInAt:       m.LastCheckInAt.UTC(),
		NextCheckInDue:      m.NextCheckInDue.UTC(),
		TriggeredAt:         utcPtr(m.TriggeredAt),
		CancelledAt:         utcPtr(m.CancelledAt),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}
