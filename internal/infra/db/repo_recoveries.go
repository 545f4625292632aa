package db

import (
	"context"

	"heirloom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateRecovery inserts the recovery and its key rows atomically. Plain tokens are
// never stored; the returned keys carry no token.
func (s *Store) CreateRecovery(ctx context.Context, r domain.Recovery) (domain.Recovery, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	keys := make([]domain.RecoveryKey, len(r.Keys))
	err := s.atomic(ctx, func(tx *gorm.DB) error {
		model := recoveryModelFromDomain(r)
		if err := tx.Create(&model).Error; err != nil {
			return mapErr(err, "recovery", r.ID)
		}
		for i, k := range r.Keys {
			if k.ID == "" {
				k.ID = uuid.NewString()
			}
			k.RecoveryID = r.ID
			k.InviteToken = ""
			km := recoveryKeyModelFromDomain(k)
			if err := tx.Create(&km).Error; err != nil {
				return mapErr(err, "recovery key", k.HolderContact)
			}
			keys[i] = recoveryKeyFromModel(km)
		}
		return nil
	})
	if err != nil {
		return domain.Recovery{}, err
	}
	r.Keys = keys
	return r, nil
}

func (s *Store) GetRecovery(ctx context.Context, id string) (domain.Recovery, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Recovery{}, err
	}
	return loadRecovery(db, id, false)
}

func (s *Store) LockRecovery(ctx context.Context, id string) (domain.Recovery, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Recovery{}, err
	}
	return loadRecovery(db, id, true)
}

func loadRecovery(db *gorm.DB, id string, lock bool) (domain.Recovery, error) {
	q := db
	if lock {
		q = forUpdate(db)
	}
	var model RecoveryModel
	if err := q.Where("id = ?", id).Take(&model).Error; err != nil {
		return domain.Recovery{}, mapErr(err, "recovery", id)
	}
	var keyModels []RecoveryKeyModel
	if err := db.Where("recovery_id = ?", id).Order("holder_contact ASC").Find(&keyModels).Error; err != nil {
		return domain.Recovery{}, err
	}
	out := recoveryFromModel(model)
	for _, km := range keyModels {
		out.Keys = append(out.Keys, recoveryKeyFromModel(km))
	}
	return out, nil
}

func (s *Store) UpdateRecovery(ctx context.Context, r domain.Recovery) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	model := recoveryModelFromDomain(r)
	res := db.Model(&RecoveryModel{}).Where("id = ?", r.ID).Select("*").Omit("id", "user_id", "created_at").Updates(&model)
	if res.Error != nil {
		return mapErr(res.Error, "recovery", r.ID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "recovery", r.ID)
	}
	return nil
}

func (s *Store) UpdateRecoveryKey(ctx context.Context, k domain.RecoveryKey) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Model(&RecoveryKeyModel{}).Where("id = ?", k.ID).Updates(map[string]any{
		"has_attested": k.HasAttested,
		"signature":    k.Signature,
		"attested_at":  utcPtr(k.AttestedAt),
	})
	if res.Error != nil {
		return mapErr(res.Error, "recovery key", k.ID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "recovery key", k.ID)
	}
	return nil
}

func (s *Store) ListRecoveryIDs(ctx context.Context, statuses []domain.RecoveryStatus, afterID string, limit int) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&RecoveryModel{}).Where("id::text > ?", afterID).Order("id::text ASC")
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

func recoveryModelFromDomain(r domain.Recovery) RecoveryModel {
	return RecoveryModel{
		ID:              r.ID,
		UserID:          r.UserID,
		WalletAddress:   r.WalletAddress,
		EncryptedSecret: copyBytes(r.EncryptedSecret),
		Status:          string(r.Status),
		CorrelationID:   r.CorrelationID,
		TriggeredAt:     utcPtr(r.TriggeredAt),
		UnlocksAt:       utcPtr(r.UnlocksAt),
		CompletedAt:     utcPtr(r.CompletedAt),
		CancelledAt:     utcPtr(r.CancelledAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func recoveryFromModel(m RecoveryModel) domain.Recovery {
	return domain.Recovery{
		ID:              m.ID,
		UserID:          m.UserID,
		WalletAddress:   m.WalletAddress,
		EncryptedSecret: copyBytes(m.EncryptedSecret),
		Status:          domain.RecoveryStatus(m.Status),
		CorrelationID:   m.CorrelationID,
		TriggeredAt:     utcPtr(m.TriggeredAt),
		UnlocksAt:       utcPtr(m.UnlocksAt),
		CompletedAt:     utcPtr(m.CompletedAt),
		CancelledAt:     utcPtr(m.CancelledAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func recoveryKeyModelFromDomain(k domain.RecoveryKey) RecoveryKeyModel {
	return RecoveryKeyModel{
		ID:              k.ID,
		RecoveryID:      k.RecoveryID,
		HolderContact:   k.HolderContact,
		InviteTokenHash: k.InviteTokenHash,
		InviteExpiresAt: k.InviteExpiresAt.UTC(),
		HasAttested:     k.HasAttested,
		Signature:       k.Signature,
		AttestedAt:      utcPtr(k.AttestedAt),
	}
}

func recoveryKeyFromModel(m RecoveryKeyModel) domain.RecoveryKey {
	return domain.RecoveryKey{
		ID:              m.ID,
		RecoveryID:      m.RecoveryID,
		HolderContact:   m.HolderContact,
		InviteTokenHash: m.InviteTokenHash,
		InviteExpiresAt: m.InviteExpiresAt.UTC(),
		HasAttested:     m.HasAttested,
		Signature:       m.Signature,
		AttestedAt:      utcPtr(m.AttestedAt),
	}
}
