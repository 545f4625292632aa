package db

import (
	"context"

	"heirloom/internal/domain"

	"github.com/google/uuid"
)

// Fragments have no update path; a new holder means delete then create.

func (s *Store) CreateFragment(ctx context.Context, f domain.Fragment) (domain.Fragment, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Fragment{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	model := FragmentModel{
		ID:         f.ID,
		VaultID:    f.VaultID,
		GuardianID: f.GuardianID,
		Idx:        f.Index,
		Ciphertext: copyBytes(f.Ciphertext),
		Salt:       copyBytes(f.Salt),
		CreatedAt:  f.CreatedAt.UTC(),
	}
	if err := db.Create(&model).Error; err != nil {
		return domain.Fragment{}, mapErr(err, "fragment for guardian", f.GuardianID)
	}
	return fragmentFromModel(model), nil
}

func (s *Store) ListFragments(ctx context.Context, vaultID string) ([]domain.Fragment, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []FragmentModel
	if err := db.Where("vault_id = ?", vaultID).Order("idx ASC").Find(&models).Error; err != nil {
		return nil, mapErr(err, "vault", vaultID)
	}
	out := make([]domain.Fragment, 0, len(models))
	for _, m := range models {
		out = append(out, fragmentFromModel(m))
	}
	return out, nil
}

func (s *Store) DeleteFragmentByGuardian(ctx context.Context, guardianID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return mapErr(db.Where("guardian_id = ?", guardianID).Delete(&FragmentModel{}).Error, "fragment for guardian", guardianID)
}

func fragmentFromModel(m FragmentModel) domain.Fragment {
	return domain.Fragment{
		ID:         m.ID,
		VaultID:    m.VaultID,
		GuardianID: m.GuardianID,
		Index:      m.Idx,
		Ciphertext: copyBytes(m.Ciphertext),
		Salt:       copyBytes(m.Salt),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
