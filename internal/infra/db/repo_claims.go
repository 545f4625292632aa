package db

import (
	"context"
	"time"

	"heirloom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

var openClaimStatuses = []string{string(domain.ClaimPending), string(domain.ClaimUnderReview)}

// CreateClaim relies on the partial unique index over open claims to reject a second one.
func (s *Store) CreateClaim(ctx context.Context, c domain.Claim) (domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	model := claimModelFromDomain(c)
	if err := db.Create(&model).Error; err != nil {
		return domain.Claim{}, mapErr(err, "claim on vault", c.VaultID)
	}
	return claimFromModel(model), nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	var model ClaimModel
	if err := db.Where("id = ?", id).Take(&model).Error; err != nil {
		return domain.Claim{}, mapErr(err, "claim", id)
	}
	return claimFromModel(model), nil
}

func (s *Store) LockClaim(ctx context.Context, id string) (domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	var model ClaimModel
	if err := forUpdate(db).Where("id = ?", id).Take(&model).Error; err != nil {
		return domain.Claim{}, mapErr(err, "claim", id)
	}
	return claimFromModel(model), nil
}

func (s *Store) UpdateClaim(ctx context.Context, c domain.Claim) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	model := claimModelFromDomain(c)
	res := db.Model(&ClaimModel{}).Where("id = ?", c.ID).Select("*").Omit("id", "vault_id", "created_at").Updates(&model)
	if res.Error != nil {
		return mapErr(res.Error, "claim", c.ID)
	}
	if res.RowsAffected == 0 {
		return mapErr(errNoRows, "claim", c.ID)
	}
	return nil
}

func (s *Store) ListClaimsByVault(ctx context.Context, vaultID string) ([]domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []ClaimModel
	if err := db.Where("vault_id = ?", vaultID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, mapErr(err, "vault", vaultID)
	}
	return claimsFromModels(models), nil
}

func (s *Store) FindOpenClaim(ctx context.Context, vaultID string) (domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	var model ClaimModel
	if err := db.Where("vault_id = ? AND status IN ?", vaultID, openClaimStatuses).Take(&model).Error; err != nil {
		return domain.Claim{}, mapErr(err, "open claim on vault", vaultID)
	}
	return claimFromModel(model), nil
}

func (s *Store) ListOpenClaimsDueBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Claim, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where("status IN ? AND voting_deadline <= ?", openClaimStatuses, deadline.UTC()).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []ClaimModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return claimsFromModels(models), nil
}

func (s *Store) ListOpenClaimIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&ClaimModel{}).
		Where("status IN ? AND id::text > ?", openClaimStatuses, afterID).
		Order("id::text ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) AddClaimFile(ctx context.Context, f domain.ClaimFile) (domain.ClaimFile, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.ClaimFile{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	model := ClaimFileModel{
		ID:         f.ID,
		ClaimID:    f.ClaimID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		SHA256:     f.SHA256,
		StorageKey: f.StorageKey,
		CreatedAt:  f.CreatedAt.UTC(),
	}
	if err := db.Create(&model).Error; err != nil {
		return domain.ClaimFile{}, mapErr(err, "claim", f.ClaimID)
	}
	f.CreatedAt = model.CreatedAt
	return f, nil
}

func (s *Store) ListClaimFiles(ctx context.Context, claimID string) ([]domain.ClaimFile, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []ClaimFileModel
	if err := db.Where("claim_id = ?", claimID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, mapErr(err, "claim", claimID)
	}
	out := make([]domain.ClaimFile, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ClaimFile{
			ID:         m.ID,
			ClaimID:    m.ClaimID,
			Name:       m.Name,
			MimeType:   m.MimeType,
			SizeBytes:  m.SizeBytes,
			SHA256:     m.SHA256,
			StorageKey: m.StorageKey,
			CreatedAt:  m.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// UpsertAttestation overwrites the decision of a repeat voter in place.
func (s *Store) UpsertAttestation(ctx context.Context, a domain.Attestation) (domain.Attestation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Attestation{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	model := AttestationModel{
		ID:          a.ID,
		SubjectKind: string(a.SubjectKind),
		SubjectID:   a.SubjectID,
		PartyID:     a.PartyID,
		Role:        string(a.Role),
		Decision:    string(a.Decision),
		Signature:   a.Signature,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_kind"}, {Name: "subject_id"}, {Name: "party_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "decision", "signature", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.Attestation{}, mapErr(err, "attestation on", a.SubjectID)
	}
	var stored AttestationModel
	if err := db.Where("subject_kind = ? AND subject_id = ? AND party_id = ?", model.SubjectKind, model.SubjectID, model.PartyID).
		Take(&stored).Error; err != nil {
		return domain.Attestation{}, mapErr(err, "attestation on", a.SubjectID)
	}
	return attestationFromModel(stored), nil
}

func (s *Store) ListAttestations(ctx context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Attestation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []AttestationModel
	if err := db.Where("subject_kind = ? AND subject_id = ?", string(kind), subjectID).
		Order("party_id::text ASC").Find(&models).Error; err != nil {
		return nil, mapErr(err, string(kind), subjectID)
	}
	out := make([]domain.Attestation, 0, len(models))
	for _, m := range models {
		out = append(out, attestationFromModel(m))
	}
	return out, nil
}

func claimModelFromDomain(c domain.Claim) ClaimModel {
	return ClaimModel{
		ID:              c.ID,
		VaultID:         c.VaultID,
		Claimant:        c.Claimant,
		Reason:          c.Reason,
		Source:          string(c.Source),
		Status:          string(c.Status),
		VotingDeadline:  c.VotingDeadline.UTC(),
		ReviewStartedAt: utcPtr(c.ReviewStartedAt),
		ResolvedAt:      utcPtr(c.ResolvedAt),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func claimFromModel(m ClaimModel) domain.Claim {
	return domain.Claim{
		ID:              m.ID,
		VaultID:         m.VaultID,
		Claimant:        m.Claimant,
		Reason:          m.Reason,
		Source:          domain.ClaimSource(m.Source),
		Status:          domain.ClaimStatus(m.Status),
		VotingDeadline:  m.VotingDeadline.UTC(),
		ReviewStartedAt: utcPtr(m.ReviewStartedAt),
		ResolvedAt:      utcPtr(m.ResolvedAt),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func claimsFromModels(models []ClaimModel) []domain.Claim {
	out := make([]domain.Claim, 0, len(models))
	for _, m := range models {
		out = append(out, claimFromModel(m))
	}
	return out
}

func attestationFromModel(m AttestationModel) domain.Attestation {
	return domain.Attestation{
		ID:          m.ID,
		SubjectKind: domain.SubjectKind(m.SubjectKind),
		SubjectID:   m.SubjectID,
		PartyID:     m.PartyID,
		Role:        domain.PartyRole(m.Role),
		Decision:    domain.Decision(m.Decision),
		Signature:   m.Signature,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}
