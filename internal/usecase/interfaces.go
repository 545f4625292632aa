package usecase

import (
	"context"
	"io"
	"time"

	"heirloom/internal/domain"
)

type VaultRepository interface {
	CreateVault(ctx context.Context, v domain.Vault) (domain.Vault, error)
	GetVault(ctx context.Context, id string) (domain.Vault, error)
	// LockVault reads the vault and holds a row lock until the surrounding transaction ends.
	LockVault(ctx context.Context, id string) (domain.Vault, error)
	UpdateVault(ctx context.Context, v domain.Vault) error
	// ListVaultIDs pages through vaults in the given statuses ordered by id, starting after afterID.
	ListVaultIDs(ctx context.Context, statuses []domain.VaultStatus, afterID string, limit int) ([]string, error)
}

type PartyRepository interface {
	CreateParty(ctx context.Context, p domain.Party) (domain.Party, error)
	GetParty(ctx context.Context, vaultID, partyID string) (domain.Party, error)
	GetPartyByInviteHash(ctx context.Context, tokenHash string) (domain.Party, error)
	ListParties(ctx context.Context, vaultID string) ([]domain.Party, error)
	UpdatePartyStatus(ctx context.Context, partyID string, status domain.PartyStatus, at time.Time) error
	DeleteParty(ctx context.Context, partyID string) error
	ListPendingInvitesExpiredBefore(ctx context.Context, before time.Time, limit int) ([]domain.Party, error)
}

// FragmentRepository is write-once storage: there is no update, only create and delete.
type FragmentRepository interface {
	CreateFragment(ctx context.Context, f domain.Fragment) (domain.Fragment, error)
	ListFragments(ctx context.Context, vaultID string) ([]domain.Fragment, error)
	DeleteFragmentByGuardian(ctx context.Context, guardianID string) error
}

type ClaimRepository interface {
	CreateClaim(ctx context.Context, c domain.Claim) (domain.Claim, error)
	GetClaim(ctx context.Context, id string) (domain.Claim, error)
	LockClaim(ctx context.Context, id string) (domain.Claim, error)
	UpdateClaim(ctx context.Context, c domain.Claim) error
	ListClaimsByVault(ctx context.Context, vaultID string) ([]domain.Claim, error)
	// FindOpenClaim returns the pending or under_review claim on a vault, or domain.ErrNotFound.
	FindOpenClaim(ctx context.Context, vaultID string) (domain.Claim, error)
	ListOpenClaimsDueBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.Claim, error)
	// ListOpenClaimIDs pages through pending and under_review claims ordered by id.
	ListOpenClaimIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	AddClaimFile(ctx context.Context, f domain.ClaimFile) (domain.ClaimFile, error)
	ListClaimFiles(ctx context.Context, claimID string) ([]domain.ClaimFile, error)
}

type AttestationRepository interface {
	// UpsertAttestation keeps one row per (kind, subject, party); a repeat vote overwrites it.
	UpsertAttestation(ctx context.Context, a domain.Attestation) (domain.Attestation, error)
	ListAttestations(ctx context.Context, kind domain.SubjectKind, subjectID string) ([]domain.Attestation, error)
}

type RecoveryRepository interface {
	// CreateRecovery persists the recovery together with its keys.
	CreateRecovery(ctx context.Context, r domain.Recovery) (domain.Recovery, error)
	GetRecovery(ctx context.Context, id string) (domain.Recovery, error)
	LockRecovery(ctx context.Context, id string) (domain.Recovery, error)
	UpdateRecovery(ctx context.Context, r domain.Recovery) error
	UpdateRecoveryKey(ctx context.Context, k domain.RecoveryKey) error
	ListRecoveryIDs(ctx context.Context, statuses []domain.RecoveryStatus, afterID string, limit int) ([]string, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListByStream(ctx context.Context, streamID string) ([]domain.AuditEvent, error)
}

// Store is the full persistence surface. WithTx runs fn against a transactional view;
// any error returned by fn rolls every write back.
type Store interface {
	VaultRepository
	PartyRepository
	FragmentRepository
	ClaimRepository
	AttestationRepository
	RecoveryRepository
	AuditEventRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// SubjectLocker serializes work on one vault, claim or recovery across processes.
type SubjectLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Notifier interface {
	SendInvite(ctx context.Context, contact, token string) error
	SendReminder(ctx context.Context, contact, message string) error
}

type SecretSharer interface {
	Split(secret []byte, threshold, total int) ([]domain.Share, error)
	Combine(shares []domain.Share) ([]byte, error)
	// ShareAt derives the share at x from at least threshold existing shares.
	ShareAt(shares []domain.Share, x byte) (domain.Share, error)
}

// FragmentSealer encrypts shares at rest. The seal is bound to vault, guardian and index.
type FragmentSealer interface {
	Seal(vaultID, guardianID string, index int, share []byte) (ciphertext, salt []byte, err error)
	Open(f domain.Fragment) ([]byte, error)
}

type EvidenceStore interface {
	Put(ctx context.Context, key, mimeType string, body io.Reader, size int64) error
}

// ReleaseHandler acts on an approved claim, e.g. hands the vault over to beneficiaries.
type ReleaseHandler interface {
	Release(ctx context.Context, vault domain.Vault, claim domain.Claim) error
}
