package domain

import "time"

type ClaimStatus string

const (
	ClaimPending     ClaimStatus = "pending"
	ClaimUnderReview ClaimStatus = "under_review"
	ClaimApproved    ClaimStatus = "approved"
	ClaimRejected    ClaimStatus = "rejected"
	ClaimExpired     ClaimStatus = "expired"
)

func (s ClaimStatus) Open() bool {
	return s == ClaimPending || s == ClaimUnderReview
}

type ClaimSource string

const (
	ClaimSourceOwner    ClaimSource = "owner"
	ClaimSourceGuardian ClaimSource = "guardian"
	ClaimSourceSignal   ClaimSource = "signal"
)

// Claim asserts that a vault owner has been unreachable. It is not a legal death determination.
type Claim struct {
	ID              string
	VaultID         string
	Claimant        string
	Reason          string
	Source          ClaimSource
	Status          ClaimStatus
	VotingDeadline  time.Time
	ReviewStartedAt *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ClaimFile struct {
	ID         string
	ClaimID    string
	Name       string
	MimeType   string
	SizeBytes  int64
	SHA256     string
	StorageKey string
	CreatedAt  time.Time
}

// InactivitySignal is a claim proposal from an external source such as a death index.
// It can only open a claim, never resolve one.
type InactivitySignal struct {
	Source     string
	VaultID    string
	Reference  string
	ObservedAt time.Time
}
