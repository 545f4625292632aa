package domain

import "time"

type RecoveryStatus string

const (
	RecoveryActive    RecoveryStatus = "active"
	RecoveryTriggered RecoveryStatus = "triggered"
	RecoveryCompleted RecoveryStatus = "completed"
	RecoveryCancelled RecoveryStatus = "cancelled"
)

const (
	RecoveryKeyCount     = 3
	RecoveryKeyThreshold = 2
)

// Recovery is a wallet-credential recovery request attested by three designated key holders.
type Recovery struct {
	ID              string
	UserID          string
	WalletAddress   string
	EncryptedSecret []byte
	Status          RecoveryStatus
	CorrelationID   string
	TriggeredAt     *time.Time
	UnlocksAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Keys            []RecoveryKey
}

type RecoveryKey struct {
	ID              string
	RecoveryID      string
	HolderContact   string
	InviteToken     string
	InviteTokenHash string
	InviteExpiresAt time.Time
	HasAttested     bool
	Signature       string
	AttestedAt      *time.Time
}

// TimeLockElapsed reports whether a triggered recovery may be completed at now.
func (r Recovery) TimeLockElapsed(now time.Time) bool {
	if r.UnlocksAt == nil {
		return false
	}
	return !now.Before(*r.UnlocksAt)
}
