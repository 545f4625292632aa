package db

import "time"

type VaultModel struct {
	ID                  string    `gorm:"type:uuid;primaryKey"`
	OwnerID             string    `gorm:"index;not null"`
	OwnerContact        string    `gorm:"not null"`
	CheckInIntervalDays int       `gorm:"not null"`
	GracePeriodDays     int       `gorm:"not null"`
	FragmentScheme      string    `gorm:"not null"`
	Status              string    `gorm:"index;not null"`
	LastCheckInAt       time.Time `gorm:"not null"`
	NextCheckInDue      time.Time `gorm:"not null"`
	TriggeredAt         *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (VaultModel) TableName() string { return "vaults" }

// PartyModel stores every party variant; Role picks which optional columns apply.
type PartyModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	VaultID          string  `gorm:"type:uuid;index;not null"`
	Role             string  `gorm:"not null"`
	Name             string  `gorm:"not null"`
	Contact          string  `gorm:"not null"`
	Status           string  `gorm:"not null"`
	InviteTokenHash  *string `gorm:"uniqueIndex"`
	InviteExpiresAt  *time.Time
	Organization     *string
	ShareBasisPoints *int
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (PartyModel) TableName() string { return "parties" }

type FragmentModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	VaultID    string    `gorm:"type:uuid;not null"`
	GuardianID string    `gorm:"type:uuid;uniqueIndex;not null"`
	Idx        int       `gorm:"column:idx;not null"`
	Ciphertext []byte    `gorm:"type:bytea;not null"`
	Salt       []byte    `gorm:"type:bytea;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (FragmentModel) TableName() string { return "fragments" }

type ClaimModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	VaultID         string    `gorm:"type:uuid;index;not null"`
	Claimant        string    `gorm:"not null"`
	Reason          string    `gorm:"not null"`
	Source          string    `gorm:"not null"`
	Status          string    `gorm:"not null"`
	VotingDeadline  time.Time `gorm:"not null"`
	ReviewStartedAt *time.Time
	ResolvedAt      *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (ClaimModel) TableName() string { return "claims" }

type ClaimFileModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	ClaimID    string    `gorm:"type:uuid;index;not null"`
	Name       string    `gorm:"not null"`
	MimeType   string    `gorm:"not null"`
	SizeBytes  int64     `gorm:"not null"`
	SHA256     string    `gorm:"column:sha256;not null"`
	StorageKey string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ClaimFileModel) TableName() string { return "claim_files" }

type AttestationModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	SubjectKind string    `gorm:"not null"`
	SubjectID   string    `gorm:"type:uuid;not null"`
	PartyID     string    `gorm:"type:uuid;not null"`
	Role        string    `gorm:"not null"`
	Decision    string    `gorm:"not null"`
	Signature   string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (AttestationModel) TableName() string { return "attestations" }

type RecoveryModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	UserID          string `gorm:"index;not null"`
	WalletAddress   string `gorm:"not null"`
	EncryptedSecret []byte `gorm:"type:bytea"`
	Status          string `gorm:"not null"`
	CorrelationID   string `gorm:"not null"`
	TriggeredAt     *time.Time
	UnlocksAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (RecoveryModel) TableName() string { return "recoveries" }

type RecoveryKeyModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	RecoveryID      string    `gorm:"type:uuid;index;not null"`
	HolderContact   string    `gorm:"not null"`
	InviteTokenHash string    `gorm:"uniqueIndex;not null"`
	InviteExpiresAt time.Time `gorm:"not null"`
	HasAttested     bool      `gorm:"not null"`
	Signature       string    `gorm:"not null"`
	AttestedAt      *time.Time
}

func (RecoveryKeyModel) TableName() string { return "recovery_keys" }

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	StreamID      string    `gorm:"index:idx_audit_stream_seq,unique;not null"`
	Seq           int64     `gorm:"index:idx_audit_stream_seq,unique;not null"`
	EventType     string    `gorm:"not null"`
	PayloadJSON   []byte    `gorm:"column:payload_json;type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	ActorType     string    `gorm:"not null"`
	ActorIDHash   *string   `gorm:"column:actor_id_hash"`
	TargetID      *string   `gorm:"column:target_id"`
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

type AuditStreamSeqModel struct {
	StreamID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"not null"`
}

func (AuditStreamSeqModel) TableName() string { return "audit_stream_seq" }
