package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

type AuditActorType string

const (
	AuditChainVersion = "vault_audit_v1"

	AuditActorSystem AuditActorType = "system"
	AuditActorOwner  AuditActorType = "owner"
	AuditActorParty  AuditActorType = "party"
	AuditActorAdmin  AuditActorType = "admin"
	AuditActorSignal AuditActorType = "signal"
)

type AuditEventType string

const (
	AuditVaultCreated       AuditEventType = "vault_created"
	AuditVaultCheckedIn     AuditEventType = "vault_checked_in"
	AuditVaultStatusChanged AuditEventType = "vault_status_changed"
	AuditVaultCancelled     AuditEventType = "vault_cancelled"
	AuditSecretDistributed  AuditEventType = "secret_distributed"
	AuditPartyAdded         AuditEventType = "party_added"
	AuditPartyStatusChanged AuditEventType = "party_status_changed"
	AuditGuardianRemoved    AuditEventType = "guardian_removed"
	AuditGuardianReplaced   AuditEventType = "guardian_replaced"
	AuditClaimCreated       AuditEventType = "claim_created"
	AuditClaimEvidence      AuditEventType = "claim_evidence_attached"
	AuditClaimResolved      AuditEventType = "claim_resolved"
	AuditRecoveryCreated    AuditEventType = "recovery_created"
	AuditRecoveryTriggered  AuditEventType = "recovery_triggered"
	AuditRecoveryCompleted  AuditEventType = "recovery_completed"
	AuditRecoveryCancelled  AuditEventType = "recovery_cancelled"
)

// AuditEvent is one link in a per-stream hash chain. StreamID is the vault id, or the
// recovery id for recovery events, which live outside any vault.
type AuditEvent struct {
	ID            string
	StreamID      string
	Seq           int64
	EventType     AuditEventType
	Payload       map[string]any
	PayloadHash   string
	ActorType     AuditActorType
	ActorIDHash   string
	TargetID      string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}

// ZeroAuditHash is the prev hash of the first event in a stream.
const ZeroAuditHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditPayloadHash hashes the JSON form of payload. encoding/json sorts map keys, so
// the bytes are stable for the flat string maps the emitter produces.
func AuditPayloadHash(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(raw), nil
}

// ChainHash computes the event hash over the chain-relevant fields.
func (e AuditEvent) ChainHash() (string, error) {
	if e.StreamID == "" || e.EventType == "" {
		return "", errors.New("audit event missing stream_id or event_type")
	}
	if e.PayloadHash == "" || e.PrevEventHash == "" {
		return "", errors.New("audit event missing payload_hash or prev_event_hash")
	}
	raw, err := json.Marshal(map[string]any{
		"v":               AuditChainVersion,
		"stream_id":       e.StreamID,
		"seq":             e.Seq,
		"event_type":      string(e.EventType),
		"payload_hash":    e.PayloadHash,
		"prev_event_hash": e.PrevEventHash,
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return sha256Hex(raw), nil
}

// Seal fills payload hash, seq, prev hash and event hash for appending after prev.
// prev is nil for the first event in the stream.
func (e AuditEvent) Seal(prev *AuditEvent) (AuditEvent, error) {
	payloadHash, err := AuditPayloadHash(e.Payload)
	if err != nil {
		return AuditEvent{}, err
	}
	e.PayloadHash = payloadHash
	e.Seq = 1
	e.PrevEventHash = ZeroAuditHash
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevEventHash = prev.EventHash
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	hash, err := e.ChainHash()
	if err != nil {
		return AuditEvent{}, err
	}
	e.EventHash = hash
	return e, nil
}

func HashString(value string) string {
	if value == "" {
		return ""
	}
	return sha256Hex([]byte(value))
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
