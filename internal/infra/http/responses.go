package http

import (
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"
)

type vaultResponse struct {
	ID                  string  `json:"id"`
	OwnerID             string  `json:"owner_id"`
	CheckInIntervalDays int     `json:"check_in_interval_days"`
	GracePeriodDays     int     `json:"grace_period_days"`
	FragmentScheme      string  `json:"fragment_scheme"`
	Status              string  `json:"status"`
	LastCheckInAt       string  `json:"last_check_in_at"`
	NextCheckInDue      string  `json:"next_check_in_due"`
	TriggeredAt         *string `json:"triggered_at,omitempty"`
	CancelledAt         *string `json:"cancelled_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

type partyResponse struct {
	ID               string `json:"id"`
	VaultID          string `json:"vault_id"`
	Role             string `json:"role"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	InviteExpiresAt  string `json:"invite_expires_at,omitempty"`
	FragmentIndex    int    `json:"fragment_index,omitempty"`
	Organization     string `json:"organization,omitempty"`
	ShareBasisPoints int    `json:"share_basis_points,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type fragmentResponse struct {
	ID         string `json:"id"`
	GuardianID string `json:"guardian_id"`
	Index      int    `json:"index"`
}

type claimResponse struct {
	ID              string         `json:"id"`
	VaultID         string         `json:"vault_id"`
	Source          string         `json:"source"`
	Reason          string         `json:"reason,omitempty"`
	Status          string         `json:"status"`
	VotingDeadline  string         `json:"voting_deadline"`
	ReviewStartedAt *string        `json:"review_started_at,omitempty"`
	ResolvedAt      *string        `json:"resolved_at,omitempty"`
	CreatedAt       string         `json:"created_at"`
	Evidence        []fileResponse `json:"evidence,omitempty"`
}

type fileResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

type attestationResponse struct {
	PartyID   string `json:"party_id"`
	Role      string `json:"role"`
	Decision  string `json:"decision"`
	UpdatedAt string `json:"updated_at"`
}

type quorumResponse struct {
	Met        bool   `json:"met"`
	Rule       string `json:"rule"`
	Outcome    string `json:"outcome"`
	Required   int    `json:"required"`
	Eligible   int    `json:"eligible"`
	Approvals  int    `json:"approvals"`
	Rejections int    `json:"rejections"`
}

type decisionResponse struct {
	Attestation attestationResponse `json:"attestation"`
	Quorum      quorumResponse      `json:"quorum"`
	Resolved    bool                `json:"resolved"`
	ResolveErr  string              `json:"resolve_error,omitempty"`
}

type recoveryResponse struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	WalletAddress string                `json:"wallet_address"`
	Status        string                `json:"status"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	TriggeredAt   *string               `json:"triggered_at,omitempty"`
	UnlocksAt     *string               `json:"unlocks_at,omitempty"`
	CompletedAt   *string               `json:"completed_at,omitempty"`
	CancelledAt   *string               `json:"cancelled_at,omitempty"`
	CreatedAt     string                `json:"created_at"`
	Keys          []recoveryKeyResponse `json:"keys"`
}

type recoveryKeyResponse struct {
	ID              string  `json:"id"`
	HolderContact   string  `json:"holder_contact"`
	InviteExpiresAt string  `json:"invite_expires_at"`
	HasAttested     bool    `json:"has_attested"`
	AttestedAt      *string `json:"attested_at,omitempty"`
}

type auditEventResponse struct {
	Seq           int64          `json:"seq"`
	EventType     string         `json:"event_type"`
	ActorType     string         `json:"actor_type"`
	TargetID      string         `json:"target_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	PrevEventHash string         `json:"prev_event_hash"`
	EventHash     string         `json:"event_hash"`
	CreatedAt     string         `json:"created_at"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func buildVaultResponse(v domain.Vault) vaultResponse {
	return vaultResponse{
		ID:                  v.ID,
		OwnerID:             v.OwnerID,
		CheckInIntervalDays: v.CheckInIntervalDays,
		GracePeriodDays:     v.GracePeriodDays,
		FragmentScheme:      v.FragmentScheme,
		Status:              string(v.Status),
		LastCheckInAt:       formatTime(v.LastCheckInAt),
		NextCheckInDue:      formatTime(v.NextCheckInDue),
		TriggeredAt:         formatTimePtr(v.TriggeredAt),
		CancelledAt:         formatTimePtr(v.CancelledAt),
		CreatedAt:           formatTime(v.CreatedAt),
	}
}

// buildPartyResponse never echoes contact details or invite tokens.
func buildPartyResponse(p domain.Party) partyResponse {
	base := p.Base()
	out := partyResponse{
		ID:        base.ID,
		VaultID:   base.VaultID,
		Role:      string(p.Role()),
		Name:      base.Name,
		Status:    string(base.Status),
		CreatedAt: formatTime(base.CreatedAt),
	}
	if base.Status == domain.PartyPending {
		out.InviteExpiresAt = formatTime(base.InviteExpiresAt)
	}
	switch v := p.(type) {
	case domain.Guardian:
		out.FragmentIndex = v.FragmentIndex
	case domain.Attestor:
		out.Organization = v.Organization
	case domain.Beneficiary:
		out.ShareBasisPoints = v.ShareBasisPoints
	}
	return out
}

func buildPartyResponses(parties []domain.Party) []partyResponse {
	out := make([]partyResponse, 0, len(parties))
	for _, p := range parties {
		out = append(out, buildPartyResponse(p))
	}
	return out
}

func buildClaimResponse(cl domain.Claim, files []domain.ClaimFile) claimResponse {
	out := claimResponse{
		ID:              cl.ID,
		VaultID:         cl.VaultID,
		Source:          string(cl.Source),
		Reason:          cl.Reason,
		Status:          string(cl.Status),
		VotingDeadline:  formatTime(cl.VotingDeadline),
		ReviewStartedAt: formatTimePtr(cl.ReviewStartedAt),
		ResolvedAt:      formatTimePtr(cl.ResolvedAt),
		CreatedAt:       formatTime(cl.CreatedAt),
	}
	for _, f := range files {
		out.Evidence = append(out.Evidence, buildFileResponse(f))
	}
	return out
}

func buildFileResponse(f domain.ClaimFile) fileResponse {
	return fileResponse{
		ID:        f.ID,
		Name:      f.Name,
		MimeType:  f.MimeType,
		SizeBytes: f.SizeBytes,
		SHA256:    f.SHA256,
		CreatedAt: formatTime(f.CreatedAt),
	}
}

func buildAttestationResponse(a domain.Attestation) attestationResponse {
	return attestationResponse{
		PartyID:   a.PartyID,
		Role:      string(a.Role),
		Decision:  string(a.Decision),
		UpdatedAt: formatTime(a.UpdatedAt),
	}
}

func buildQuorumResponse(q domain.QuorumResult) quorumResponse {
	return quorumResponse{
		Met:        q.Met,
		Rule:       q.Rule,
		Outcome:    string(q.Outcome),
		Required:   q.Required,
		Eligible:   q.Tally.Eligible,
		Approvals:  q.Tally.Approvals,
		Rejections: q.Tally.Rejections,
	}
}

func buildDecisionResponse(res usecase.DecisionResult) decisionResponse {
	out := decisionResponse{
		Attestation: buildAttestationResponse(res.Attestation),
		Quorum:      buildQuorumResponse(res.Quorum),
		Resolved:    res.Fired,
	}
	if res.ResolveErr != nil {
		out.ResolveErr = "resolution deferred"
	}
	return out
}

func buildRecoveryResponse(r domain.Recovery) recoveryResponse {
	out := recoveryResponse{
		ID:            r.ID,
		UserID:        r.UserID,
		WalletAddress: r.WalletAddress,
		Status:        string(r.Status),
		CorrelationID: r.CorrelationID,
		TriggeredAt:   formatTimePtr(r.TriggeredAt),
		UnlocksAt:     formatTimePtr(r.UnlocksAt),
		CompletedAt:   formatTimePtr(r.CompletedAt),
		CancelledAt:   formatTimePtr(r.CancelledAt),
		CreatedAt:     formatTime(r.CreatedAt),
		Keys:          make([]recoveryKeyResponse, 0, len(r.Keys)),
	}
	for _, k := range r.Keys {
		out.Keys = append(out.Keys, buildRecoveryKeyResponse(k))
	}
	return out
}

func buildRecoveryKeyResponse(k domain.RecoveryKey) recoveryKeyResponse {
	return recoveryKeyResponse{
		ID:              k.ID,
		HolderContact:   k.HolderContact,
		InviteExpiresAt: formatTime(k.InviteExpiresAt),
		HasAttested:     k.HasAttested,
		AttestedAt:      formatTimePtr(k.AttestedAt),
	}
}

func buildAuditEventResponse(e domain.AuditEvent) auditEventResponse {
	return auditEventResponse{
		Seq:           e.Seq,
		EventType:     string(e.EventType),
		ActorType:     string(e.ActorType),
		TargetID:      e.TargetID,
		Payload:       e.Payload,
		PrevEventHash: e.PrevEventHash,
		EventHash:     e.EventHash,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
