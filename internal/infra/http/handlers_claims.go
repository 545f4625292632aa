package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"

	"github.com/gin-gonic/gin"
)

type createClaimRequest struct {
	Claimant string `json:"claimant"`
	Reason   string `json:"reason"`
	Source   string `json:"source" binding:"omitempty,oneof=owner guardian"`
}

type attestationRequest struct {
	PartyID   string `json:"party_id" binding:"required"`
	Decision  string `json:"decision" binding:"required,oneof=approve reject"`
	Signature string `json:"signature" binding:"required"`
}

type signalRequest struct {
	Source     string    `json:"source" binding:"required"`
	VaultID    string    `json:"vault_id" binding:"required"`
	Reference  string    `json:"reference"`
	ObservedAt time.Time `json:"observed_at"`
}

// vaultMember authenticates the caller and loads a vault it owns or belongs to.
func (s *Server) vaultMember(c *gin.Context, vaultID string) (domain.Principal, domain.Vault, bool) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return domain.Principal{}, domain.Vault{}, false
	}
	vault, err := s.svc.Monitor.GetVault(c.Request.Context(), vaultID)
	if err != nil {
		writeError(c, err)
		return domain.Principal{}, domain.Vault{}, false
	}
	if !s.requireMember(c, principal, vault) {
		return domain.Principal{}, domain.Vault{}, false
	}
	return principal, vault, true
}

// claimMember is vaultMember keyed by a claim of the vault.
func (s *Server) claimMember(c *gin.Context, claimID string) (domain.Principal, domain.Claim, bool) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return domain.Principal{}, domain.Claim{}, false
	}
	ctx := c.Request.Context()
	claim, err := s.svc.Claims.GetClaim(ctx, claimID)
	if err != nil {
		writeError(c, err)
		return domain.Principal{}, domain.Claim{}, false
	}
	vault, err := s.svc.Monitor.GetVault(ctx, claim.VaultID)
	if err != nil {
		writeError(c, err)
		return domain.Principal{}, domain.Claim{}, false
	}
	if !s.requireMember(c, principal, vault) {
		return domain.Principal{}, domain.Claim{}, false
	}
	return principal, claim, true
}

func (s *Server) handleCreateClaim(c *gin.Context) {
	principal, vault, ok := s.vaultMember(c, c.Param("id"))
	if !ok {
		return
	}
	var req createClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBindError(c, err)
		return
	}
	claimant := req.Claimant
	if s.authEnforced() && !principal.IsAdmin() {
		claimant = principal.Subject
	}
	ctx := actorContext(c, principal, domain.AuditActorParty)
	claim, err := s.svc.Claims.CreateClaim(ctx, usecase.CreateClaimInput{
		VaultID:  vault.ID,
		Claimant: claimant,
		Reason:   req.Reason,
		Source:   domain.ClaimSource(req.Source),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildClaimResponse(claim, nil))
}

func (s *Server) handleListClaims(c *gin.Context) {
	_, vault, ok := s.vaultMember(c, c.Param("id"))
	if !ok {
		return
	}
	claims, err := s.svc.Claims.ListClaims(c.Request.Context(), vault.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]claimResponse, 0, len(claims))
	for _, cl := range claims {
		out = append(out, buildClaimResponse(cl, nil))
	}
	c.JSON(http.StatusOK, gin.H{"claims": out})
}

func (s *Server) handleGetClaim(c *gin.Context) {
	_, claim, ok := s.claimMember(c, c.Param("id"))
	if !ok {
		return
	}
	files, err := s.svc.Claims.ListEvidence(c.Request.Context(), claim.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildClaimResponse(claim, files))
}

// handleAttachEvidence takes a multipart upload in the "file" field.
func (s *Server) handleAttachEvidence(c *gin.Context) {
	principal, claim, ok := s.claimMember(c, c.Param("id"))
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION_ERROR", "multipart field \"file\" is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()
	ctx := actorContext(c, principal, domain.AuditActorParty)
	file, err := s.svc.Claims.AttachEvidence(ctx, claim.ID, usecase.EvidenceInput{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Content:  f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildFileResponse(file))
}

func (s *Server) handleClaimAttestation(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if !s.throttle(c, "vote") {
		return
	}
	var req attestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if !s.requireParty(c, principal, req.PartyID) {
		return
	}
	if principal.Subject == "" {
		principal.Subject = req.PartyID
	}
	ctx := actorContext(c, principal, domain.AuditActorParty)
	res, err := s.svc.Claims.RecordAttestation(ctx, c.Param("id"), req.PartyID, domain.Decision(req.Decision), req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildDecisionResponse(res))
}

func (s *Server) handleClaimQuorum(c *gin.Context) {
	_, claim, ok := s.claimMember(c, c.Param("id"))
	if !ok {
		return
	}
	ctx := c.Request.Context()
	result, err := s.svc.Claims.EvaluateQuorum(ctx, claim.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	attestations, err := s.svc.Claims.ListAttestations(ctx, claim.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	votes := make([]attestationResponse, 0, len(attestations))
	for _, a := range attestations {
		votes = append(votes, buildAttestationResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"quorum": buildQuorumResponse(result), "attestations": votes})
}

// handleSignal accepts inactivity signals from trusted integrations. It needs an admin.
func (s *Server) handleSignal(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if !s.requireAdmin(c, principal) {
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ctx := usecase.WithActor(c.Request.Context(), usecase.Actor{Type: domain.AuditActorSignal, ID: req.Source})
	claim, err := s.svc.Claims.ProposeFromSignal(ctx, domain.InactivitySignal{
		Source:     req.Source,
		VaultID:    req.VaultID,
		Reference:  req.Reference,
		ObservedAt: req.ObservedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildClaimResponse(claim, nil))
}
