package http

import (
	"context"
	"encoding/base64"
	"net/http"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"

	"github.com/gin-gonic/gin"
)

type createVaultRequest struct {
	OwnerID             string `json:"owner_id"`
	OwnerContact        string `json:"owner_contact" binding:"required"`
	CheckInIntervalDays int    `json:"check_in_interval_days" binding:"required,gte=1"`
	GracePeriodDays     int    `json:"grace_period_days" binding:"gte=0"`
	FragmentScheme      string `json:"fragment_scheme" binding:"required"`
}

type checkInRequest struct {
	Signature string `json:"signature" binding:"required"`
}

type distributeSecretRequest struct {
	SecretBase64 string `json:"secret_base64" binding:"required,base64"`
}

func (s *Server) handleCreateVault(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	var req createVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ownerID := req.OwnerID
	if s.authEnforced() && !principal.IsAdmin() {
		if ownerID != "" && ownerID != principal.Subject {
			writeErrorCode(c, http.StatusForbidden, "NOT_OWNER", "vaults can only be created for the caller")
			return
		}
		ownerID = principal.Subject
	}
	ctx := actorContext(c, principal, domain.AuditActorOwner)
	vault, err := s.svc.Monitor.CreateVault(ctx, usecase.CreateVaultInput{
		OwnerID:             ownerID,
		OwnerContact:        req.OwnerContact,
		CheckInIntervalDays: req.CheckInIntervalDays,
		GracePeriodDays:     req.GracePeriodDays,
		FragmentScheme:      req.FragmentScheme,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildVaultResponse(vault))
}

func (s *Server) handleGetVault(c *gin.Context) {
	_, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, buildVaultResponse(vault))
}

func (s *Server) handleCheckIn(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	if !s.throttle(c, "check_in") {
		return
	}
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	out, err := s.svc.Monitor.CheckIn(ctx, vault.ID, usecase.CheckInInput{
		Signature: req.Signature,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildVaultResponse(out))
}

func (s *Server) handleCancelVault(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	out, err := s.svc.Monitor.CancelVault(ctx, vault.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildVaultResponse(out))
}

func (s *Server) handleDistributeSecret(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	var req distributeSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	secret, err := base64.StdEncoding.DecodeString(req.SecretBase64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION_ERROR", "secret_base64 is not valid base64")
		return
	}
	fragments, err := s.svc.Registry.DistributeSecret(ctx, vault.ID, secret)
	clear(secret)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]fragmentResponse, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, fragmentResponse{ID: f.ID, GuardianID: f.GuardianID, Index: f.Index})
	}
	c.JSON(http.StatusCreated, gin.H{"fragments": out})
}

// handleVaultAudit lists the vault's audit chain and reports whether it verifies.
func (s *Server) handleVaultAudit(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	events, err := s.svc.Audit.ListByStream(ctx, vault.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	chainErr := usecase.VerifyAuditChain(ctx, s.svc.Audit, vault.ID)
	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, buildAuditEventResponse(e))
	}
	resp := gin.H{"events": out, "chain_valid": chainErr == nil}
	if chainErr != nil {
		resp["chain_error"] = chainErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ownerContext authenticates the caller, loads the vault and checks ownership. The returned
// context carries the owner as audit actor.
func (s *Server) ownerContext(c *gin.Context, vaultID string) (context.Context, domain.Vault, bool) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return nil, domain.Vault{}, false
	}
	vault, err := s.svc.Monitor.GetVault(c.Request.Context(), vaultID)
	if err != nil {
		writeError(c, err)
		return nil, domain.Vault{}, false
	}
	if !s.requireOwner(c, principal, vault.OwnerID) {
		return nil, domain.Vault{}, false
	}
	if principal.Subject == "" {
		principal.Subject = vault.OwnerID
	}
	return actorContext(c, principal, domain.AuditActorOwner), vault, true
}
