package http

import (
	"context"
	"encoding/base64"
	"net/http"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"

	"github.com/gin-gonic/gin"
)

type createRecoveryRequest struct {
	UserID                string   `json:"user_id"`
	WalletAddress         string   `json:"wallet_address" binding:"required"`
	Holders               []string `json:"holders" binding:"required"`
	EncryptedSecretBase64 string   `json:"encrypted_secret_base64" binding:"required,base64"`
	CorrelationID         string   `json:"correlation_id"`
}

type recoveryAttestationRequest struct {
	KeyToken  string `json:"key_token" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) handleCreateRecovery(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	var req createRecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	userID := req.UserID
	if s.authEnforced() && !principal.IsAdmin() {
		if userID != "" && userID != principal.Subject {
			writeErrorCode(c, http.StatusForbidden, "NOT_OWNER", "recoveries can only be opened for the caller")
			return
		}
		userID = principal.Subject
	}
	secret, err := base64.StdEncoding.DecodeString(req.EncryptedSecretBase64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION_ERROR", "encrypted_secret_base64 is not valid base64")
		return
	}
	ctx := actorContext(c, principal, domain.AuditActorOwner)
	rec, err := s.svc.Recoveries.CreateRecovery(ctx, usecase.CreateRecoveryInput{
		UserID:          userID,
		WalletAddress:   req.WalletAddress,
		Holders:         req.Holders,
		EncryptedSecret: secret,
		CorrelationID:   req.CorrelationID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildRecoveryResponse(rec))
}

func (s *Server) handleGetRecovery(c *gin.Context) {
	_, rec, ok := s.recoveryOwnerContext(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, buildRecoveryResponse(rec))
}

// handleRecoveryAttestation authenticates the key holder by its invite token.
func (s *Server) handleRecoveryAttestation(c *gin.Context) {
	if !s.throttle(c, "vote") {
		return
	}
	var req recoveryAttestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ctx := usecase.WithActor(c.Request.Context(), usecase.Actor{Type: domain.AuditActorParty, ID: domain.HashString(req.KeyToken)})
	key, err := s.svc.Recoveries.Attest(ctx, c.Param("id"), req.KeyToken, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := s.svc.Recoveries.GetRecovery(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":      buildRecoveryKeyResponse(key),
		"recovery": gin.H{"id": rec.ID, "status": string(rec.Status), "unlocks_at": formatTimePtr(rec.UnlocksAt)},
	})
}

func (s *Server) handleCompleteRecovery(c *gin.Context) {
	s.transitionRecovery(c, s.svc.Recoveries.CompleteRecovery)
}

func (s *Server) handleCancelRecovery(c *gin.Context) {
	s.transitionRecovery(c, s.svc.Recoveries.CancelRecovery)
}

func (s *Server) transitionRecovery(c *gin.Context, apply func(ctx context.Context, recoveryID string) (domain.Recovery, error)) {
	ctx, rec, ok := s.recoveryOwnerContext(c, c.Param("id"))
	if !ok {
		return
	}
	out, err := apply(ctx, rec.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildRecoveryResponse(out))
}

func (s *Server) recoveryOwnerContext(c *gin.Context, recoveryID string) (context.Context, domain.Recovery, bool) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return nil, domain.Recovery{}, false
	}
	rec, err := s.svc.Recoveries.GetRecovery(c.Request.Context(), recoveryID)
	if err != nil {
		writeError(c, err)
		return nil, domain.Recovery{}, false
	}
	if !s.requireOwner(c, principal, rec.UserID) {
		return nil, domain.Recovery{}, false
	}
	if principal.Subject == "" {
		principal.Subject = rec.UserID
	}
	return actorContext(c, principal, domain.AuditActorOwner), rec, true
}
