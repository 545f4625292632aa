package http

import (
	"context"
	"net/http"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"

	"github.com/gin-gonic/gin"
)

type guardianRequest struct {
	Name    string `json:"name" binding:"required"`
	Contact string `json:"contact" binding:"required"`
}

type attestorRequest struct {
	Name         string `json:"name" binding:"required"`
	Contact      string `json:"contact" binding:"required"`
	Organization string `json:"organization"`
}

type beneficiaryRequest struct {
	Name             string `json:"name" binding:"required"`
	Contact          string `json:"contact" binding:"required"`
	ShareBasisPoints int    `json:"share_basis_points" binding:"gte=0,lte=10000"`
}

func (s *Server) handleAddGuardian(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	var req guardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	g, err := s.svc.Registry.AddGuardian(ctx, vault.ID, usecase.GuardianInput{Name: req.Name, Contact: req.Contact})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildPartyResponse(g))
}

func (s *Server) handleAddAttestor(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	var req attestorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	a, err := s.svc.Registry.AddAttestor(ctx, vault.ID, usecase.AttestorInput{
		Name:         req.Name,
		Contact:      req.Contact,
		Organization: req.Organization,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildPartyResponse(a))
}

func (s *Server) handleAddBeneficiary(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	var req beneficiaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	b, err := s.svc.Registry.AddBeneficiary(ctx, vault.ID, usecase.BeneficiaryInput{
		Name:             req.Name,
		Contact:          req.Contact,
		ShareBasisPoints: req.ShareBasisPoints,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildPartyResponse(b))
}

func (s *Server) handleListParties(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	role := domain.PartyRole(c.DefaultQuery("role", string(domain.RoleGuardian)))
	parties, err := s.svc.Registry.ListByRole(ctx, vault.ID, role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parties": buildPartyResponses(parties)})
}

func (s *Server) handleRemoveGuardian(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	if err := s.svc.Registry.RemoveGuardian(ctx, vault.ID, c.Param("guardianId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReplaceGuardian(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	var req guardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	g, err := s.svc.Registry.ReplaceGuardian(ctx, vault.ID, c.Param("guardianId"), usecase.GuardianInput{
		Name:    req.Name,
		Contact: req.Contact,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildPartyResponse(g))
}

func (s *Server) handleMarkInactive(c *gin.Context) {
	ctx, vault, ok := s.ownerContext(c, c.Param("id"))
	if !ok {
		return
	}
	if err := s.svc.Registry.MarkInactive(ctx, vault.ID, c.Param("partyId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Invite answers authenticate with the token itself.
func (s *Server) handleAcceptInvite(c *gin.Context) {
	s.answerInvite(c, s.svc.Registry.AcceptInvite)
}

func (s *Server) handleDeclineInvite(c *gin.Context) {
	s.answerInvite(c, s.svc.Registry.DeclineInvite)
}

func (s *Server) answerInvite(c *gin.Context, answer func(ctx context.Context, token string) (domain.Party, error)) {
	ctx := usecase.WithActor(c.Request.Context(), usecase.Actor{Type: domain.AuditActorParty})
	party, err := answer(ctx, c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildPartyResponse(party))
}
