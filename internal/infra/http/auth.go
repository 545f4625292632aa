package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"heirloom/internal/domain"
	"heirloom/internal/infra/auth/rbac"
	"heirloom/internal/usecase"

	"github.com/gin-gonic/gin"
)

const principalContextKey = "principal"

var adminKeyPrincipal = domain.Principal{
	Subject: "admin-key",
	Roles:   []string{domain.RoleAdmin},
}

// requireAuth resolves the caller. With AUTH_MODE=none every request passes with an empty
// principal unless it presents a valid admin key.
func (s *Server) requireAuth(c *gin.Context) (domain.Principal, bool) {
	if s.adminKeyMatches(c) {
		c.Set(principalContextKey, adminKeyPrincipal)
		return adminKeyPrincipal, true
	}
	if s.cfg.AuthMode == "none" {
		return domain.Principal{}, true
	}
	if s.authInitErr != nil || s.authenticator == nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Principal{}, false
	}
	token := strings.TrimSpace(extractBearerToken(c.GetHeader("Authorization")))
	if token == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return domain.Principal{}, false
	}
	principal, err := s.authenticator.Authenticate(c.Request.Context(), token)
	if err != nil {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
		return domain.Principal{}, false
	}
	c.Set(principalContextKey, principal)
	return principal, true
}

func (s *Server) adminKeyMatches(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		return false
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) == 1
}

func (s *Server) authEnforced() bool {
	return s.cfg.AuthMode != "none"
}

func (s *Server) requireOwner(c *gin.Context, principal domain.Principal, ownerID string) bool {
	if !s.authEnforced() && !principal.IsAdmin() {
		return true
	}
	if err := s.authorizer.RequireOwner(principal, ownerID); err != nil {
		writeAuthzError(c, err)
		return false
	}
	return true
}

func (s *Server) requireParty(c *gin.Context, principal domain.Principal, partyID string) bool {
	if !s.authEnforced() && !principal.IsAdmin() {
		return true
	}
	if err := s.authorizer.RequireParty(principal, partyID); err != nil {
		writeAuthzError(c, err)
		return false
	}
	return true
}

// requireMember allows the owner, a party of the vault that has not declined, or an admin.
func (s *Server) requireMember(c *gin.Context, principal domain.Principal, vault domain.Vault) bool {
	if !s.authEnforced() && !principal.IsAdmin() {
		return true
	}
	members, err := s.svc.Registry.MemberIDs(c.Request.Context(), vault.ID)
	if err != nil {
		writeError(c, err)
		return false
	}
	if err := s.authorizer.RequireMember(principal, vault.OwnerID, members); err != nil {
		writeAuthzError(c, err)
		return false
	}
	return true
}

func (s *Server) requireAdmin(c *gin.Context, principal domain.Principal) bool {
	if !s.authEnforced() && principal.Subject == "" {
		return true
	}
	if err := s.authorizer.RequireAdmin(principal); err != nil {
		writeAuthzError(c, err)
		return false
	}
	return true
}

// actorContext tags the request context with who is acting, for the audit trail.
func actorContext(c *gin.Context, principal domain.Principal, as domain.AuditActorType) context.Context {
	actor := usecase.Actor{Type: as, ID: principal.Subject}
	if principal.IsAdmin() {
		actor.Type = domain.AuditActorAdmin
	}
	return usecase.WithActor(c.Request.Context(), actor)
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

func getPrincipal(c *gin.Context) (domain.Principal, bool) {
	raw, ok := c.Get(principalContextKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := raw.(domain.Principal)
	return principal, ok
}

func writeAuthzError(c *gin.Context, err error) {
	if authz, ok := rbac.IsAuthzError(err); ok {
		writeErrorCode(c, http.StatusForbidden, authz.Code, "forbidden")
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
}
