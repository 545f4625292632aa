package rbac

import (
	"errors"
	"slices"

	"heirloom/internal/domain"
)

type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Authorizer answers ownership questions. Admins pass every check.
type Authorizer struct {
	adminRole string
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{adminRole: domain.RoleAdmin}
}

// RequireOwner allows the vault owner or an admin.
func (a *Authorizer) RequireOwner(principal domain.Principal, ownerID string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if a.hasAdmin(principal) {
		return nil
	}
	if ownerID == "" || principal.Subject != ownerID {
		return &AuthzError{Code: "NOT_OWNER", Err: domain.ErrForbidden}
	}
	return nil
}

// RequireParty allows a party acting for itself, or an admin.
func (a *Authorizer) RequireParty(principal domain.Principal, partyID string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if a.hasAdmin(principal) {
		return nil
	}
	if partyID == "" || principal.Subject != partyID {
		return &AuthzError{Code: "NOT_PARTY", Err: domain.ErrForbidden}
	}
	return nil
}

// RequireMember allows the vault owner, one of the listed parties, or an admin.
func (a *Authorizer) RequireMember(principal domain.Principal, ownerID string, partyIDs []string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if a.hasAdmin(principal) || (ownerID != "" && principal.Subject == ownerID) {
		return nil
	}
	if slices.Contains(partyIDs, principal.Subject) {
		return nil
	}
	return &AuthzError{Code: "NOT_MEMBER", Err: domain.ErrForbidden}
}

func (a *Authorizer) RequireAdmin(principal domain.Principal) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if !a.hasAdmin(principal) {
		return &AuthzError{Code: "MISSING_ROLE", Err: domain.ErrForbidden}
	}
	return nil
}

func (a *Authorizer) hasAdmin(principal domain.Principal) bool {
	return hasRole(principal, a.adminRole)
}

func hasRole(principal domain.Principal, role string) bool {
	for _, r := range principal.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
