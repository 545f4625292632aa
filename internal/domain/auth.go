package domain

import "context"

const (
	RoleAdmin = "heirloom_admin"
	RoleOwner = "owner"
)

type Principal struct {
	Subject   string
	Roles     []string
	RawClaims map[string]any
}

func (p Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Principal, error)
}
