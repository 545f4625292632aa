// Package jwtauth turns HS256 bearer tokens into principals.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"heirloom/internal/config"
	"heirloom/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) {
		a.leeway = d
	}
}

func NewAuthenticator(cfg config.Config, opts ...Option) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 bytes")
	}
	a := &Authenticator{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.JWTIssuer),
		leeway: defaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Authenticator) Authenticate(_ context.Context, bearerToken string) (domain.Principal, error) {
	if bearerToken == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(bearerToken, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	principal := principalFromClaims(claims)
	if principal.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: sub claim required", domain.ErrUnauthorized)
	}
	return principal, nil
}

// Sign issues a token for subject. It backs the CLI token command and tests.
func (a *Authenticator) Sign(subject string, roles []string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func principalFromClaims(claims map[string]any) domain.Principal {
	principal := domain.Principal{RawClaims: claims}
	if subject, _ := claims["sub"].(string); subject != "" {
		principal.Subject = subject
	}
	principal.Roles = extractRoles(claims)
	return principal
}

// extractRoles accepts a flat "roles" claim as well as Keycloak-style realm and client roles.
func extractRoles(claims map[string]any) []string {
	roles := stringList(claims["roles"])
	if realmAccess, ok := claims["realm_access"].(map[string]any); ok {
		roles = append(roles, stringList(realmAccess["roles"])...)
	}
	if resourceAccess, ok := claims["resource_access"].(map[string]any); ok {
		for _, rawClient := range resourceAccess {
			client, ok := rawClient.(map[string]any)
			if !ok {
				continue
			}
			roles = append(roles, stringList(client["roles"])...)
		}
	}
	return dedupeStrings(roles)
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	}
	return nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
