package jwtauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"heirloom/internal/config"
	"heirloom/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAuthenticator(t *testing.T, now time.Time) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(config.Config{JWTSecret: testSecret, JWTIssuer: "heirloom"}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func TestAuthenticateRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, now)
	token, err := a.Sign("user-1", []string{domain.RoleAdmin, domain.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	principal, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.Subject != "user-1" {
		t.Fatalf("subject = %q", principal.Subject)
	}
	if len(principal.Roles) != 1 || !principal.IsAdmin() {
		t.Fatalf("roles = %v", principal.Roles)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, now)

	expired, _ := newTestAuthenticator(t, now.Add(-2*time.Hour)).Sign("user-1", nil, time.Hour)

	otherIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "iss": "someone-else", "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "iss": "heirloom",
	}).SignedString([]byte(testSecret))

	wrongKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1", "iss": "heirloom", "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("ffffffffffffffffffffffffffffffff"))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "heirloom", "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"other issuer": otherIssuer,
		"no exp":       noExp,
		"wrong key":    wrongKey,
		"no subject":   noSubject,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestExtractRolesMergesSources(t *testing.T) {
	roles := extractRoles(map[string]any{
		"roles":        []any{"owner"},
		"realm_access": map[string]any{"roles": []any{domain.RoleAdmin, "owner"}},
		"resource_access": map[string]any{
			"heirloom": map[string]any{"roles": []any{"auditor"}},
		},
	})
	want := map[string]bool{"owner": true, domain.RoleAdmin: true, "auditor": true}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for _, r := range roles {
		if !want[r] {
			t.Fatalf("unexpected role %q", r)
		}
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(config.Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := NewAuthenticator(config.Config{JWTSecret: "short"}); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
