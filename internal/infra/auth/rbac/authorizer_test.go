package rbac

import (
	"errors"
	"testing"

	"heirloom/internal/domain"
)

func TestRequireOwner(t *testing.T) {
	a := NewAuthorizer()
	cases := []struct {
		name      string
		principal domain.Principal
		owner     string
		wantCode  string
		wantErr   error
	}{
		{name: "owner", principal: domain.Principal{Subject: "u1"}, owner: "u1"},
		{name: "admin", principal: domain.Principal{Subject: "ops", Roles: []string{domain.RoleAdmin}}, owner: "u1"},
		{name: "stranger", principal: domain.Principal{Subject: "u2"}, owner: "u1", wantCode: "NOT_OWNER", wantErr: domain.ErrForbidden},
		{name: "anonymous", principal: domain.Principal{}, owner: "u1", wantErr: domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.RequireOwner(tc.principal, tc.owner)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.wantCode != "" {
				authz, ok := IsAuthzError(err)
				if !ok || authz.Code != tc.wantCode {
					t.Fatalf("expected code %s, got %v", tc.wantCode, err)
				}
			}
		})
	}
}

func TestRequireParty(t *testing.T) {
	a := NewAuthorizer()
	if err := a.RequireParty(domain.Principal{Subject: "g1"}, "g1"); err != nil {
		t.Fatalf("party acting for itself: %v", err)
	}
	err := a.RequireParty(domain.Principal{Subject: "g2"}, "g1")
	if authz, ok := IsAuthzError(err); !ok || authz.Code != "NOT_PARTY" {
		t.Fatalf("expected NOT_PARTY, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	a := NewAuthorizer()
	err := a.RequireAdmin(domain.Principal{Subject: "u1", Roles: []string{domain.RoleOwner}})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := a.RequireAdmin(domain.Principal{Subject: "ops", Roles: []string{domain.RoleAdmin}}); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}
}

func TestRequireMember(t *testing.T) {
	a := NewAuthorizer()
	parties := []string{"g1", "g2"}
	cases := []struct {
		name      string
		principal domain.Principal
		wantCode  string
	}{
		{name: "owner", principal: domain.Principal{Subject: "u1"}},
		{name: "guardian", principal: domain.Principal{Subject: "g2"}},
		{name: "admin", principal: domain.Principal{Subject: "ops", Roles: []string{domain.RoleAdmin}}},
		{name: "stranger", principal: domain.Principal{Subject: "u2"}, wantCode: "NOT_MEMBER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.RequireMember(tc.principal, "u1", parties)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if authz, ok := IsAuthzError(err); !ok || authz.Code != tc.wantCode || !errors.Is(err, domain.ErrForbidden) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
	if err := a.RequireMember(domain.Principal{}, "u1", parties); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("anonymous caller: expected unauthorized, got %v", err)
	}
}
