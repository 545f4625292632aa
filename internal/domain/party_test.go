package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidateContact(t *testing.T) {
	for _, ok := range []string{"alice@example.com", "+14155550123"} {
		if err := ValidateContact(ok); err != nil {
			t.Fatalf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "   ", "alice", "555-0123", "@example.com"} {
		if err := ValidateContact(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", bad, err)
		}
	}
}

func TestCanVote(t *testing.T) {
	active := PartyBase{Status: PartyActive}
	pending := PartyBase{Status: PartyPending}
	cases := []struct {
		party Party
		want  bool
	}{
		{party: Guardian{PartyBase: active}, want: true},
		{party: Attestor{PartyBase: active}, want: true},
		{party: Beneficiary{PartyBase: active}, want: false},
		{party: Guardian{PartyBase: pending}, want: false},
		{party: nil, want: false},
	}
	for i, tc := range cases {
		if got := CanVote(tc.party); got != tc.want {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
		}
	}
}

func TestInviteExpired(t *testing.T) {
	now := time.Now().UTC()
	if (PartyBase{}).InviteExpired(now) {
		t.Fatalf("zero expiry must not count as expired")
	}
	if !(PartyBase{InviteExpiresAt: now}).InviteExpired(now) {
		t.Fatalf("expiry at now must count as expired")
	}
	if (PartyBase{InviteExpiresAt: now.Add(time.Minute)}).InviteExpired(now) {
		t.Fatalf("future expiry must not count as expired")
	}
}

func TestValidateWalletAddress(t *testing.T) {
	if err := ValidateWalletAddress("0x52908400098527886E0F7030069857D2E4169EE7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateWalletAddress("0x123"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
