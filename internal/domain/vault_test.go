package domain

import (
	"errors"
	"testing"
	"time"
)

func TestComputeVaultStatus(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := Vault{CheckInIntervalDays: 90, GracePeriodDays: 14, LastCheckInAt: last, Status: VaultActive}
	day := 24 * time.Hour

	cases := []struct {
		name   string
		after  time.Duration
		status VaultStatus
	}{
		{name: "inside interval", after: 89 * day, status: VaultActive},
		{name: "due exactly", after: 90 * day, status: VaultWarning},
		{name: "inside grace", after: 103 * day, status: VaultWarning},
		{name: "grace elapsed", after: 104 * day, status: VaultCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeVaultStatus(v, last.Add(tc.after)); got != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, got)
			}
		})
	}
}

func TestComputeVaultStatus_TerminalIsSticky(t *testing.T) {
	now := time.Now().UTC()
	for _, status := range []VaultStatus{VaultTriggered, VaultCancelled} {
		v := Vault{CheckInIntervalDays: 1, LastCheckInAt: now, Status: status}
		if got := ComputeVaultStatus(v, now); got != status {
			t.Fatalf("expected %s to stay, got %s", status, got)
		}
	}
}

func TestParseFragmentScheme(t *testing.T) {
	scheme, err := ParseFragmentScheme("2-of-3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scheme.Threshold != 2 || scheme.Total != 3 || scheme.String() != "2-of-3" {
		t.Fatalf("unexpected scheme %+v", scheme)
	}
	for _, raw := range []string{"", "3", "1-of-3", "2-of-2", "4-of-3", "a-of-b"} {
		if _, err := ParseFragmentScheme(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}
