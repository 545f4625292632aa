package usecase_test

import (
	"testing"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"
)

func TestCreateVaultValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		in   usecase.CreateVaultInput
	}{
		{"no owner", usecase.CreateVaultInput{CheckInIntervalDays: 30}},
		{"zero interval", usecase.CreateVaultInput{OwnerID: "o"}},
		{"negative grace", usecase.CreateVaultInput{OwnerID: "o", CheckInIntervalDays: 30, GracePeriodDays: -1}},
		{"small scheme", usecase.CreateVaultInput{OwnerID: "o", CheckInIntervalDays: 30, FragmentScheme: "2-of-2"}},
		{"bad contact", usecase.CreateVaultInput{OwnerID: "o", CheckInIntervalDays: 30, OwnerContact: "nobody"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.monitor.CreateVault(f.ctx, tc.in)
			expectErr(t, err, domain.ErrValidation)
		})
	}
}

func TestSweepMovesThroughWarningAndCritical(t *testing.T) {
	f := newFixture(t)
	v := f.createVault("2-of-3", 10, 5)

	f.advance(days(10))
	report, err := f.monitor.Sweep(f.ctx)
	if err != nil || report.Changed != 1 {
		t.Fatalf("first sweep: %+v err=%v", report, err)
	}
	got, _ := f.store.GetVault(f.ctx, v.ID)
	if got.Status != domain.VaultWarning {
		t.Fatalf("expected warning, got %s", got.Status)
	}

	report, err = f.monitor.Sweep(f.ctx)
	if err != nil || report.Changed != 0 {
		t.Fatalf("repeat sweep should change nothing: %+v err=%v", report, err)
	}

	f.advance(days(5))
	if _, err := f.monitor.Sweep(f.ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got, _ = f.store.GetVault(f.ctx, v.ID)
	if got.Status != domain.VaultCritical {
		t.Fatalf("expected critical, got %s", got.Status)
	}
	if len(f.notifier.reminders) != 2 {
		t.Fatalf("expected a reminder per transition, got %d", len(f.notifier.reminders))
	}
}

func TestCheckInResetsClock(t *testing.T) {
	f := newFixture(t)
	v := f.createVault("2-of-3", 10, 5)
	f.advance(days(12))

	_, err := f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{})
	expectErr(t, err, domain.ErrValidation)

	got, err := f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{Signature: "sig", IPAddress: "203.0.113.7"})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if got.Status != domain.VaultActive || !got.LastCheckInAt.Equal(f.now) || !got.NextCheckInDue.Equal(f.now.Add(days(10))) {
		t.Fatalf("unexpected vault after check-in %+v", got)
	}
	events, _ := f.store.ListByStream(f.ctx, v.ID)
	last := events[len(events)-1]
	if last.EventType != domain.AuditVaultCheckedIn || last.Payload["ip_hash"] == "203.0.113.7" {
		t.Fatalf("check-in audit event missing or leaks ip: %+v", last)
	}
}

func TestCheckInOnTriggeredVaultFails(t *testing.T) {
	f := newFixture(t)
	v, guardians, claim := f.criticalVaultWithClaim()
	for _, g := range guardians {
		if _, err := f.claims.RecordAttestation(f.ctx, claim.ID, g.ID, domain.DecisionApprove, "sig"); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	_, err := f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{Signature: "sig"})
	expectErr(t, err, domain.ErrPreconditionFailed)
	_, err = f.monitor.CancelVault(f.ctx, v.ID)
	expectErr(t, err, domain.ErrPreconditionFailed)
}

func TestCheckInSupersedesUnvotedClaim(t *testing.T) {
	f := newFixture(t)
	v, _, claim := f.criticalVaultWithClaim()
	if _, err := f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{Signature: "sig"}); err != nil {
		t.Fatalf("check in: %v", err)
	}
	got, _ := f.claims.GetClaim(f.ctx, claim.ID)
	if got.Status != domain.ClaimExpired {
		t.Fatalf("pending claim should expire on check-in, got %s", got.Status)
	}
}

func TestCheckInKeepsClaimUnderReview(t *testing.T) {
	f := newFixture(t)
	v, guardians, claim := f.criticalVaultWithClaim()
	if _, err := f.claims.RecordAttestation(f.ctx, claim.ID, guardians[0].ID, domain.DecisionApprove, "sig"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{Signature: "sig"}); err != nil {
		t.Fatalf("check in: %v", err)
	}
	got, _ := f.claims.GetClaim(f.ctx, claim.ID)
	if got.Status != domain.ClaimUnderReview {
		t.Fatalf("claim under review must continue, got %s", got.Status)
	}

	// the review still decides: approval triggers even though the owner checked in
	for _, g := range guardians[1:] {
		if _, err := f.claims.RecordAttestation(f.ctx, claim.ID, g.ID, domain.DecisionApprove, "sig"); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	vault, _ := f.store.GetVault(f.ctx, v.ID)
	if vault.Status != domain.VaultTriggered {
		t.Fatalf("expected triggered, got %s", vault.Status)
	}
}

func TestCancelVault(t *testing.T) {
	f := newFixture(t)
	v, _, claim := f.criticalVaultWithClaim()
	got, err := f.monitor.CancelVault(f.ctx, v.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.VaultCancelled || got.CancelledAt == nil {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if _, err := f.monitor.CancelVault(f.ctx, v.ID); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
	c, _ := f.claims.GetClaim(f.ctx, claim.ID)
	if c.Status != domain.ClaimExpired {
		t.Fatalf("open claim should close with the vault, got %s", c.Status)
	}
	_, err = f.monitor.CheckIn(f.ctx, v.ID, usecase.CheckInInput{Signature: "sig"})
	expectErr(t, err, domain.ErrPreconditionFailed)
	_, err = f.registry.AddGuardian(f.ctx, v.ID, usecase.GuardianInput{Name: "G", Contact: "g@example.com"})
	expectErr(t, err, domain.ErrPreconditionFailed)
}

func TestGetVaultComputesWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	v := f.createVault("2-of-3", 10, 5)
	f.advance(days(11))
	got, err := f.monitor.GetVault(f.ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.VaultWarning {
		t.Fatalf("expected computed warning, got %s", got.Status)
	}
	stored, _ := f.store.GetVault(f.ctx, v.ID)
	if stored.Status != domain.VaultActive {
		t.Fatalf("read must not persist, got %s", stored.Status)
	}
	_, err = f.monitor.GetVault(f.ctx, "missing")
	expectErr(t, err, domain.ErrNotFound)
}
