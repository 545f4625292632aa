package usecase_test

import (
	"testing"

	"heirloom/internal/domain"
	"heirloom/internal/usecase"
)

func TestScenarioInactivityClaimTriggersVault(t *testing.T) {
	f := newFixture(t)
	v := f.createVault("2-of-3", 90, 14)
	guardians := f.activeGuardians(v.ID, 3)

	f.advance(days(104))
	got, err := f.monitor.RecomputeStatus(f.ctx, v.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got.Status != domain.VaultCritical {
		t.Fatalf("expected critical after 104 days, got %s", got.Status)
	}

	claim, err := f.claims.CreateClaim(f.ctx, usecase.CreateClaimInput{VaultID: v.ID, Claimant: guardians[0].ID})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	for i, g := range guardians {
		res, err := f.claims.RecordAttestation(f.ctx, claim.ID, g.ID, domain.DecisionApprove, "sig")
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		last := i == len(guardians)-1
		if res.Fired != last {
			t.Fatalf("vote %d fired=%v", i, res.Fired)
		}
		if !last && res.Quorum.Outcome != domain.OutcomeUndecided {
			t.Fatalf("vote %d: expected undecided, got %s", i, res.Quorum.Outcome)
		}
	}

	vault, err := f.monitor.GetVault(f.ctx, v.ID)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if vault.Status != domain.VaultTriggered || vault.TriggeredAt == nil {
		t.Fatalf("expected triggered vault, got %s", vault.Status)
	}
	resolved, err := f.claims.GetClaim(f.ctx, claim.ID)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if resolved.Status != domain.ClaimApproved || resolved.ResolvedAt == nil {
		t.Fatalf("expected approved claim, got %s", resolved.Status)
	}
	if f.release.count() != 1 {
		t.Fatalf("expected one release, got %d", f.release.count())
	}
	if err := usecase.VerifyAuditChain(f.ctx, f.store, v.ID); err != nil {
		t.Fatalf("audit chain: %v", err)
	}
}

func TestScenarioRecoveryTimeLock(t *testing.T) {
	f := newFixture(t)
	rec, err := f.recovery.CreateRecovery(f.ctx, usecase.CreateRecoveryInput{
		UserID:        "user-1",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Holders:       []string{"k1@example.com", "k2@example.com", "+14155550100"},
	})
	if err != nil {
		t.Fatalf("create recovery: %v", err)
	}
	if len(rec.Keys) != 3 || f.notifier.invites["k1@example.com"] != rec.Keys[0].InviteToken {
		t.Fatalf("expected 3 keys with invites sent, got %+v", rec.Keys)
	}

	if _, err := f.recovery.Attest(f.ctx, rec.ID, rec.Keys[0].InviteToken, "sig-1"); err != nil {
		t.Fatalf("attest key 1: %v", err)
	}
	mid, _ := f.recovery.GetRecovery(f.ctx, rec.ID)
	if mid.Status != domain.RecoveryActive {
		t.Fatalf("one attestation must not trigger, got %s", mid.Status)
	}
	key, err := f.recovery.Attest(f.ctx, rec.ID, rec.Keys[1].InviteToken, "sig-2")
	if err != nil {
		t.Fatalf("attest key 2: %v", err)
	}
	if !key.HasAttested || key.Signature != "sig-2" || key.AttestedAt == nil {
		t.Fatalf("key not marked attested: %+v", key)
	}
	triggered, _ := f.recovery.GetRecovery(f.ctx, rec.ID)
	if triggered.Status != domain.RecoveryTriggered || triggered.UnlocksAt == nil {
		t.Fatalf("expected triggered recovery, got %s", triggered.Status)
	}

	_, err = f.recovery.CompleteRecovery(f.ctx, rec.ID)
	expectErr(t, err, domain.ErrPreconditionFailed)

	f.advance(f.recovery.TimeLock)
	done, err := f.recovery.CompleteRecovery(f.ctx, rec.ID)
	if err != nil {
		t.Fatalf("complete after time lock: %v", err)
	}
	if done.Status != domain.RecoveryCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if err := usecase.VerifyAuditChain(f.ctx, f.store, rec.ID); err != nil {
		t.Fatalf("recovery audit chain: %v", err)
	}
}

func TestScenarioRemovalRefusedAtGuardianFloor(t *testing.T) {
	f := newFixture(t)
	v := f.createVault("2-of-3", 30, 7)
	guardians := f.activeGuardians(v.ID, 3)

	err := f.registry.RemoveGuardian(f.ctx, v.ID, guardians[2].ID)
	expectErr(t, err, domain.ErrInvariantViolation)
	if n := f.guardianCount(v.ID); n != 3 {
		t.Fatalf("guardian count changed to %d", n)
	}
}
