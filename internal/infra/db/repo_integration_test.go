//go:build integration
// +build integration

package db

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/infra/lock"
	"heirloom/internal/infra/sealer"
	"heirloom/internal/infra/shamir"
	"heirloom/internal/usecase"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestVaultRepository_CreateLockUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v, err := store.CreateVault(ctx, testVault(now))
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	err = store.WithTx(ctx, func(tx usecase.Store) error {
		locked, err := tx.LockVault(ctx, v.ID)
		if err != nil {
			return err
		}
		locked.Status = domain.VaultWarning
		locked.UpdatedAt = now.Add(time.Hour)
		return tx.UpdateVault(ctx, locked)
	})
	if err != nil {
		t.Fatalf("update in tx: %v", err)
	}
	got, err := store.GetVault(ctx, v.ID)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if got.Status != domain.VaultWarning || !got.UpdatedAt.Equal(now.Add(time.Hour)) || !got.LastCheckInAt.Equal(now) {
		t.Fatalf("unexpected vault %+v", got)
	}

	ids, err := store.ListVaultIDs(ctx, []domain.VaultStatus{domain.VaultWarning}, "", 10)
	if err != nil || len(ids) != 1 || ids[0] != v.ID {
		t.Fatalf("list vault ids: %v %v", ids, err)
	}
	if _, err := store.GetVault(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	var createdID string
	err := store.WithTx(ctx, func(tx usecase.Store) error {
		v, err := tx.CreateVault(ctx, testVault(now))
		if err != nil {
			return err
		}
		createdID = v.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.GetVault(ctx, createdID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("vault survived rollback: %v", err)
	}
}

func TestPartyRepository_RoundTripVariants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	v, err := store.CreateVault(ctx, testVault(now))
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}

	g, err := store.CreateParty(ctx, domain.Guardian{PartyBase: testPartyBase(v.ID, "g@example.com", "hash-g", now)})
	if err != nil {
		t.Fatalf("create guardian: %v", err)
	}
	if _, err := store.CreateParty(ctx, domain.Attestor{PartyBase: testPartyBase(v.ID, "a@example.com", "hash-a", now.Add(time.Second)), Organization: "Notary"}); err != nil {
		t.Fatalf("create attestor: %v", err)
	}
	if _, err := store.CreateParty(ctx, domain.Beneficiary{PartyBase: testPartyBase(v.ID, "b@example.com", "", now.Add(2*time.Second)), ShareBasisPoints: 2500}); err != nil {
		t.Fatalf("create beneficiary: %v", err)
	}
	if _, err := store.CreateParty(ctx, domain.Guardian{PartyBase: testPartyBase(v.ID, "dup@example.com", "hash-g", now)}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected invite hash conflict, got %v", err)
	}

	if _, err := store.CreateFragment(ctx, domain.Fragment{
		VaultID: v.ID, GuardianID: g.Base().ID, Index: 2,
		Ciphertext: []byte{1, 2, 3}, Salt: []byte{4}, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create fragment: %v", err)
	}

	parties, err := store.ListParties(ctx, v.ID)
	if err != nil || len(parties) != 3 {
		t.Fatalf("list parties: %d %v", len(parties), err)
	}
	guardian, ok := parties[0].(domain.Guardian)
	if !ok || guardian.FragmentIndex != 2 {
		t.Fatalf("expected guardian holding index 2, got %#v", parties[0])
	}
	if a, ok := parties[1].(domain.Attestor); !ok || a.Organization != "Notary" {
		t.Fatalf("unexpected attestor %#v", parties[1])
	}
	if b, ok := parties[2].(domain.Beneficiary); !ok || b.ShareBasisPoints != 2500 {
		t.Fatalf("unexpected beneficiary %#v", parties[2])
	}

	byHash, err := store.GetPartyByInviteHash(ctx, "hash-g")
	if err != nil || byHash.Base().ID != g.Base().ID {
		t.Fatalf("get by invite hash: %v", err)
	}

	if err := store.DeleteFragmentByGuardian(ctx, g.Base().ID); err != nil {
		t.Fatalf("delete fragment: %v", err)
	}
	frags, _ := store.ListFragments(ctx, v.ID)
	if len(frags) != 0 {
		t.Fatalf("expected fragments gone, got %d", len(frags))
	}
}

func TestClaimRepository_OneOpenClaimPerVault(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	v, err := store.CreateVault(ctx, testVault(now))
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	c, err := store.CreateClaim(ctx, testClaim(v.ID, now))
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if _, err := store.CreateClaim(ctx, testClaim(v.ID, now)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on second open claim, got %v", err)
	}
	c.Status = domain.ClaimExpired
	c.ResolvedAt = &now
	if err := store.UpdateClaim(ctx, c); err != nil {
		t.Fatalf("close claim: %v", err)
	}
	if _, err := store.CreateClaim(ctx, testClaim(v.ID, now)); err != nil {
		t.Fatalf("claim after close: %v", err)
	}
	open, err := store.FindOpenClaim(ctx, v.ID)
	if err != nil || open.ID == c.ID {
		t.Fatalf("find open claim: %+v %v", open, err)
	}
}

func TestAttestationRepository_UpsertKeepsOneRow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	subject, party := uuid.NewString(), uuid.NewString()

	first, err := store.UpsertAttestation(ctx, domain.Attestation{
		SubjectKind: domain.SubjectClaim, SubjectID: subject, PartyID: party,
		Role: domain.RoleGuardian, Decision: domain.DecisionApprove, Signature: "one",
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := store.UpsertAttestation(ctx, domain.Attestation{
		SubjectKind: domain.SubjectClaim, SubjectID: subject, PartyID: party,
		Role: domain.RoleGuardian, Decision: domain.DecisionApprove, Signature: "two",
		CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(now) || second.Signature != "two" {
		t.Fatalf("expected in-place overwrite, got %+v", second)
	}
	list, err := store.ListAttestations(ctx, domain.SubjectClaim, subject)
	if err != nil || len(list) != 1 {
		t.Fatalf("list attestations: %d %v", len(list), err)
	}
}

func TestAuditEventRepository_AppendChainsPerStream(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	streamA, streamB := uuid.NewString(), uuid.NewString()
	for i, stream := range []string{streamA, streamA, streamB, streamA} {
		_, err := store.Append(ctx, domain.AuditEvent{
			StreamID:  stream,
			EventType: domain.AuditVaultCheckedIn,
			Payload:   map[string]any{"n": string(rune('a' + i))},
			ActorType: domain.AuditActorSystem,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	events, err := store.ListByStream(ctx, streamA)
	if err != nil || len(events) != 3 {
		t.Fatalf("list stream: %d %v", len(events), err)
	}
	if events[2].Seq != 3 || events[2].PrevEventHash != events[1].EventHash {
		t.Fatalf("chain not linked: %+v", events[2])
	}
	if err := usecase.VerifyAuditChain(ctx, store, streamA); err != nil {
		t.Fatalf("verify stream a: %v", err)
	}
	if err := usecase.VerifyAuditChain(ctx, store, streamB); err != nil {
		t.Fatalf("verify stream b: %v", err)
	}
	if err := store.db.Exec("UPDATE audit_events SET payload_hash = 'x' WHERE stream_id = ?", streamA).Error; err == nil {
		t.Fatalf("expected append-only trigger to refuse updates")
	}
}

func TestRecoveryRepository_KeysTravelWithRecovery(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec, err := store.CreateRecovery(ctx, domain.Recovery{
		UserID:        "user-1",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Status:        domain.RecoveryActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		Keys: []domain.RecoveryKey{
			{HolderContact: "c@example.com", InviteTokenHash: "h3", InviteExpiresAt: now.Add(time.Hour)},
			{HolderContact: "a@example.com", InviteTokenHash: "h1", InviteExpiresAt: now.Add(time.Hour)},
			{HolderContact: "b@example.com", InviteTokenHash: "h2", InviteExpiresAt: now.Add(time.Hour)},
		},
	})
	if err != nil {
		t.Fatalf("create recovery: %v", err)
	}
	key := rec.Keys[0]
	key.HasAttested = true
	key.Signature = "sig"
	key.AttestedAt = &now
	if err := store.UpdateRecoveryKey(ctx, key); err != nil {
		t.Fatalf("update key: %v", err)
	}
	err = store.WithTx(ctx, func(tx usecase.Store) error {
		locked, err := tx.LockRecovery(ctx, rec.ID)
		if err != nil {
			return err
		}
		if len(locked.Keys) != 3 || locked.Keys[0].HolderContact != "a@example.com" {
			t.Errorf("keys not loaded in order: %+v", locked.Keys)
		}
		locked.Status = domain.RecoveryCancelled
		locked.CancelledAt = &now
		return tx.UpdateRecovery(ctx, locked)
	})
	if err != nil {
		t.Fatalf("cancel in tx: %v", err)
	}
	got, err := store.GetRecovery(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get recovery: %v", err)
	}
	if got.Status != domain.RecoveryCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	attested := 0
	for _, k := range got.Keys {
		if k.HasAttested {
			attested++
		}
	}
	if attested != 1 {
		t.Fatalf("expected one attested key, got %d", attested)
	}
}

// TestClaimFlowAgainstPostgres runs the guardian vote to release path on the real schema.
func TestClaimFlowAgainstPostgres(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	seal, err := sealer.New(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	locker := lock.NewMemory()
	audit := usecase.NewAuditEmitter(clock)
	monitor := usecase.NewInactivityMonitor(store, locker, clock)
	monitor.Audit = audit
	registry := usecase.NewGuardianRegistry(store, locker, shamir.New(), seal, clock)
	registry.Audit = audit
	engine := usecase.NewQuorumEngine(store, locker, clock)
	claims := usecase.NewClaimService(store, engine, locker, nil, clock)
	claims.Audit = audit

	v, err := monitor.CreateVault(ctx, usecase.CreateVaultInput{OwnerID: "owner-1", CheckInIntervalDays: 30, GracePeriodDays: 7, FragmentScheme: "2-of-3"})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	var guardianIDs []string
	for _, c := range []string{"g1@example.com", "g2@example.com", "g3@example.com"} {
		g, err := registry.AddGuardian(ctx, v.ID, usecase.GuardianInput{Name: "G", Contact: c})
		if err != nil {
			t.Fatalf("add guardian: %v", err)
		}
		if _, err := registry.AcceptInvite(ctx, g.InviteToken); err != nil {
			t.Fatalf("accept: %v", err)
		}
		guardianIDs = append(guardianIDs, g.ID)
	}
	if _, err := registry.DistributeSecret(ctx, v.ID, []byte("seed")); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	now = now.Add(40 * 24 * time.Hour)
	claim, err := claims.CreateClaim(ctx, usecase.CreateClaimInput{VaultID: v.ID, Claimant: "family"})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	for _, id := range guardianIDs {
		if _, err := claims.RecordAttestation(ctx, claim.ID, id, domain.DecisionApprove, "sig"); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	got, err := store.GetVault(ctx, v.ID)
	if err != nil || got.Status != domain.VaultTriggered {
		t.Fatalf("expected triggered vault, got %s err=%v", got.Status, err)
	}
	if err := usecase.VerifyAuditChain(ctx, store, v.ID); err != nil {
		t.Fatalf("verify audit chain: %v", err)
	}
}

func testVault(now time.Time) domain.Vault {
	return domain.Vault{
		OwnerID:             "owner-" + uuid.NewString()[:8],
		CheckInIntervalDays: 30,
		GracePeriodDays:     7,
		FragmentScheme:      "2-of-3",
		Status:              domain.VaultActive,
		LastCheckInAt:       now,
		NextCheckInDue:      now.Add(30 * 24 * time.Hour),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func testPartyBase(vaultID, contact, hash string, now time.Time) domain.PartyBase {
	return domain.PartyBase{
		VaultID:         vaultID,
		Name:            contact,
		Contact:         contact,
		Status:          domain.PartyPending,
		InviteTokenHash: hash,
		InviteExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testClaim(vaultID string, now time.Time) domain.Claim {
	return domain.Claim{
		VaultID:        vaultID,
		Claimant:       "family",
		Source:         domain.ClaimSourceOwner,
		Status:         domain.ClaimPending,
		VotingDeadline: now.Add(14 * 24 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("HEIRLOOM_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("HEIRLOOM_TEST_POSTGRES_DSN not set")
	}
	if err := Migrate(context.Background(), dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, gdb)
	resetDB(t, gdb)
	return New(gdb)
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(424242)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(424242)")
		_ = conn.Close()
		_ = sqlDB.Close()
	})
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`
		TRUNCATE vaults,
			parties,
			fragments,
			claims,
			claim_files,
			attestations,
			recoveries,
			recovery_keys,
			audit_events,
			audit_stream_seq
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
