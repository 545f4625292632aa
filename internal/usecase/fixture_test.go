package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/infra/lock"
	"heirloom/internal/infra/memstore"
	"heirloom/internal/infra/sealer"
	"heirloom/internal/infra/shamir"
	"heirloom/internal/usecase"
)

type recordingNotifier struct {
	mu        sync.Mutex
	invites   map[string]string
	reminders []string
}

func (n *recordingNotifier) SendInvite(_ context.Context, contact, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.invites == nil {
		n.invites = map[string]string{}
	}
	n.invites[contact] = token
	return nil
}

func (n *recordingNotifier) SendReminder(_ context.Context, contact, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, contact+": "+message)
	return nil
}

// flakySealer wraps the real sealer and fails Seal on demand.
type flakySealer struct {
	inner    *sealer.Sealer
	failSeal bool
}

func (s *flakySealer) Seal(vaultID, guardianID string, index int, share []byte) ([]byte, []byte, error) {
	if s.failSeal {
		return nil, nil, errors.New("sealer offline")
	}
	return s.inner.Seal(vaultID, guardianID, index, share)
}

func (s *flakySealer) Open(f domain.Fragment) ([]byte, error) {
	return s.inner.Open(f)
}

type memoryEvidence struct {
	objects map[string][]byte
}

func (e *memoryEvidence) Put(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if e.objects == nil {
		e.objects = map[string][]byte{}
	}
	e.objects[key] = data
	return nil
}

type recordingRelease struct {
	mu     sync.Mutex
	claims []string
}

func (r *recordingRelease) Release(_ context.Context, _ domain.Vault, claim domain.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, claim.ID)
	return nil
}

func (r *recordingRelease) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

var errTransient = errors.New("transient db error")

// storeFaults arms one-shot write failures keyed on the status being written.
type storeFaults struct {
	mu            sync.Mutex
	vaultStatus   domain.VaultStatus
	vaultFails    int
	recoveryState domain.RecoveryStatus
	recoveryFails int
}

func (f *storeFaults) failVault(status domain.VaultStatus, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vaultStatus, f.vaultFails = status, times
}

func (f *storeFaults) failRecovery(status domain.RecoveryStatus, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveryState, f.recoveryFails = status, times
}

func (f *storeFaults) takeVault(status domain.VaultStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vaultFails == 0 || status != f.vaultStatus {
		return false
	}
	f.vaultFails--
	return true
}

func (f *storeFaults) takeRecovery(status domain.RecoveryStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recoveryFails == 0 || status != f.recoveryState {
		return false
	}
	f.recoveryFails--
	return true
}

// faultyStore wraps a store, including the views handed out by WithTx, and fails armed writes.
type faultyStore struct {
	usecase.Store
	faults *storeFaults
}

func (s faultyStore) WithTx(ctx context.Context, fn func(tx usecase.Store) error) error {
	return s.Store.WithTx(ctx, func(tx usecase.Store) error {
		return fn(faultyStore{Store: tx, faults: s.faults})
	})
}

func (s faultyStore) UpdateVault(ctx context.Context, v domain.Vault) error {
	if s.faults.takeVault(v.Status) {
		return errTransient
	}
	return s.Store.UpdateVault(ctx, v)
}

func (s faultyStore) UpdateRecovery(ctx context.Context, r domain.Recovery) error {
	if s.faults.takeRecovery(r.Status) {
		return errTransient
	}
	return s.Store.UpdateRecovery(ctx, r)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	store    *memstore.Store
	faults   *storeFaults
	notifier *recordingNotifier
	sealer   *flakySealer
	evidence *memoryEvidence
	release  *recordingRelease
	monitor  *usecase.InactivityMonitor
	registry *usecase.GuardianRegistry
	engine   *usecase.QuorumEngine
	claims   *usecase.ClaimService
	recovery *usecase.RecoveryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inner, err := sealer.New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		store:    memstore.New(),
		faults:   &storeFaults{},
		notifier: &recordingNotifier{},
		sealer:   &flakySealer{inner: inner},
		evidence: &memoryEvidence{},
		release:  &recordingRelease{},
	}
	locker := lock.NewMemory()
	audit := usecase.NewAuditEmitter(f.clock)
	store := faultyStore{Store: f.store, faults: f.faults}

	f.monitor = usecase.NewInactivityMonitor(store, locker, f.clock)
	f.monitor.Notifier = f.notifier
	f.monitor.Audit = audit

	f.registry = usecase.NewGuardianRegistry(store, locker, shamir.New(), f.sealer, f.clock)
	f.registry.Notifier = f.notifier
	f.registry.Audit = audit

	f.engine = usecase.NewQuorumEngine(store, locker, f.clock)

	f.claims = usecase.NewClaimService(store, f.engine, locker, f.evidence, f.clock)
	f.claims.Release = f.release
	f.claims.Audit = audit
	f.claims.MaxEvidenceBytes = 64

	f.recovery = usecase.NewRecoveryService(store, f.engine, locker, f.clock)
	f.recovery.Notifier = f.notifier
	f.recovery.Audit = audit
	f.recovery.TimeLock = 48 * time.Hour
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func (f *fixture) createVault(scheme string, interval, grace int) domain.Vault {
	f.t.Helper()
	v, err := f.monitor.CreateVault(f.ctx, usecase.CreateVaultInput{
		OwnerID:             "owner-1",
		OwnerContact:        "owner@example.com",
		CheckInIntervalDays: interval,
		GracePeriodDays:     grace,
		FragmentScheme:      scheme,
	})
	if err != nil {
		f.t.Fatalf("create vault: %v", err)
	}
	return v
}

// activeGuardians adds n guardians and accepts every invite.
func (f *fixture) activeGuardians(vaultID string, n int) []domain.Guardian {
	f.t.Helper()
	out := make([]domain.Guardian, 0, n)
	for i := 0; i < n; i++ {
		g, err := f.registry.AddGuardian(f.ctx, vaultID, usecase.GuardianInput{
			Name:    "Guardian",
			Contact: contact(i),
		})
		if err != nil {
			f.t.Fatalf("add guardian %d: %v", i, err)
		}
		if _, err := f.registry.AcceptInvite(f.ctx, g.InviteToken); err != nil {
			f.t.Fatalf("accept guardian %d: %v", i, err)
		}
		out = append(out, g)
	}
	return out
}

func contact(i int) string {
	return "guardian" + string(rune('a'+i)) + "@example.com"
}

func (f *fixture) guardianCount(vaultID string) int {
	f.t.Helper()
	parties, err := f.registry.ListByRole(f.ctx, vaultID, domain.RoleGuardian)
	if err != nil {
		f.t.Fatalf("list guardians: %v", err)
	}
	return len(parties)
}

func (f *fixture) fragments(vaultID string) []domain.Fragment {
	f.t.Helper()
	frags, err := f.store.ListFragments(f.ctx, vaultID)
	if err != nil {
		f.t.Fatalf("list fragments: %v", err)
	}
	return frags
}

// criticalVaultWithClaim builds a 2-of-3 vault with three active guardians, lets it go
// critical and opens a claim.
func (f *fixture) criticalVaultWithClaim() (domain.Vault, []domain.Guardian, domain.Claim) {
	f.t.Helper()
	v := f.createVault("2-of-3", 90, 14)
	guardians := f.activeGuardians(v.ID, 3)
	f.advance(days(104))
	claim, err := f.claims.CreateClaim(f.ctx, usecase.CreateClaimInput{
		VaultID:  v.ID,
		Claimant: guardians[0].ID,
		Reason:   "owner unreachable",
	})
	if err != nil {
		f.t.Fatalf("create claim: %v", err)
	}
	return v, guardians, claim
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
