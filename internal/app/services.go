// Package app assembles the usecase services and the infrastructure they run on.
package app

import (
	"heirloom/internal/config"
	"heirloom/internal/domain"
	"heirloom/internal/logging"
	"heirloom/internal/usecase"
)

type Services struct {
	Monitor    *usecase.InactivityMonitor
	Registry   *usecase.GuardianRegistry
	Engine     *usecase.QuorumEngine
	Claims     *usecase.ClaimService
	Recoveries *usecase.RecoveryService
	Audit      usecase.AuditEventRepository
}

type Deps struct {
	Store    usecase.Store
	Locker   usecase.SubjectLocker
	Sharer   usecase.SecretSharer
	Sealer   usecase.FragmentSealer
	Evidence usecase.EvidenceStore
	Notifier usecase.Notifier
	// ClaimRule overrides the default 70% claim rule, e.g. with an OPA policy.
	ClaimRule domain.QuorumRule
	Clock     usecase.Clock
	Logger    logging.Logger
}

// NewServices wires every service against one store, locker and audit emitter.
func NewServices(cfg config.Config, deps Deps) *Services {
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	audit := usecase.NewAuditEmitter(deps.Clock)

	engine := usecase.NewQuorumEngine(deps.Store, deps.Locker, deps.Clock)
	engine.Logger = log.With("component", "quorum")

	monitor := usecase.NewInactivityMonitor(deps.Store, deps.Locker, deps.Clock)
	monitor.Notifier = deps.Notifier
	monitor.Audit = audit
	monitor.Logger = log.With("component", "inactivity")
	if cfg.SweepBatchSize > 0 {
		monitor.BatchSize = cfg.SweepBatchSize
	}

	registry := usecase.NewGuardianRegistry(deps.Store, deps.Locker, deps.Sharer, deps.Sealer, deps.Clock)
	registry.Notifier = deps.Notifier
	registry.Audit = audit
	registry.Logger = log.With("component", "registry")
	if ttl := cfg.InviteTTL(); ttl > 0 {
		registry.InviteTTL = ttl
	}

	claims := usecase.NewClaimService(deps.Store, engine, deps.Locker, deps.Evidence, deps.Clock)
	claims.Notifier = deps.Notifier
	claims.Audit = audit
	claims.Logger = log.With("component", "claims")
	claims.Release = usecase.BeneficiaryRelease{
		Store:    deps.Store,
		Notifier: deps.Notifier,
		Logger:   log.With("component", "release"),
	}
	if deps.ClaimRule != nil {
		claims.Rule = deps.ClaimRule
	}
	if window := cfg.ClaimVotingWindow(); window > 0 {
		claims.VotingWindow = window
	}
	if cfg.EvidenceMaxBytes > 0 {
		claims.MaxEvidenceBytes = int64(cfg.EvidenceMaxBytes)
	}
	if cfg.EvidenceS3Prefix != "" {
		claims.EvidencePrefix = cfg.EvidenceS3Prefix
	}

	recoveries := usecase.NewRecoveryService(deps.Store, engine, deps.Locker, deps.Clock)
	recoveries.Notifier = deps.Notifier
	recoveries.Audit = audit
	recoveries.Logger = log.With("component", "recovery")
	if ttl := cfg.RecoveryInviteTTL(); ttl > 0 {
		recoveries.InviteTTL = ttl
	}
	if lock := cfg.RecoveryTimeLock(); lock > 0 {
		recoveries.TimeLock = lock
	}

	return &Services{
		Monitor:    monitor,
		Registry:   registry,
		Engine:     engine,
		Claims:     claims,
		Recoveries: recoveries,
		Audit:      deps.Store,
	}
}
