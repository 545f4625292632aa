package app

import (
	"context"
	"errors"
	"time"

	"heirloom/internal/logging"
	"heirloom/internal/usecase"
)

type SweepSummary struct {
	Vaults         usecase.SweepReport
	Claims         usecase.ClaimSweepReport
	Recoveries     usecase.RecoverySweepReport
	InvitesExpired int
}

// SweepAll runs the vault, claim, recovery and invite sweeps in that order. A failing sweep does
// not stop the later ones; their errors are joined.
func (s *Services) SweepAll(ctx context.Context, batch int) (SweepSummary, error) {
	var (
		out  SweepSummary
		errs []error
		err  error
	)
	if out.Vaults, err = s.Monitor.Sweep(ctx); err != nil {
		errs = append(errs, err)
	}
	if out.Claims, err = s.Claims.ExpireClaims(ctx, batch); err != nil {
		errs = append(errs, err)
	}
	if out.Recoveries, err = s.Recoveries.ReconcileRecoveries(ctx, batch); err != nil {
		errs = append(errs, err)
	}
	if out.InvitesExpired, err = s.Registry.ExpireInvites(ctx, batch); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// RunSweeper calls SweepAll every interval until ctx is done.
func RunSweeper(ctx context.Context, svc *Services, interval time.Duration, batch int, log logging.Logger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = logging.Nop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := svc.SweepAll(ctx, batch)
			if err != nil && ctx.Err() == nil {
				log.Warn(ctx, "sweep failed", "err", err)
			}
			log.Info(ctx, "sweep finished",
				"vaults_scanned", summary.Vaults.Scanned,
				"vaults_changed", summary.Vaults.Changed,
				"claims_resolved", summary.Claims.Resolved,
				"claims_expired", summary.Claims.Expired,
				"recoveries_triggered", summary.Recoveries.Triggered,
				"invites_expired", summary.InvitesExpired,
			)
		}
	}
}
