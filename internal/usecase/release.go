package usecase

import (
	"context"
	"errors"
	"fmt"

	"heirloom/internal/domain"
	"heirloom/internal/logging"
)

// BeneficiaryRelease tells every beneficiary of a triggered vault that it was released.
// Moving funds or credentials is left to whoever consumes the notification.
type BeneficiaryRelease struct {
	Store    PartyRepository
	Notifier Notifier
	Logger   logging.Logger
}

func (r BeneficiaryRelease) Release(ctx context.Context, vault domain.Vault, claim domain.Claim) error {
	if r.Store == nil {
		return errors.New("party repository required")
	}
	parties, err := r.Store.ListParties(ctx, vault.ID)
	if err != nil {
		return err
	}
	var errs []error
	notified := 0
	for _, p := range parties {
		b, ok := p.(domain.Beneficiary)
		if !ok || b.Status == domain.PartyDeclined {
			continue
		}
		if r.Notifier != nil {
			msg := fmt.Sprintf("Vault %s was released after claim %s was approved. Your allocation is %d basis points.", vault.ID, claim.ID, b.ShareBasisPoints)
			if err := r.Notifier.SendReminder(ctx, b.Contact, msg); err != nil {
				errs = append(errs, fmt.Errorf("notify beneficiary %s: %w", b.ID, err))
				continue
			}
		}
		notified++
	}
	if r.Logger != nil {
		r.Logger.Info(ctx, "vault released", "vault_id", vault.ID, "claim_id", claim.ID, "beneficiaries", notified)
	}
	return errors.Join(errs...)
}
