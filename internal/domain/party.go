package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type PartyRole string

const (
	RoleGuardian    PartyRole = "guardian"
	RoleAttestor    PartyRole = "attestor"
	RoleBeneficiary PartyRole = "beneficiary"
	RoleRecoveryKey PartyRole = "recovery_key"
)

func (r PartyRole) Valid() bool {
	switch r {
	case RoleGuardian, RoleAttestor, RoleBeneficiary:
		return true
	}
	return false
}

type PartyStatus string

const (
	PartyPending  PartyStatus = "pending"
	PartyActive   PartyStatus = "active"
	PartyDeclined PartyStatus = "declined"
	PartyInactive PartyStatus = "inactive"
)

// PartyBase holds the fields every party variant carries.
// InviteToken is only populated on the value returned at creation; the store keeps the hash.
type PartyBase struct {
	ID              string
	VaultID         string
	Name            string
	Contact         string
	Status          PartyStatus
	InviteToken     string
	InviteTokenHash string
	InviteExpiresAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Party is the closed set of people attached to a vault: Guardian, Attestor, Beneficiary.
type Party interface {
	Base() PartyBase
	Role() PartyRole
	isParty()
}

type Guardian struct {
	PartyBase
	// FragmentIndex is the 1-based share index held by this guardian, 0 when none was issued.
	FragmentIndex int
}

type Attestor struct {
	PartyBase
	Organization string
}

type Beneficiary struct {
	PartyBase
	ShareBasisPoints int
}

func (g Guardian) Base() PartyBase    { return g.PartyBase }
func (a Attestor) Base() PartyBase    { return a.PartyBase }
func (b Beneficiary) Base() PartyBase { return b.PartyBase }

func (Guardian) Role() PartyRole    { return RoleGuardian }
func (Attestor) Role() PartyRole    { return RoleAttestor }
func (Beneficiary) Role() PartyRole { return RoleBeneficiary }

func (Guardian) isParty()    {}
func (Attestor) isParty()    {}
func (Beneficiary) isParty() {}

// CanVote reports whether p is an eligible voter on claims for its vault.
func CanVote(p Party) bool {
	if p == nil {
		return false
	}
	switch p.Role() {
	case RoleGuardian, RoleAttestor:
		return p.Base().Status == PartyActive
	}
	return false
}

func (b PartyBase) InviteExpired(now time.Time) bool {
	return !b.InviteExpiresAt.IsZero() && !now.Before(b.InviteExpiresAt)
}

var validate = validator.New()

// ValidateContact accepts an email address or an E.164 phone number.
func ValidateContact(contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return fmt.Errorf("%w: contact is required", ErrValidation)
	}
	if validate.Var(contact, "email") == nil || validate.Var(contact, "e164") == nil {
		return nil
	}
	return fmt.Errorf("%w: contact %q is neither an email nor an E.164 phone number", ErrValidation, contact)
}

// ValidateWalletAddress checks a 0x-prefixed 20-byte hex address.
func ValidateWalletAddress(addr string) error {
	if validate.Var(addr, "eth_addr") != nil {
		return fmt.Errorf("%w: wallet address %q is malformed", ErrValidation, addr)
	}
	return nil
}
