package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type VaultStatus string

const (
	VaultActive    VaultStatus = "active"
	VaultWarning   VaultStatus = "warning"
	VaultCritical  VaultStatus = "critical"
	VaultTriggered VaultStatus = "triggered"
	VaultCancelled VaultStatus = "cancelled"
)

// MinActiveGuardians is the floor a vault's active guardian set may never drop below.
const MinActiveGuardians = 3

type Vault struct {
	ID                  string
	OwnerID             string
	OwnerContact        string
	CheckInIntervalDays int
	GracePeriodDays     int
	FragmentScheme      string
	Status              VaultStatus
	LastCheckInAt       time.Time
	NextCheckInDue      time.Time
	TriggeredAt         *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s VaultStatus) Terminal() bool {
	return s == VaultTriggered || s == VaultCancelled
}

func (s VaultStatus) Valid() bool {
	switch s {
	case VaultActive, VaultWarning, VaultCritical, VaultTriggered, VaultCancelled:
		return true
	}
	return false
}

func (v Vault) Interval() time.Duration {
	return time.Duration(v.CheckInIntervalDays) * 24 * time.Hour
}

func (v Vault) GracePeriod() time.Duration {
	return time.Duration(v.GracePeriodDays) * 24 * time.Hour
}

// DueAt derives next_check_in_due from the last check-in.
func (v Vault) DueAt() time.Time {
	return v.LastCheckInAt.Add(v.Interval())
}

// ComputeVaultStatus derives the inactivity status at now. Terminal statuses are sticky.
func ComputeVaultStatus(v Vault, now time.Time) VaultStatus {
	if v.Status.Terminal() {
		return v.Status
	}
	due := v.DueAt()
	switch {
	case now.Before(due):
		return VaultActive
	case now.Before(due.Add(v.GracePeriod())):
		return VaultWarning
	default:
		return VaultCritical
	}
}

// ClaimableStatus reports whether a claim may be opened against a vault in status s.
func ClaimableStatus(s VaultStatus) bool {
	return s == VaultWarning || s == VaultCritical
}

// FragmentScheme is a parsed "t-of-n" secret-sharing scheme.
type FragmentScheme struct {
	Threshold int
	Total     int
}

func (s FragmentScheme) String() string {
	return fmt.Sprintf("%d-of-%d", s.Threshold, s.Total)
}

func ParseFragmentScheme(raw string) (FragmentScheme, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-of-")
	if len(parts) != 2 {
		return FragmentScheme{}, fmt.Errorf("%w: fragment scheme %q must look like 2-of-3", ErrValidation, raw)
	}
	t, err := strconv.Atoi(parts[0])
	if err != nil {
		return FragmentScheme{}, fmt.Errorf("%w: fragment scheme threshold %q", ErrValidation, parts[0])
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return FragmentScheme{}, fmt.Errorf("%w: fragment scheme total %q", ErrValidation, parts[1])
	}
	if n < MinActiveGuardians || n > 255 {
		return FragmentScheme{}, fmt.Errorf("%w: fragment scheme total must be between %d and 255", ErrValidation, MinActiveGuardians)
	}
	if t < 2 || t > n {
		return FragmentScheme{}, fmt.Errorf("%w: fragment scheme threshold must be between 2 and %d", ErrValidation, n)
	}
	return FragmentScheme{Threshold: t, Total: n}, nil
}
