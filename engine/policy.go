/*
policy.go - Group policy snapshots consumed by the engine

PURPOSE:
  Defines the rules that govern settlement for one group: how much each
  member owes per period, how partial payments are bounded, how penalties
  accrue, and how loan interest is priced. Policies are immutable snapshots
  passed by value into every engine call - there is no ambient "active
  group" state.

KEY CONCEPTS:
  - ContributionPolicy: per-period contribution rules (amount, partial caps,
    grace window, penalty rates)
  - LoanPolicy: interest strategy selection + loan bounds
  - InterestTier: contiguous principal range -> rate; validated as a set

TIER SET INVARIANT:
  Sorted ascending, first tier starts at 0, each tier's MinAmount equals the
  previous tier's MaxAmount + one minor unit. Gaps or overlaps degrade to
  ErrInvalidInterestTiers. Validation runs at calculation time, not just at
  input time, to guard against stale or corrupted policy data.

SEE ALSO:
  - interest.go: consumes LoanPolicy + tiers
  - contribution.go: consumes ContributionPolicy
*/
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// CONTRIBUTION POLICY
// =============================================================================

// ContributionPolicy is the per-period contribution ruleset derived from a
// group's settings.
type ContributionPolicy struct {
	GroupID GroupID

	// The full amount each member owes per period.
	RequiredAmount money.Money

	// Minimum fraction of RequiredAmount a partial contribution may tender
	// (0..1). A contribution below RequiredAmount*AllowedPartialPercentage
	// fails outright.
	AllowedPartialPercentage decimal.Decimal

	// How many partial submissions a member may make per period. The final
	// allowed submission must cover the full remaining balance.
	MaxPartialContributions int

	// Days into the following period before a contribution for this period
	// is classified overdue.
	GracePeriodDays int

	// Base penalty rate applied to the overdue amount (0..1).
	PenaltyRate decimal.Decimal

	// Ceiling for the total penalty, as a fraction of the original amount.
	PenaltyCapRate decimal.Decimal
}

// MinimumPartialAmount returns the floor for any tendered contribution.
func (p ContributionPolicy) MinimumPartialAmount() money.Money {
	return p.RequiredAmount.Percent(p.AllowedPartialPercentage)
}

// =============================================================================
// LOAN POLICY
// =============================================================================

// InterestType selects the pricing strategy for a group's loans.
type InterestType string

const (
	InterestFixed    InterestType = "fixed"
	InterestVariable InterestType = "variable"
	InterestTiered   InterestType = "tiered"
)

// LoanPolicy is the loan ruleset derived from a group's settings.
type LoanPolicy struct {
	GroupID GroupID

	InterestType InterestType

	// Base annual rate in percent (10 == 10%).
	BaseRate decimal.Decimal

	// Tier table for InterestTiered. Ignored by other strategies.
	Tiers []InterestTier

	// Upper bound on a single loan's principal. Zero means unbounded.
	MaxLoanAmount money.Money

	// Repayment term for new loans.
	DurationMonths int

	// Whether a requested loan waits in Pending for approval or activates
	// immediately.
	RequiresApproval bool
}

// =============================================================================
// INTEREST TIERS
// =============================================================================

// InterestTier maps a contiguous principal range to an annual rate (percent).
type InterestTier struct {
	MinAmount money.Money     `json:"min_amount"`
	MaxAmount money.Money     `json:"max_amount"`
	Rate      decimal.Decimal `json:"rate"`
}

// Contains reports whether the principal falls inside this tier (inclusive).
func (t InterestTier) Contains(principal money.Money) bool {
	return !principal.LessThan(t.MinAmount) && !principal.GreaterThan(t.MaxAmount)
}

// ValidateTiers enforces the tier set invariant: non-empty, sorted, first
// tier starting at zero, contiguous ranges with no gaps or overlaps, and
// non-negative rates. Any violation returns an InvalidTiersError wrapping
// ErrInvalidInterestTiers.
func ValidateTiers(tiers []InterestTier) error {
	if len(tiers) == 0 {
		return &InvalidTiersError{Reason: "no interest tiers defined"}
	}

	if !tiers[0].MinAmount.IsZero() {
		return &InvalidTiersError{Reason: "first tier must start at 0"}
	}

	for i, t := range tiers {
		if !t.MaxAmount.GreaterThan(t.MinAmount) {
			return &InvalidTiersError{Reason: "tier max must exceed tier min", Index: i}
		}
		if t.Rate.IsNegative() {
			return &InvalidTiersError{Reason: "tier rate must not be negative", Index: i}
		}
		if i == 0 {
			continue
		}
		// Each tier picks up one minor unit above the previous one.
		want := tiers[i-1].MaxAmount.Add(money.New(1, tiers[i-1].MaxAmount.Currency()))
		if !t.MinAmount.Equal(want) {
			return &InvalidTiersError{Reason: "tiers must be sequential without gaps", Index: i}
		}
	}
	return nil
}
