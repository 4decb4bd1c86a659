/*
interest.go - Loan interest pricing strategies

PURPOSE:
  Computes the interest owed on a principal under the group's configured
  strategy. The three strategies share one contract so the loan lifecycle
  stays agnostic to which is in force:

    Fixed:    principal * baseRate * (1 + riskAdjustment)
              riskAdjustment = 0.10 per previously-overdue loan, cap 0.5
    Variable: effectiveRate = clamp(baseRate + modifier, [2, 15])
              modifier = (1 - contributionScore)*3 - financialHealth*2
    Tiered:   rate of the tier containing the principal, risk-adjusted by
              rate * (1 + riskScore*0.5), cap 25%; principal above every
              tier falls into the highest tier

  Tier validation runs at calculation time (ValidateTiers), so corrupted
  policy data surfaces as ErrInvalidInterestTiers instead of mispricing.

CONTRACT:
  Calculate(policy, principal, profile) -> Money
    - ErrInvalidLoanAmount when principal <= 0
    - ErrExceedsMaxLoanAmount when principal > policy.MaxLoanAmount
    - ErrInvalidPolicy for an unrecognized interest type
  Interest is always >= 0 and rounded half-up to 2 decimal places.

SEE ALSO:
  - profile.go: score derivation
  - loan.go: the single consumer
*/
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

// InterestCalculator prices the interest for one loan principal.
type InterestCalculator interface {
	Calculate(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (money.Money, error)
}

// NewInterestCalculator selects the strategy for the policy's interest type.
// Unknown types fail with ErrInvalidPolicy; adding a strategy means adding a
// case here and nowhere else.
func NewInterestCalculator(policy LoanPolicy) (InterestCalculator, error) {
	switch policy.InterestType {
	case InterestFixed:
		return FixedInterestCalculator{}, nil
	case InterestVariable:
		return VariableInterestCalculator{}, nil
	case InterestTiered:
		return TieredInterestCalculator{}, nil
	default:
		return nil, ErrInvalidPolicy
	}
}

// CalculateInterest is the convenience entry point used by the loan
// lifecycle: strategy selection + calculation in one call.
func CalculateInterest(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (money.Money, error) {
	calc, err := NewInterestCalculator(policy)
	if err != nil {
		return money.Money{}, err
	}
	return calc.Calculate(policy, principal, profile)
}

func validatePrincipal(policy LoanPolicy, principal money.Money) error {
	if !principal.IsPositive() {
		return ErrInvalidLoanAmount
	}
	if policy.MaxLoanAmount.IsPositive() && principal.GreaterThan(policy.MaxLoanAmount) {
		return ErrExceedsMaxLoanAmount
	}
	return nil
}

// percentToFraction converts a percent rate (10 == 10%) to a multiplier.
func percentToFraction(rate decimal.Decimal) decimal.Decimal {
	return rate.Div(decimal.NewFromInt(100))
}

// =============================================================================
// FIXED
// =============================================================================

// maxFixedRiskAdjustment caps the per-overdue-loan surcharge at 50%.
var (
	maxFixedRiskAdjustment = decimal.NewFromFloat(0.5)
	fixedRiskPerLateLoan   = decimal.NewFromFloat(0.1)
)

// FixedInterestCalculator applies the base rate with a surcharge for each
// previously-overdue loan.
type FixedInterestCalculator struct{}

func (FixedInterestCalculator) Calculate(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (money.Money, error) {
	if err := validatePrincipal(policy, principal); err != nil {
		return money.Money{}, err
	}

	risk := fixedRiskPerLateLoan.Mul(decimal.NewFromInt(int64(profile.OverdueLoanCount)))
	if risk.GreaterThan(maxFixedRiskAdjustment) {
		risk = maxFixedRiskAdjustment
	}

	adjustedRate := policy.BaseRate.Mul(one.Add(risk))
	return principal.MulRate(percentToFraction(adjustedRate)), nil
}

// =============================================================================
// VARIABLE
// =============================================================================

var (
	variableRateFloor = decimal.NewFromInt(2)
	variableRateCeil  = decimal.NewFromInt(15)

	contributionModifierWeight = decimal.NewFromInt(3)
	healthModifierWeight       = decimal.NewFromInt(2)
)

// VariableInterestCalculator prices against the borrower's contribution
// behavior and loan repayment record. Good standing pushes the rate toward
// the floor, poor standing toward the ceiling.
type VariableInterestCalculator struct{}

func (VariableInterestCalculator) Calculate(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (money.Money, error) {
	if err := validatePrincipal(policy, principal); err != nil {
		return money.Money{}, err
	}

	modifier := one.Sub(profile.ContributionScore).Mul(contributionModifierWeight).
		Sub(profile.FinancialHealthScore.Mul(healthModifierWeight)).
		Round(2)

	effective := policy.BaseRate.Add(modifier)
	if effective.GreaterThan(variableRateCeil) {
		effective = variableRateCeil
	}
	if effective.LessThan(variableRateFloor) {
		effective = variableRateFloor
	}

	return principal.MulRate(percentToFraction(effective)), nil
}

// =============================================================================
// TIERED
// =============================================================================

var (
	tieredRateCeil       = decimal.NewFromInt(25)
	tieredRiskHalfWeight = decimal.NewFromFloat(0.5)
)

// TieredInterestCalculator reads the rate from the tier containing the
// principal, then risk-adjusts it.
type TieredInterestCalculator struct{}

func (TieredInterestCalculator) Calculate(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (money.Money, error) {
	if err := validatePrincipal(policy, principal); err != nil {
		return money.Money{}, err
	}
	if err := ValidateTiers(policy.Tiers); err != nil {
		return money.Money{}, err
	}

	tier := policy.Tiers[len(policy.Tiers)-1] // above every tier: highest applies
	for _, t := range policy.Tiers {
		if t.Contains(principal) {
			tier = t
			break
		}
	}

	adjusted := tier.Rate.Mul(one.Add(profile.RiskScore.Mul(tieredRiskHalfWeight)))
	if adjusted.GreaterThan(tieredRateCeil) {
		adjusted = tieredRateCeil
	}

	return principal.MulRate(percentToFraction(adjusted)), nil
}

// EffectiveRate exposes the tier rate selection without computing interest.
// Reporting uses this to show members what rate a hypothetical loan gets.
func EffectiveRate(policy LoanPolicy, principal money.Money, profile BorrowerProfile) (decimal.Decimal, error) {
	if err := validatePrincipal(policy, principal); err != nil {
		return decimal.Zero, err
	}

	interest, err := CalculateInterest(policy, principal, profile)
	if err != nil {
		return decimal.Zero, err
	}
	if !principal.IsPositive() {
		return decimal.Zero, nil
	}
	return interest.Decimal().Div(principal.Decimal()).Mul(decimal.NewFromInt(100)).Round(2), nil
}
