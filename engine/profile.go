/*
profile.go - Borrower risk profile derived from history

PURPOSE:
  Interest pricing depends on how the borrower has behaved: contribution
  volume, frequency and consistency, plus loan repayment record. This file
  turns the caller-supplied history slices into the normalized scores the
  calculators consume. All scoring is done in decimal and capped at 1.0
  per component.

SCORES:
  ContributionScore = 0.5*volume + 0.3*frequency + 0.2*consistency
    volume:      total contributed / 10,000 major units, capped at 1
    frequency:   contribution count / 12, capped at 1
    consistency: months between first and last contribution / 24, capped at 1

  FinancialHealthScore = 1 - (late loans / total loans); 0.5 with no history

  RiskScore (0..1, higher = riskier) = mean of the overdue-loan ratio
  (0.5 with no history) and (1 - ContributionScore)

SEE ALSO:
  - interest.go: the three strategies reading these scores
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// BorrowerProfile carries the normalized risk inputs for interest pricing.
type BorrowerProfile struct {
	// Count of previously-overdue loans; drives fixed-rate adjustment.
	OverdueLoanCount int

	// Blended contribution behavior score in [0, 1].
	ContributionScore decimal.Decimal

	// Loan repayment record in [0, 1]; 0.5 with no loan history.
	FinancialHealthScore decimal.Decimal

	// Overall riskiness in [0, 1]; drives tiered-rate adjustment.
	RiskScore decimal.Decimal
}

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)

	volumeNorm      = decimal.NewFromInt(10000)
	frequencyNorm   = decimal.NewFromInt(12)
	consistencyNorm = decimal.NewFromInt(24)

	volumeWeight      = decimal.NewFromFloat(0.5)
	frequencyWeight   = decimal.NewFromFloat(0.3)
	consistencyWeight = decimal.NewFromFloat(0.2)
)

// ProfileFromHistory computes the borrower's profile from their contribution
// and loan history in the group.
func ProfileFromHistory(contributions ContributionHistory, loans LoanHistory) BorrowerProfile {
	contribScore := contributionScore(contributions)
	health := financialHealthScore(loans)

	// Overdue ratio defaults to 0.5 with no loan history, mirroring the
	// health-score fallback.
	overdueRatio := half
	if len(loans) > 0 {
		overdueRatio = decimal.NewFromInt(int64(loans.OverdueCount())).
			Div(decimal.NewFromInt(int64(len(loans))))
	}

	risk := clamp01(overdueRatio.Add(one.Sub(contribScore)).Div(decimal.NewFromInt(2)))

	return BorrowerProfile{
		OverdueLoanCount:     loans.OverdueCount(),
		ContributionScore:    contribScore,
		FinancialHealthScore: health,
		RiskScore:            risk,
	}
}

func contributionScore(history ContributionHistory) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	count := 0
	var first, last Contribution
	for _, c := range history {
		if !c.Active() {
			continue
		}
		total = total.Add(c.Amount.Decimal())
		if count == 0 {
			first = c
		}
		last = c
		count++
	}
	if count == 0 {
		return decimal.Zero
	}

	volume := capAt1(total.Div(volumeNorm))
	frequency := capAt1(decimal.NewFromInt(int64(count)).Div(frequencyNorm))
	consistency := capAt1(decimal.NewFromInt(int64(MonthsBetween(first.Date, last.Date))).
		Div(consistencyNorm))

	return volume.Mul(volumeWeight).
		Add(frequency.Mul(frequencyWeight)).
		Add(consistency.Mul(consistencyWeight))
}

func financialHealthScore(loans LoanHistory) decimal.Decimal {
	if len(loans) == 0 {
		return half
	}
	late := decimal.NewFromInt(int64(loans.OverdueCount()))
	total := decimal.NewFromInt(int64(len(loans)))
	return one.Sub(late.Div(total))
}

func capAt1(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(one) {
		return one
	}
	return d
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return capAt1(d)
}
