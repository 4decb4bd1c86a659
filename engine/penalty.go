/*
penalty.go - Overdue-contribution penalties

PURPOSE:
  Computes the penalty owed on a late or underpaid contribution. Penalties
  compound per elapsed period to discourage prolonged non-payment, but are
  capped at a configured fraction of the original amount so they can never
  grow without bound.

MODEL:
  overdue      iff referenceDate > overdueSince + 1 period + graceDays
  basePenalty  = amount * penaltyRate                   (0 when not overdue)
  progressive  = basePenalty * 1.5^overduePeriods
  totalPenalty = min(progressive, amount * penaltyCapRate)

  All arithmetic is performed in Money - never floating point.

SEE ALSO:
  - contribution.go: adds the penalty to the remaining balance on deadline
    breaches and during reconciliation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

// progressiveMultiplier compounds the base penalty per overdue period.
var progressiveMultiplier = decimal.NewFromFloat(1.5)

// PenaltyResult is the full penalty breakdown for one overdue amount.
type PenaltyResult struct {
	IsOverdue          bool        `json:"is_overdue"`
	OverduePeriods     int         `json:"overdue_periods"`
	BasePenalty        money.Money `json:"base_penalty"`
	ProgressivePenalty money.Money `json:"progressive_penalty"`
	TotalPenalty       money.Money `json:"total_penalty"`
}

// PenaltyCalculator computes overdue penalties under a contribution policy.
type PenaltyCalculator struct{}

// Calculate determines whether the amount dated overdueSince is overdue as
// of referenceDate, and if so what penalty applies.
func (PenaltyCalculator) Calculate(
	policy ContributionPolicy,
	referenceDate time.Time,
	overdueSince time.Time,
	amount money.Money,
) PenaltyResult {
	deadline := PeriodOf(overdueSince).GraceDeadline(policy.GracePeriodDays)

	if !referenceDate.After(deadline) {
		zero := amount.Zero()
		return PenaltyResult{
			BasePenalty:        zero,
			ProgressivePenalty: zero,
			TotalPenalty:       zero,
		}
	}

	periods := MonthsBetween(overdueSince, referenceDate)

	base := amount.Percent(policy.PenaltyRate)
	progressive := base.MulRate(progressiveMultiplier.Pow(decimal.NewFromInt(int64(periods))))
	cap := amount.Percent(policy.PenaltyCapRate)

	return PenaltyResult{
		IsOverdue:          true,
		OverduePeriods:     periods,
		BasePenalty:        base,
		ProgressivePenalty: progressive,
		TotalPenalty:       progressive.Min(cap),
	}
}
