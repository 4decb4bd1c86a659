/*
contribution.go - Contribution evaluation and reconciliation

PURPOSE:
  Decides what a tendered contribution amount means: sufficient, partial,
  overpaid, or not acceptable - and what the caller should persist. The
  evaluator is the only place contribution status is decided; status is a
  pure function of (amount, policy, prior contributions in period, date).

EVALUATION ALGORITHM:
  1. Duplicate guard: reject if an unverified contribution already exists
     for the exact same date.
  2. Remaining balance = required amount - partial amounts already paid this
     period, plus any unpaid penalty from a prior unresolved period.
  3. Deadline guard: when the submission settles a prior period past its
     grace deadline, the penalty is added to the balance; a tender that does
     not cover balance + penalty fails with the exact shortfall.
  4. Minimum floor: a tender below required*allowedPartialPercentage fails,
     unless it covers the full remaining balance.
  5. Classification: below balance -> partial (the final allowed partial
     must cover everything); equal -> paid; above -> overpaid, with the
     excess recorded as metadata, not refunded.

  Equality is exact integer minor-unit comparison - no epsilon.

RECONCILIATION:
  ReconcileOverdue is the on-demand sweep: it compares stored deadlines to a
  caller-supplied reference date and returns the pending->overdue updates
  and penalty assessments to persist. A period is penalized once, on its
  total outstanding balance, however many partial rows it holds. Running
  the sweep twice yields no new updates.

SEE ALSO:
  - penalty.go: penalty math
  - report.go: member summaries built on the same history
*/
package engine

import (
	"fmt"
	"time"

	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// DECISION
// =============================================================================

// Classification is the evaluator's verdict on a tendered amount.
type Classification string

const (
	ClassifiedPaid     Classification = "paid"
	ClassifiedPartial  Classification = "partial"
	ClassifiedOverpaid Classification = "overpaid"
	ClassifiedFailed   Classification = "failed"
)

// Status maps a classification to the contribution status to persist.
// Overpaid settles the period, so it stores as paid with the excess kept as
// metadata.
func (c Classification) Status() ContributionStatus {
	switch c {
	case ClassifiedPaid, ClassifiedOverpaid:
		return ContributionPaid
	case ClassifiedPartial:
		return ContributionPartial
	default:
		return ContributionFailed
	}
}

// ContributionDetails is the arithmetic behind a decision, returned so the
// caller can render or store it.
type ContributionDetails struct {
	RequiredAmount   money.Money   `json:"required_amount"`
	RemainingBalance money.Money   `json:"remaining_balance"`
	MinimumRequired  money.Money   `json:"minimum_required"`
	Overpayment      money.Money   `json:"overpayment"`
	PartialsUsed     int           `json:"partials_used"`
	IsOverdue        bool          `json:"is_overdue"`
	Penalty          PenaltyResult `json:"penalty"`
}

// ContributionDecision is the evaluator's output: the classified result, the
// record the caller should persist, and the events to notify on. The engine
// itself persists nothing.
type ContributionDecision struct {
	Classification Classification      `json:"classification"`
	Message        string              `json:"message"`
	Details        ContributionDetails `json:"details"`
	Contribution   Contribution        `json:"contribution"`
	Events         []Event             `json:"events"`
}

// =============================================================================
// EVALUATOR
// =============================================================================

// ContributionEvaluator validates and classifies incoming contributions.
type ContributionEvaluator struct {
	Penalties PenaltyCalculator
}

// Evaluate classifies a tendered amount submitted on submissionDate against
// the member's history. Callers must serialize concurrent evaluations for
// the same (member, group, period).
func (e ContributionEvaluator) Evaluate(
	policy ContributionPolicy,
	history ContributionHistory,
	amount money.Money,
	submissionDate time.Time,
	ctype ContributionType,
) (ContributionDecision, error) {
	if !policy.RequiredAmount.IsPositive() {
		return ContributionDecision{}, ErrInvalidPolicy
	}

	// 1. Duplicate guard: one unverified contribution per date.
	day := DateOnly(submissionDate)
	for _, c := range history {
		if c.Active() && !c.IsVerified && c.Status != ContributionFailed && DateOnly(c.Date).Equal(day) {
			return ContributionDecision{}, ErrDuplicateContribution
		}
	}

	details := e.computeDetails(policy, history, submissionDate)

	// A settled period takes no further regular contributions.
	if ctype == ContributionRegular && details.RemainingBalance.IsZero() {
		return ContributionDecision{
			Classification: ClassifiedFailed,
			Message:        "a full contribution has already been made this period",
			Details:        details,
		}, nil
	}

	// 3. Deadline guard: past-deadline settlements must cover balance plus
	// penalty in one tender.
	if details.IsOverdue && amount.LessThan(details.RemainingBalance) {
		shortfall := details.RemainingBalance.Sub(amount)
		return ContributionDecision{}, &InsufficientAmountError{
			Required:  details.RemainingBalance,
			Tendered:  amount,
			Shortfall: shortfall,
			Reason: fmt.Sprintf("overdue balance of %s including penalty of %s must be settled in full",
				details.RemainingBalance, details.Penalty.TotalPenalty),
		}
	}

	// 4. Minimum floor. Covering the full remaining balance always passes,
	// even when the balance has shrunk below the configured minimum.
	floor := details.MinimumRequired.Min(details.RemainingBalance)
	if amount.LessThan(floor) {
		return ContributionDecision{}, &InsufficientAmountError{
			Required:  floor,
			Tendered:  amount,
			Shortfall: floor.Sub(amount),
			Reason:    "below the minimum allowed contribution",
		}
	}

	// 5. Classification.
	var decision ContributionDecision
	switch amount.Cmp(details.RemainingBalance) {
	case -1:
		// The final allowed partial must settle everything.
		if details.PartialsUsed >= policy.MaxPartialContributions-1 {
			return ContributionDecision{}, &MustCoverFullBalanceError{
				RemainingBalance: details.RemainingBalance,
				IncludesPenalty:  details.IsOverdue,
			}
		}
		decision = ContributionDecision{
			Classification: ClassifiedPartial,
			Message:        "partial contribution received",
			Events:         []Event{EventContributionPartial},
		}
	case 0:
		decision = ContributionDecision{
			Classification: ClassifiedPaid,
			Message:        "full contribution received",
			Events:         []Event{EventContributionRecorded},
		}
	default:
		details.Overpayment = amount.Sub(details.RemainingBalance)
		decision = ContributionDecision{
			Classification: ClassifiedOverpaid,
			Message:        "overpayment detected; excess amount recorded",
			Events:         []Event{EventContributionRecorded, EventContributionOverpaid},
		}
	}

	if details.IsOverdue {
		decision.Events = append(decision.Events, EventPenaltyAssessed)
	}

	decision.Details = details
	decision.Contribution = Contribution{
		GroupID:     policy.GroupID,
		MemberID:    memberOf(history),
		Amount:      amount,
		Date:        day,
		Type:        ctype,
		Status:      decision.Classification.Status(),
		Overpayment: details.Overpayment,
		CreatedAt:   submissionDate,
	}
	return decision, nil
}

// computeDetails derives the remaining balance for the submission: the
// current period's unpaid remainder plus any penalty carried in from a
// prior unresolved period.
func (e ContributionEvaluator) computeDetails(
	policy ContributionPolicy,
	history ContributionHistory,
	submissionDate time.Time,
) ContributionDetails {
	details := ContributionDetails{
		RequiredAmount:  policy.RequiredAmount,
		MinimumRequired: policy.MinimumPartialAmount(),
		Overpayment:     policy.RequiredAmount.Zero(),
	}

	paid := policy.RequiredAmount.Zero()
	for _, c := range history.InPeriod(submissionDate) {
		switch c.Status {
		case ContributionPartial, ContributionPaid:
			paid = paid.Add(c.Amount)
			if c.Status == ContributionPartial {
				details.PartialsUsed++
			}
		}
	}

	remaining := policy.RequiredAmount.Sub(paid)
	if remaining.IsNegative() {
		remaining = policy.RequiredAmount.Zero()
	}

	// A prior period left partial or overdue carries its penalty forward.
	if latest, ok := history.Latest(); ok && !SamePeriod(latest.Date, submissionDate) {
		if latest.Status == ContributionPartial || latest.Status == ContributionOverdue {
			carried := policy.RequiredAmount.Sub(latest.Amount)
			if carried.IsNegative() {
				carried = policy.RequiredAmount.Zero()
			}
			penalty := e.Penalties.Calculate(policy, submissionDate, latest.Date, carried)
			details.Penalty = penalty
			if penalty.IsOverdue {
				details.IsOverdue = true
				remaining = remaining.Add(carried).Add(penalty.TotalPenalty)
			}
		}
	}

	details.RemainingBalance = remaining
	return details
}

func memberOf(history ContributionHistory) MemberID {
	if len(history) > 0 {
		return history[0].MemberID
	}
	return ""
}

// =============================================================================
// RECONCILIATION PASS
// =============================================================================

// ContributionUpdate is one status change the caller should persist after a
// reconciliation sweep.
type ContributionUpdate struct {
	ContributionID ContributionID `json:"contribution_id"`
	FromStatus     ContributionStatus
	ToStatus       ContributionStatus
	Penalty        PenaltyResult
	Events         []Event
}

// ReconcileOverdue computes the pending->overdue transitions for every
// contribution whose grace deadline has passed as of the reference date.
// The penalty is assessed once per period, on what the period as a whole
// still owes, and rides on the period's first flagged row; sibling rows
// only change status. Pure and idempotent: already-overdue contributions
// produce no update.
func (e ContributionEvaluator) ReconcileOverdue(
	policy ContributionPolicy,
	history ContributionHistory,
	asOf time.Time,
) []ContributionUpdate {
	var updates []ContributionUpdate
	assessed := make(map[int]bool)
	for _, c := range history {
		if !c.Active() {
			continue
		}
		if c.Status != ContributionPending && c.Status != ContributionPartial {
			continue
		}
		deadline := PeriodOf(c.Date).GraceDeadline(policy.GracePeriodDays)
		if !asOf.After(deadline) {
			continue
		}

		update := ContributionUpdate{
			ContributionID: c.ID,
			FromStatus:     c.Status,
			ToStatus:       ContributionOverdue,
			Events:         []Event{EventContributionOverdue},
		}

		d := c.Date.UTC()
		key := d.Year()*12 + int(d.Month())
		if !assessed[key] {
			assessed[key] = true
			update.Penalty = e.Penalties.Calculate(policy, asOf, c.Date,
				periodOutstanding(policy, history, c.Date))
			update.Events = append(update.Events, EventPenaltyAssessed)
		}

		updates = append(updates, update)
	}
	return updates
}

// periodOutstanding is the required amount less everything paid or partial
// in the period containing t, floored at zero. The shortfall belongs to
// the period, not to any single contribution row within it.
func periodOutstanding(policy ContributionPolicy, history ContributionHistory, t time.Time) money.Money {
	paid := policy.RequiredAmount.Zero()
	for _, c := range history.InPeriod(t) {
		if c.Status == ContributionPartial || c.Status == ContributionPaid {
			paid = paid.Add(c.Amount)
		}
	}
	outstanding := policy.RequiredAmount.Sub(paid)
	if outstanding.IsNegative() {
		return policy.RequiredAmount.Zero()
	}
	return outstanding
}
