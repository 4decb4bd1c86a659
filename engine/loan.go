/*
loan.go - Loan lifecycle state machine

PURPOSE:
  Drives a loan from request to settlement:

      Pending ──▶ Active ──▶ Paid
         │          │  ▲
         ▼          ▼  │
      Rejected   Overdue ──▶ Defaulted
                    │
                    └──▶ Active (restructured)

  Paid, Defaulted and Rejected are terminal - every transition from them
  fails with ErrInvalidLoanStatus. Interest is computed once (via
  interest.go) and frozen at approval; it is never recomputed after
  disbursal. Every operation is pure: it takes the loan by value plus a
  reference date and returns the transitioned loan and the events the
  caller should persist and notify on.

SCHEDULE:
  duration equal installments of round(total/duration), first due one month
  after approval. Each row is split into an interest portion
  (remaining balance * annualRate/12/100) and a principal portion
  (installment - interest) for amortization reporting. The final installment
  absorbs the rounding remainder so the schedule sums exactly to the total.

DEFAULT:
  Eligible only when Overdue for at least 3 months with less than 50% paid;
  assesses a flat 10% penalty on the outstanding balance.

SEE ALSO:
  - interest.go: amount derivation
  - report.go: eligibility computation
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

var (
	monthsInYear = decimal.NewFromInt(12)
	hundred      = decimal.NewFromInt(100)

	// defaultPenaltyRate is the flat penalty on the outstanding balance when
	// a loan defaults.
	defaultPenaltyRate = decimal.NewFromFloat(0.10)

	// defaultEligibilityPaidFraction: loans with at least this share of the
	// total repaid cannot be defaulted.
	defaultEligibilityPaidFraction = decimal.NewFromFloat(0.5)
)

// defaultEligibilityMonths is how long a loan must sit overdue before
// default may be processed.
const defaultEligibilityMonths = 3

// LoanTransition is the outcome of a lifecycle operation: the new loan
// value and the events for the notification sink.
type LoanTransition struct {
	Loan   Loan
	Events []Event
}

// DefaultOutcome extends a transition with the assessed default penalty.
type DefaultOutcome struct {
	LoanTransition
	Penalty money.Money
}

// RestructureOptions adjusts an overdue loan's terms.
type RestructureOptions struct {
	// Additional months appended to the repayment term.
	ExtendMonths int
	// Optional immediate payment reducing the balance before re-pricing.
	PartialPayment money.Money
	Reason         string
}

// LoanLifecycle executes state transitions. It consults the interest
// calculators for amount derivation and never touches storage.
type LoanLifecycle struct{}

// =============================================================================
// REQUEST
// =============================================================================

// Request validates a new loan request and prices it. The borrower must
// have no other open loan in the group and the principal must be within
// policy bounds. The loan starts Pending when the policy requires approval,
// otherwise it activates immediately with a generated schedule.
func (LoanLifecycle) Request(
	policy LoanPolicy,
	contributions ContributionHistory,
	loans LoanHistory,
	memberID MemberID,
	principal money.Money,
	now time.Time,
) (LoanTransition, error) {
	if loans.HasOpen() {
		return LoanTransition{}, ErrActiveLoanExists
	}

	profile := ProfileFromHistory(contributions, loans)
	interest, err := CalculateInterest(policy, principal, profile)
	if err != nil {
		return LoanTransition{}, err
	}

	rate, err := EffectiveRate(policy, principal, profile)
	if err != nil {
		return LoanTransition{}, err
	}

	loan := Loan{
		GroupID:         policy.GroupID,
		MemberID:        memberID,
		PrincipalAmount: principal,
		InterestAmount:  interest,
		TotalAmount:     principal.Add(interest),
		TotalPaidAmount: principal.Zero(),
		InterestRate:    rate,
		DurationMonths:  policy.DurationMonths,
		Status:          LoanPending,
		RequestedAt:     now,
		DueDate:         now.AddDate(0, policy.DurationMonths, 0),
	}

	events := []Event{EventLoanRequested}
	if !policy.RequiresApproval {
		activated := activate(loan, now)
		return LoanTransition{Loan: activated, Events: append(events, EventLoanApproved)}, nil
	}
	return LoanTransition{Loan: loan, Events: events}, nil
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// Approve moves a Pending loan to Active, freezing the total and generating
// the payment schedule.
func (LoanLifecycle) Approve(loan Loan, now time.Time) (LoanTransition, error) {
	if loan.Status != LoanPending {
		return LoanTransition{}, &LoanStatusError{Operation: "approve", Current: loan.Status}
	}
	return LoanTransition{Loan: activate(loan, now), Events: []Event{EventLoanApproved}}, nil
}

// Reject declines a Pending loan. Terminal.
func (LoanLifecycle) Reject(loan Loan, reason string, now time.Time) (LoanTransition, error) {
	if loan.Status != LoanPending {
		return LoanTransition{}, &LoanStatusError{Operation: "reject", Current: loan.Status}
	}
	loan.Status = LoanRejected
	loan.RejectionReason = reason
	return LoanTransition{Loan: loan, Events: []Event{EventLoanRejected}}, nil
}

func activate(loan Loan, now time.Time) Loan {
	at := now
	loan.Status = LoanActive
	loan.ApprovedAt = &at
	loan.DueDate = now.AddDate(0, loan.DurationMonths, 0)
	loan.Schedule = GenerateSchedule(loan.TotalAmount, loan.InterestRate, loan.DurationMonths, now)
	if len(loan.Schedule) > 0 {
		loan.MonthlyPayment = loan.Schedule[0].Amount
	}
	return loan
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment applies a repayment. Legal from Active and Overdue; settles
// the loan when the running total reaches the frozen amount. A payment
// exceeding the outstanding balance fails with ErrOverPayment.
func (LoanLifecycle) RecordPayment(loan Loan, amount money.Money, now time.Time) (LoanTransition, error) {
	if loan.Status != LoanActive && loan.Status != LoanOverdue {
		return LoanTransition{}, &LoanStatusError{Operation: "pay", Current: loan.Status}
	}
	if !amount.IsPositive() {
		return LoanTransition{}, ErrInvalidLoanAmount
	}
	if amount.GreaterThan(loan.Outstanding()) {
		return LoanTransition{}, ErrOverPayment
	}

	at := now
	loan.TotalPaidAmount = loan.TotalPaidAmount.Add(amount)
	loan.LastPaymentAt = &at
	loan.Schedule = settleInstallments(loan.Schedule, loan.TotalPaidAmount)

	events := []Event{EventLoanPaymentMade}
	if !loan.TotalPaidAmount.LessThan(loan.TotalAmount) {
		loan.Status = LoanPaid
		events = append(events, EventLoanPaid)
	} else if loan.Status == LoanOverdue {
		// A payment on an overdue loan brings it back into good standing.
		loan.Status = LoanActive
	}
	return LoanTransition{Loan: loan, Events: events}, nil
}

// settleInstallments marks schedule rows paid once cumulative payments
// cover them.
func settleInstallments(schedule []Installment, totalPaid money.Money) []Installment {
	covered := totalPaid
	for i := range schedule {
		if covered.LessThan(schedule[i].Amount) {
			break
		}
		covered = covered.Sub(schedule[i].Amount)
		schedule[i].Status = InstallmentPaidOff
	}
	return schedule
}

// =============================================================================
// OVERDUE / DEFAULT
// =============================================================================

// MarkOverdue flags an Active loan past its due date. Overdue detection is
// on demand: the caller supplies the reference date, the engine runs no
// clocks.
func (LoanLifecycle) MarkOverdue(loan Loan, asOf time.Time) (LoanTransition, error) {
	if loan.Status != LoanActive {
		return LoanTransition{}, &LoanStatusError{Operation: "mark overdue", Current: loan.Status}
	}
	if !asOf.After(loan.DueDate) {
		return LoanTransition{Loan: loan}, nil
	}
	loan.Status = LoanOverdue
	return LoanTransition{Loan: loan, Events: []Event{EventLoanOverdue}}, nil
}

// Default processes a defaulted loan: only Overdue loans at least 3 months
// past due with under half the total repaid are eligible. Assesses a flat
// 10% penalty on the outstanding balance. Terminal.
func (LoanLifecycle) Default(loan Loan, asOf time.Time) (DefaultOutcome, error) {
	if loan.Status != LoanOverdue {
		return DefaultOutcome{}, &LoanStatusError{Operation: "default", Current: loan.Status}
	}
	if MonthsBetween(loan.DueDate, asOf) < defaultEligibilityMonths {
		return DefaultOutcome{}, &LoanStatusError{Operation: "default", Current: loan.Status}
	}
	paidThreshold := loan.TotalAmount.MulRate(defaultEligibilityPaidFraction)
	if !loan.TotalPaidAmount.LessThan(paidThreshold) {
		return DefaultOutcome{}, &LoanStatusError{Operation: "default", Current: loan.Status}
	}

	at := asOf
	penalty := loan.Outstanding().MulRate(defaultPenaltyRate)
	loan.Status = LoanDefaulted
	loan.DefaultedAt = &at

	return DefaultOutcome{
		LoanTransition: LoanTransition{Loan: loan, Events: []Event{EventLoanDefaulted}},
		Penalty:        penalty,
	}, nil
}

// =============================================================================
// RESTRUCTURE
// =============================================================================

// Restructure re-prices an Overdue loan: the outstanding balance (less an
// optional immediate partial payment) becomes the new principal, interest
// is recomputed under the current policy, the term is extended, and a fresh
// schedule is generated. The loan returns to Active.
func (LoanLifecycle) Restructure(
	loan Loan,
	policy LoanPolicy,
	contributions ContributionHistory,
	priorLoans LoanHistory,
	opts RestructureOptions,
	now time.Time,
) (LoanTransition, error) {
	if loan.Status != LoanOverdue {
		return LoanTransition{}, &LoanStatusError{Operation: "restructure", Current: loan.Status}
	}
	if opts.ExtendMonths <= 0 {
		return LoanTransition{}, fmt.Errorf("%w: restructure must extend the term", ErrInvalidPolicy)
	}

	newPrincipal := loan.Outstanding()
	if opts.PartialPayment.IsPositive() {
		if opts.PartialPayment.GreaterThan(newPrincipal) {
			return LoanTransition{}, ErrOverPayment
		}
		newPrincipal = newPrincipal.Sub(opts.PartialPayment)
	}

	profile := ProfileFromHistory(contributions, priorLoans)
	interest, err := CalculateInterest(policy, newPrincipal, profile)
	if err != nil {
		return LoanTransition{}, err
	}
	rate, err := EffectiveRate(policy, newPrincipal, profile)
	if err != nil {
		return LoanTransition{}, err
	}

	at := now
	duration := loan.DurationMonths + opts.ExtendMonths

	loan.PrincipalAmount = newPrincipal
	loan.InterestAmount = interest
	loan.TotalAmount = newPrincipal.Add(interest)
	loan.TotalPaidAmount = newPrincipal.Zero()
	loan.InterestRate = rate
	loan.DurationMonths = duration
	loan.Status = LoanActive
	loan.RestructuredAt = &at
	loan.DueDate = now.AddDate(0, duration, 0)
	loan.Schedule = GenerateSchedule(loan.TotalAmount, rate, duration, now)
	if len(loan.Schedule) > 0 {
		loan.MonthlyPayment = loan.Schedule[0].Amount
	}

	return LoanTransition{Loan: loan, Events: []Event{EventLoanRestructured}}, nil
}

// =============================================================================
// AMORTIZATION SCHEDULE
// =============================================================================

// GenerateSchedule produces duration equal installments due monthly from
// one month after start. Each row carries its interest/principal split; the
// final row absorbs the rounding remainder so the rows sum exactly to the
// total.
func GenerateSchedule(total money.Money, annualRate decimal.Decimal, durationMonths int, start time.Time) []Installment {
	if durationMonths <= 0 {
		return nil
	}

	installment := total.Div(int64(durationMonths))
	monthlyRate := annualRate.Div(monthsInYear).Div(hundred)

	schedule := make([]Installment, 0, durationMonths)
	remaining := total
	due := start

	for i := 1; i <= durationMonths; i++ {
		due = due.AddDate(0, 1, 0)

		amount := installment
		if i == durationMonths {
			amount = remaining // absorb the rounding remainder
		}

		interest := remaining.MulRate(monthlyRate)
		if interest.GreaterThan(amount) {
			interest = amount
		}

		remaining = remaining.Sub(amount)
		schedule = append(schedule, Installment{
			Number:    i,
			DueDate:   due,
			Amount:    amount,
			Interest:  interest,
			Principal: amount.Sub(interest),
			Remaining: remaining,
			Status:    InstallmentPending,
		})
	}
	return schedule
}
