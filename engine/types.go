/*
Package engine implements the financial settlement core for rotating-savings
("chama") groups: contribution evaluation, penalty accrual, loan interest
pricing, and the loan lifecycle state machine.

PURPOSE:
  The engine is a pure, synchronous computation layer. Every operation is a
  function over (policy snapshot, ordered history, amounts, reference date)
  that returns a decision, a state transition, or a report - plus the events
  the caller should notify on. The engine never persists, never notifies,
  never reads a clock: "overdue" is always computed against a caller-supplied
  reference date.

CONCURRENCY:
  None inside the engine. Callers must serialize mutations per (member,
  group, period) or per loan, because duplicate detection and partial-count
  checks read-then-decide against shared history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contribution: a member's periodic payment with a status that is a pure
    function of (amount, policy, prior contributions, date) at evaluation
    time
  - Loan: principal + frozen interest + amortization schedule
  - History types: ordered slices supplied by the caller, never queried

SEE ALSO:
  - contribution.go: evaluation and reconciliation
  - loan.go: lifecycle state machine
  - interest.go / penalty.go: the calculators
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type MemberID string
type ContributionID string
type LoanID string

// =============================================================================
// CONTRIBUTION
// =============================================================================

// ContributionType distinguishes why a contribution was made.
type ContributionType string

const (
	ContributionRegular ContributionType = "regular"
	ContributionExtra   ContributionType = "extra"
	ContributionMakeup  ContributionType = "makeup"
	ContributionPenalty ContributionType = "penalty"
)

// ContributionStatus is the persisted lifecycle state of a contribution.
// It is only ever set through a defined transition (evaluation, verify,
// reconcile, reconciliation pass) - never mutated ad hoc.
type ContributionStatus string

const (
	ContributionPending ContributionStatus = "pending"
	ContributionPartial ContributionStatus = "partial"
	ContributionPaid    ContributionStatus = "paid"
	ContributionOverdue ContributionStatus = "overdue"
	ContributionFailed  ContributionStatus = "failed"
)

// Contribution is one member payment toward a period's required amount.
type Contribution struct {
	ID       ContributionID
	GroupID  GroupID
	MemberID MemberID

	Amount money.Money
	Date   time.Time // the period this payment settles (day granularity)
	Type   ContributionType
	Status ContributionStatus

	IsVerified bool
	VerifiedAt *time.Time

	// Overpayment excess recorded at evaluation time; never refunded.
	Overpayment money.Money

	CreatedAt time.Time
	// Soft retirement. Contributions are never hard-deleted.
	DeletedAt *time.Time
}

// Verify marks a contribution as verified at the given time and settles
// its status. Pure: returns the updated value.
func (c Contribution) Verify(at time.Time) Contribution {
	c.IsVerified = true
	t := at
	c.VerifiedAt = &t
	if c.Status == ContributionPending {
		c.Status = ContributionPaid
	}
	return c
}

// Reconcile applies the outcome of an external payment-records check.
// Verified contributions settle to paid; failed verification reverts to
// pending for another attempt.
func (c Contribution) Reconcile(verified bool) Contribution {
	c.IsVerified = verified
	if verified {
		c.Status = ContributionPaid
	} else {
		c.Status = ContributionPending
	}
	return c
}

// Retire soft-deletes the contribution.
func (c Contribution) Retire(at time.Time) Contribution {
	t := at
	c.DeletedAt = &t
	return c
}

// Active reports whether the contribution still counts toward history.
func (c Contribution) Active() bool { return c.DeletedAt == nil }

// ContributionHistory is a member's prior contributions in a group, ordered
// by date ascending. Supplied by the caller; the engine never queries.
type ContributionHistory []Contribution

// InPeriod returns the active contributions falling in the same period as t.
func (h ContributionHistory) InPeriod(t time.Time) ContributionHistory {
	var out ContributionHistory
	for _, c := range h {
		if c.Active() && SamePeriod(c.Date, t) {
			out = append(out, c)
		}
	}
	return out
}

// Latest returns the most recent active contribution, or false if none.
func (h ContributionHistory) Latest() (Contribution, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Active() {
			return h[i], true
		}
	}
	return Contribution{}, false
}

// =============================================================================
// LOAN
// =============================================================================

// LoanStatus is the loan state machine's current state.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanActive    LoanStatus = "active"
	LoanPaid      LoanStatus = "paid"
	LoanOverdue   LoanStatus = "overdue"
	LoanDefaulted LoanStatus = "defaulted"
	LoanRejected  LoanStatus = "rejected"
)

// Terminal reports whether no further transition is legal from this state.
func (s LoanStatus) Terminal() bool {
	return s == LoanPaid || s == LoanDefaulted || s == LoanRejected
}

// InstallmentStatus tracks a single schedule entry.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaidOff InstallmentStatus = "paid"
)

// Installment is one row of an amortization schedule. Amount is split into
// interest and principal portions for reporting.
type Installment struct {
	Number    int               `json:"number"`
	DueDate   time.Time         `json:"due_date"`
	Amount    money.Money       `json:"amount"`
	Interest  money.Money       `json:"interest"`
	Principal money.Money       `json:"principal"`
	Remaining money.Money       `json:"remaining_balance"`
	Status    InstallmentStatus `json:"status"`
}

// Loan is a pooled loan to one member. TotalAmount = PrincipalAmount +
// InterestAmount, computed once at approval and frozen thereafter.
type Loan struct {
	ID       LoanID
	GroupID  GroupID
	MemberID MemberID

	PrincipalAmount money.Money
	InterestAmount  money.Money
	TotalAmount     money.Money
	TotalPaidAmount money.Money
	MonthlyPayment  money.Money

	// Annual rate in percent used for amortization splits.
	InterestRate   decimal.Decimal
	DurationMonths int

	Status   LoanStatus
	Schedule []Installment

	RequestedAt     time.Time
	ApprovedAt      *time.Time
	DueDate         time.Time
	LastPaymentAt   *time.Time
	DefaultedAt     *time.Time
	RestructuredAt  *time.Time
	RejectionReason string
}

// Outstanding returns the unpaid portion of the frozen total.
func (l Loan) Outstanding() money.Money { return l.TotalAmount.Sub(l.TotalPaidAmount) }

// LoanHistory is a member's prior loans in a group, ordered by request date.
type LoanHistory []Loan

// HasOpen reports whether any loan is currently pending or active (or
// overdue, which is still an open obligation).
func (h LoanHistory) HasOpen() bool {
	for _, l := range h {
		switch l.Status {
		case LoanPending, LoanActive, LoanOverdue:
			return true
		}
	}
	return false
}

// OverdueCount counts loans that went overdue or defaulted, the input to
// fixed-rate risk adjustment.
func (h LoanHistory) OverdueCount() int {
	n := 0
	for _, l := range h {
		if l.Status == LoanOverdue || l.Status == LoanDefaulted {
			n++
		}
	}
	return n
}
