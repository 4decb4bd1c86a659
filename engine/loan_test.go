package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// requestAndApprove runs a clean borrower through request + approval under a
// fixed 10% policy: principal 12,000.00, interest 1,200.00, total 13,200.00
// over 12 months (installments of exactly 1,100.00).
func requestAndApprove(t *testing.T, now time.Time) engine.Loan {
	t.Helper()
	var lc engine.LoanLifecycle

	policy := fixedPolicy(10)
	policy.RequiresApproval = true
	requested, err := lc.Request(policy, nil, nil, "mem-1", money.FromMajor(12000, "KES"), now)
	require.NoError(t, err)

	approved, err := lc.Approve(requested.Loan, now)
	require.NoError(t, err)
	return approved.Loan
}

// =============================================================================
// REQUEST / APPROVE / REJECT
// =============================================================================

func TestLoanRequest_PendingUntilApproved(t *testing.T) {
	// GIVEN: A policy that requires approval
	// WHEN: A clean borrower requests 12,000.00 at fixed 10%
	// THEN: The loan is Pending with interest frozen at 1,200.00

	policy := fixedPolicy(10)
	policy.RequiresApproval = true

	var lc engine.LoanLifecycle
	tr, err := lc.Request(policy, nil, nil, "mem-1", money.FromMajor(12000, "KES"), day(2025, time.January, 10))

	require.NoError(t, err)
	assert.Equal(t, engine.LoanPending, tr.Loan.Status)
	assert.True(t, tr.Loan.InterestAmount.Equal(kes("1200.00")), "got %s", tr.Loan.InterestAmount)
	assert.True(t, tr.Loan.TotalAmount.Equal(kes("13200.00")))
	assert.Empty(t, tr.Loan.Schedule, "no schedule before approval")
	assert.Equal(t, []engine.Event{engine.EventLoanRequested}, tr.Events)
}

func TestLoanRequest_AutoActivatesWithoutApproval(t *testing.T) {
	// GIVEN: A policy with requires_approval = false
	// THEN: The requested loan comes back Active with a schedule

	policy := fixedPolicy(10)
	policy.RequiresApproval = false

	var lc engine.LoanLifecycle
	tr, err := lc.Request(policy, nil, nil, "mem-1", money.FromMajor(12000, "KES"), day(2025, time.January, 10))

	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, tr.Loan.Status)
	assert.Len(t, tr.Loan.Schedule, 12)
	assert.Contains(t, tr.Events, engine.EventLoanApproved)
}

func TestLoanRequest_OpenLoanBlocksSecond(t *testing.T) {
	loans := engine.LoanHistory{{ID: "l1", Status: engine.LoanActive}}

	var lc engine.LoanLifecycle
	_, err := lc.Request(fixedPolicy(10), nil, loans, "mem-1", money.FromMajor(5000, "KES"), day(2025, time.January, 10))

	assert.ErrorIs(t, err, engine.ErrActiveLoanExists)
}

func TestLoanApprove_GeneratesSchedule(t *testing.T) {
	// GIVEN: A pending 13,200.00 total over 12 months approved January 10th
	// THEN: 12 installments of 1,100.00, first due February 10th, due date a
	//       year out

	now := day(2025, time.January, 10)
	loan := requestAndApprove(t, now)

	assert.Equal(t, engine.LoanActive, loan.Status)
	require.NotNil(t, loan.ApprovedAt)
	require.Len(t, loan.Schedule, 12)
	assert.True(t, loan.MonthlyPayment.Equal(kes("1100.00")), "got %s", loan.MonthlyPayment)
	assert.Equal(t, day(2025, time.February, 10), loan.Schedule[0].DueDate)
	assert.Equal(t, day(2026, time.January, 10), loan.DueDate)
}

func TestLoanReject_Terminal(t *testing.T) {
	policy := fixedPolicy(10)
	policy.RequiresApproval = true

	var lc engine.LoanLifecycle
	tr, err := lc.Request(policy, nil, nil, "mem-1", money.FromMajor(12000, "KES"), day(2025, time.January, 10))
	require.NoError(t, err)

	rejected, err := lc.Reject(tr.Loan, "insufficient standing", day(2025, time.January, 11))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanRejected, rejected.Loan.Status)
	assert.Equal(t, "insufficient standing", rejected.Loan.RejectionReason)

	// No transition leaves a rejected loan.
	_, err = lc.Approve(rejected.Loan, day(2025, time.January, 12))
	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)

	_, err = lc.RecordPayment(rejected.Loan, kes("100.00"), day(2025, time.January, 12))
	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)

	var statusErr *engine.LoanStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, engine.LoanRejected, statusErr.Current)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestLoanPayment_TracksScheduleAndSettles(t *testing.T) {
	now := day(2025, time.January, 10)
	loan := requestAndApprove(t, now)

	var lc engine.LoanLifecycle

	// One installment's worth marks the first row paid.
	tr, err := lc.RecordPayment(loan, kes("1100.00"), day(2025, time.February, 10))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, tr.Loan.Status)
	assert.True(t, tr.Loan.Outstanding().Equal(kes("12100.00")))
	assert.Equal(t, engine.InstallmentPaidOff, tr.Loan.Schedule[0].Status)
	assert.Equal(t, engine.InstallmentPending, tr.Loan.Schedule[1].Status)

	// Settling the remainder closes the loan.
	tr, err = lc.RecordPayment(tr.Loan, kes("12100.00"), day(2025, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanPaid, tr.Loan.Status)
	assert.True(t, tr.Loan.Outstanding().IsZero())
	assert.Contains(t, tr.Events, engine.EventLoanPaid)
}

func TestLoanPayment_OverpaymentRejected(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))

	var lc engine.LoanLifecycle
	_, err := lc.RecordPayment(loan, kes("13200.01"), day(2025, time.February, 10))

	assert.ErrorIs(t, err, engine.ErrOverPayment)
}

func TestLoanPayment_NonPositiveRejected(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))

	var lc engine.LoanLifecycle
	_, err := lc.RecordPayment(loan, kes("0.00"), day(2025, time.February, 10))
	assert.ErrorIs(t, err, engine.ErrInvalidLoanAmount)
}

func TestLoanPayment_OnOverdue_RestoresGoodStanding(t *testing.T) {
	// GIVEN: An overdue loan
	// WHEN: Any payment is recorded
	// THEN: The loan returns to Active

	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue

	var lc engine.LoanLifecycle
	tr, err := lc.RecordPayment(loan, kes("1100.00"), day(2026, time.February, 1))

	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, tr.Loan.Status)
}

// =============================================================================
// OVERDUE AND DEFAULT
// =============================================================================

func TestMarkOverdue(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10)) // due 2026-01-10

	var lc engine.LoanLifecycle

	// Before the due date: no-op, no events.
	tr, err := lc.MarkOverdue(loan, day(2025, time.December, 31))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, tr.Loan.Status)
	assert.Empty(t, tr.Events)

	// Past the due date: flagged.
	tr, err = lc.MarkOverdue(loan, day(2026, time.January, 11))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanOverdue, tr.Loan.Status)
	assert.Contains(t, tr.Events, engine.EventLoanOverdue)

	// Only Active loans can be marked.
	_, err = lc.MarkOverdue(tr.Loan, day(2026, time.January, 12))
	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)
}

func TestLoanDefault_EligibilityWindow(t *testing.T) {
	// GIVEN: A loan overdue since 2026-01-10 with 1,100 of 13,200 paid
	// WHEN: Default is attempted two months in, then at three months
	// THEN: Only the three-month attempt succeeds, with a 10% penalty on the
	//       12,100.00 outstanding

	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue
	loan.TotalPaidAmount = kes("1100.00")

	var lc engine.LoanLifecycle

	_, err := lc.Default(loan, day(2026, time.March, 10))
	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus, "two months overdue is not defaultable")

	outcome, err := lc.Default(loan, day(2026, time.April, 10))
	require.NoError(t, err)
	assert.Equal(t, engine.LoanDefaulted, outcome.Loan.Status)
	require.NotNil(t, outcome.Loan.DefaultedAt)
	assert.True(t, outcome.Penalty.Equal(kes("1210.00")), "got %s", outcome.Penalty)
	assert.Contains(t, outcome.Events, engine.EventLoanDefaulted)
}

func TestLoanDefault_HalfPaidNotEligible(t *testing.T) {
	// A borrower who repaid at least half the total cannot be defaulted.

	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue
	loan.TotalPaidAmount = kes("6600.00") // exactly 50% of 13,200

	var lc engine.LoanLifecycle
	_, err := lc.Default(loan, day(2026, time.June, 10))

	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)
}

func TestLoanDefault_OnlyFromOverdue(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))

	var lc engine.LoanLifecycle
	_, err := lc.Default(loan, day(2026, time.June, 10))

	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)
}

// =============================================================================
// RESTRUCTURE
// =============================================================================

func TestLoanRestructure_RepricesOutstanding(t *testing.T) {
	// GIVEN: An overdue loan with 12,100.00 outstanding
	// WHEN: Restructured with a 2,100.00 down payment and 6 extra months
	// THEN: New principal 10,000.00, fresh 10% interest (clean borrower),
	//       term 18 months, back to Active with a new schedule

	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue
	loan.TotalPaidAmount = kes("1100.00")

	var lc engine.LoanLifecycle
	tr, err := lc.Restructure(loan, fixedPolicy(10), nil, nil, engine.RestructureOptions{
		ExtendMonths:   6,
		PartialPayment: kes("2100.00"),
		Reason:         "hardship plan",
	}, day(2026, time.February, 1))

	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, tr.Loan.Status)
	assert.True(t, tr.Loan.PrincipalAmount.Equal(kes("10000.00")), "got %s", tr.Loan.PrincipalAmount)
	assert.True(t, tr.Loan.InterestAmount.Equal(kes("1000.00")), "got %s", tr.Loan.InterestAmount)
	assert.True(t, tr.Loan.TotalAmount.Equal(kes("11000.00")))
	assert.True(t, tr.Loan.TotalPaidAmount.IsZero(), "repayment counter restarts")
	assert.Equal(t, 18, tr.Loan.DurationMonths)
	assert.Len(t, tr.Loan.Schedule, 18)
	require.NotNil(t, tr.Loan.RestructuredAt)
	assert.Equal(t, day(2027, time.August, 1), tr.Loan.DueDate)
	assert.Contains(t, tr.Events, engine.EventLoanRestructured)
}

func TestLoanRestructure_MustExtendTerm(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue

	var lc engine.LoanLifecycle
	_, err := lc.Restructure(loan, fixedPolicy(10), nil, nil, engine.RestructureOptions{}, day(2026, time.February, 1))

	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestLoanRestructure_DownPaymentOverOutstanding(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))
	loan.Status = engine.LoanOverdue

	var lc engine.LoanLifecycle
	_, err := lc.Restructure(loan, fixedPolicy(10), nil, nil, engine.RestructureOptions{
		ExtendMonths:   6,
		PartialPayment: kes("20000.00"),
	}, day(2026, time.February, 1))

	assert.ErrorIs(t, err, engine.ErrOverPayment)
}

func TestLoanRestructure_OnlyFromOverdue(t *testing.T) {
	loan := requestAndApprove(t, day(2025, time.January, 10))

	var lc engine.LoanLifecycle
	_, err := lc.Restructure(loan, fixedPolicy(10), nil, nil, engine.RestructureOptions{ExtendMonths: 6}, day(2026, time.February, 1))

	assert.ErrorIs(t, err, engine.ErrInvalidLoanStatus)
}

// =============================================================================
// AMORTIZATION SCHEDULE
// =============================================================================

func TestGenerateSchedule_SumsExactlyToTotal(t *testing.T) {
	// GIVEN: 10,000.00 over 12 months (833.33 rounded per installment)
	// THEN: The final row absorbs the remainder so the rows sum exactly

	schedule := engine.GenerateSchedule(money.FromMajor(10000, "KES"), decimal.Zero, 12, day(2025, time.January, 10))
	require.Len(t, schedule, 12)

	sum := money.New(0, "KES")
	for _, row := range schedule {
		sum = sum.Add(row.Amount)
	}
	assert.True(t, sum.Equal(kes("10000.00")), "schedule sums to %s", sum)
	assert.True(t, schedule[0].Amount.Equal(kes("833.33")))
	assert.True(t, schedule[11].Amount.Equal(kes("833.37")), "got %s", schedule[11].Amount)
	assert.True(t, schedule[11].Remaining.IsZero())
}

func TestGenerateSchedule_InterestPrincipalSplit(t *testing.T) {
	// GIVEN: A 12% annual rate (1% monthly)
	// THEN: The first row's interest portion is 1% of the opening balance and
	//       every row splits cleanly into interest + principal

	total := money.FromMajor(12000, "KES")
	schedule := engine.GenerateSchedule(total, decimal.NewFromInt(12), 12, day(2025, time.January, 10))
	require.Len(t, schedule, 12)

	assert.True(t, schedule[0].Interest.Equal(kes("120.00")), "got %s", schedule[0].Interest)
	for i, row := range schedule {
		assert.True(t, row.Interest.Add(row.Principal).Equal(row.Amount), "row %d split mismatch", i)
	}
}

func TestGenerateSchedule_DueDatesMonthly(t *testing.T) {
	schedule := engine.GenerateSchedule(money.FromMajor(3000, "KES"), decimal.Zero, 3, day(2025, time.January, 31))
	require.Len(t, schedule, 3)

	// AddDate normalization: Jan 31 + 1 month rolls into March.
	assert.Equal(t, 1, schedule[0].Number)
	assert.True(t, schedule[0].DueDate.After(day(2025, time.January, 31)))
	assert.True(t, schedule[1].DueDate.After(schedule[0].DueDate))
	assert.True(t, schedule[2].DueDate.After(schedule[1].DueDate))
}

func TestGenerateSchedule_ZeroDuration(t *testing.T) {
	assert.Nil(t, engine.GenerateSchedule(money.FromMajor(1000, "KES"), decimal.Zero, 0, day(2025, time.January, 10)))
}
