package engine

// =============================================================================
// EVENTS - Signals for the caller's notification sink
// =============================================================================

// Event names an outcome the caller may want to notify on. The engine only
// signals which events occurred; dispatch is the caller's job.
type Event string

const (
	EventContributionRecorded Event = "contribution_recorded"
	EventContributionPartial  Event = "contribution_partial"
	EventContributionOverpaid Event = "contribution_overpaid"
	EventContributionOverdue  Event = "contribution_overdue"
	EventPenaltyAssessed      Event = "penalty_assessed"

	EventLoanRequested    Event = "loan_requested"
	EventLoanApproved     Event = "loan_approved"
	EventLoanRejected     Event = "loan_rejected"
	EventLoanPaymentMade  Event = "loan_payment_made"
	EventLoanPaid         Event = "loan_paid"
	EventLoanOverdue      Event = "loan_overdue"
	EventLoanDefaulted    Event = "loan_defaulted"
	EventLoanRestructured Event = "loan_restructured"
)
