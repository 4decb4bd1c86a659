/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes the API speaks. Monetary amounts cross the wire
  as decimal strings ("10000.00") plus a currency, never as floats; the
  handlers convert to money.Money at the boundary and back on the way out.

SEE ALSO:
  - handlers.go: the producers and consumers of these types
*/
package api

import (
	"time"

	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/money"
	"github.com/warp/settlement-engine/store"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RecordContributionRequest submits a member's payment for evaluation.
type RecordContributionRequest struct {
	Amount string `json:"amount"`
	// Submission date, YYYY-MM-DD. Defaults to today.
	Date string `json:"date,omitempty"`
	// regular, extra, makeup. Defaults to regular.
	Type string `json:"type,omitempty"`
}

// RequestLoanRequest asks for a new loan.
type RequestLoanRequest struct {
	Amount string `json:"amount"`
}

// RejectLoanRequest declines a pending loan.
type RejectLoanRequest struct {
	Reason string `json:"reason"`
}

// LoanPaymentRequest applies a repayment.
type LoanPaymentRequest struct {
	Amount string `json:"amount"`
}

// RestructureLoanRequest re-prices an overdue loan.
type RestructureLoanRequest struct {
	ExtendMonths   int    `json:"extend_months"`
	PartialPayment string `json:"partial_payment,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// ReconcileRequest scopes an on-demand reconciliation sweep. An empty
// group list means all groups; an empty date means now.
type ReconcileRequest struct {
	GroupIDs []string `json:"group_ids,omitempty"`
	AsOf     string   `json:"as_of,omitempty"` // YYYY-MM-DD
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AmountDTO renders a Money as a decimal string plus currency.
type AmountDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toAmountDTO(m money.Money) AmountDTO {
	return AmountDTO{Amount: m.Decimal().StringFixed(2), Currency: m.Currency()}
}

// ContributionDTO is one contribution record.
type ContributionDTO struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	MemberID    string    `json:"member_id"`
	Amount      AmountDTO `json:"amount"`
	Date        string    `json:"date"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	IsVerified  bool      `json:"is_verified"`
	VerifiedAt  string    `json:"verified_at,omitempty"`
	Overpayment AmountDTO `json:"overpayment"`
	CreatedAt   string    `json:"created_at"`
}

func toContributionDTO(c engine.Contribution) ContributionDTO {
	dto := ContributionDTO{
		ID:          string(c.ID),
		GroupID:     string(c.GroupID),
		MemberID:    string(c.MemberID),
		Amount:      toAmountDTO(c.Amount),
		Date:        c.Date.Format("2006-01-02"),
		Type:        string(c.Type),
		Status:      string(c.Status),
		IsVerified:  c.IsVerified,
		Overpayment: toAmountDTO(c.Overpayment),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.VerifiedAt != nil {
		dto.VerifiedAt = c.VerifiedAt.Format(time.RFC3339)
	}
	return dto
}

// ContributionDecisionDTO is the evaluator's verdict plus the stored record.
type ContributionDecisionDTO struct {
	Classification string          `json:"classification"`
	Message        string          `json:"message"`
	Contribution   ContributionDTO `json:"contribution"`

	RemainingBalance AmountDTO `json:"remaining_balance"`
	MinimumRequired  AmountDTO `json:"minimum_required"`
	Overpayment      AmountDTO `json:"overpayment"`
	PartialsUsed     int       `json:"partials_used"`
	IsOverdue        bool      `json:"is_overdue"`
	Penalty          AmountDTO `json:"penalty"`

	Events []engine.Event `json:"events,omitempty"`
}

func toDecisionDTO(d engine.ContributionDecision) ContributionDecisionDTO {
	return ContributionDecisionDTO{
		Classification:   string(d.Classification),
		Message:          d.Message,
		Contribution:     toContributionDTO(d.Contribution),
		RemainingBalance: toAmountDTO(d.Details.RemainingBalance),
		MinimumRequired:  toAmountDTO(d.Details.MinimumRequired),
		Overpayment:      toAmountDTO(d.Details.Overpayment),
		PartialsUsed:     d.Details.PartialsUsed,
		IsOverdue:        d.Details.IsOverdue,
		Penalty:          toAmountDTO(d.Details.Penalty.TotalPenalty),
		Events:           d.Events,
	}
}

// InstallmentDTO is one amortization schedule row.
type InstallmentDTO struct {
	Number    int       `json:"number"`
	DueDate   string    `json:"due_date"`
	Amount    AmountDTO `json:"amount"`
	Interest  AmountDTO `json:"interest"`
	Principal AmountDTO `json:"principal"`
	Remaining AmountDTO `json:"remaining_balance"`
	Status    string    `json:"status"`
}

// LoanDTO is one loan with its schedule.
type LoanDTO struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	Principal      AmountDTO `json:"principal"`
	Interest       AmountDTO `json:"interest"`
	Total          AmountDTO `json:"total"`
	TotalPaid      AmountDTO `json:"total_paid"`
	Outstanding    AmountDTO `json:"outstanding"`
	MonthlyPayment AmountDTO `json:"monthly_payment"`

	InterestRate   string `json:"interest_rate"`
	DurationMonths int    `json:"duration_months"`
	Status         string `json:"status"`

	RequestedAt     string  `json:"requested_at"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	DueDate         string  `json:"due_date"`
	LastPaymentAt   *string `json:"last_payment_at,omitempty"`
	DefaultedAt     *string `json:"defaulted_at,omitempty"`
	RestructuredAt  *string `json:"restructured_at,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`

	Schedule []InstallmentDTO `json:"schedule,omitempty"`
}

func toLoanDTO(l engine.Loan) LoanDTO {
	dto := LoanDTO{
		ID:              string(l.ID),
		GroupID:         string(l.GroupID),
		MemberID:        string(l.MemberID),
		Principal:       toAmountDTO(l.PrincipalAmount),
		Interest:        toAmountDTO(l.InterestAmount),
		Total:           toAmountDTO(l.TotalAmount),
		TotalPaid:       toAmountDTO(l.TotalPaidAmount),
		Outstanding:     toAmountDTO(l.Outstanding()),
		MonthlyPayment:  toAmountDTO(l.MonthlyPayment),
		InterestRate:    l.InterestRate.StringFixed(2),
		DurationMonths:  l.DurationMonths,
		Status:          string(l.Status),
		RequestedAt:     l.RequestedAt.Format(time.RFC3339),
		DueDate:         l.DueDate.Format("2006-01-02"),
		ApprovedAt:      fmtTimePtr(l.ApprovedAt),
		LastPaymentAt:   fmtTimePtr(l.LastPaymentAt),
		DefaultedAt:     fmtTimePtr(l.DefaultedAt),
		RestructuredAt:  fmtTimePtr(l.RestructuredAt),
		RejectionReason: l.RejectionReason,
	}
	for _, in := range l.Schedule {
		dto.Schedule = append(dto.Schedule, InstallmentDTO{
			Number:    in.Number,
			DueDate:   in.DueDate.Format("2006-01-02"),
			Amount:    toAmountDTO(in.Amount),
			Interest:  toAmountDTO(in.Interest),
			Principal: toAmountDTO(in.Principal),
			Remaining: toAmountDTO(in.Remaining),
			Status:    string(in.Status),
		})
	}
	return dto
}

// LoanTransitionDTO is the outcome of a lifecycle operation.
type LoanTransitionDTO struct {
	Loan    LoanDTO        `json:"loan"`
	Events  []engine.Event `json:"events,omitempty"`
	Penalty *AmountDTO     `json:"penalty,omitempty"`
}

// EligibilityDTO is a member's borrowing ceiling.
type EligibilityDTO struct {
	MemberID           string    `json:"member_id"`
	Eligible           bool      `json:"eligible"`
	MaxAmount          AmountDTO `json:"max_amount"`
	TotalContributions AmountDTO `json:"total_contributions"`
	OpenLoanBalance    AmountDTO `json:"open_loan_balance"`
	Reason             string    `json:"reason,omitempty"`
}

// PenaltyRecordDTO is one assessed penalty.
type PenaltyRecordDTO struct {
	ID             string    `json:"id"`
	ContributionID string    `json:"contribution_id,omitempty"`
	LoanID         string    `json:"loan_id,omitempty"`
	Amount         AmountDTO `json:"amount"`
	Reason         string    `json:"reason,omitempty"`
	AssessedAt     string    `json:"assessed_at"`
}

func toPenaltyDTO(p store.PenaltyRecord) PenaltyRecordDTO {
	return PenaltyRecordDTO{
		ID:             p.ID,
		ContributionID: string(p.ContributionID),
		LoanID:         string(p.LoanID),
		Amount:         toAmountDTO(p.Amount),
		Reason:         p.Reason,
		AssessedAt:     p.AssessedAt.Format(time.RFC3339),
	}
}

// ReconcileResultDTO summarizes one sweep.
type ReconcileResultDTO struct {
	GroupsChecked       int `json:"groups_checked"`
	ContributionsMarked int `json:"contributions_marked_overdue"`
	LoansMarkedOverdue  int `json:"loans_marked_overdue"`
	PenaltiesAssessed   int `json:"penalties_assessed"`
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
