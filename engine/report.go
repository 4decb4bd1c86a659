/*
report.go - Member standing and group compliance reports

PURPOSE:
  Read-only views derived from the same histories the evaluator and loan
  lifecycle consume. Nothing here mutates state; reports are snapshots as
  of a caller-supplied reference date.

  - Eligibility: how much a member may borrow right now, bounded by the
    policy maximum, a multiple of their lifetime contributions, and a
    multiple of the group's required amount, less anything already out on
    open loans.
  - MemberSummary: per-member contribution standing for one period.
  - ComplianceReport: group-wide view flagging members below the
    compliance threshold.

SEE ALSO:
  - profile.go: the scores embedded in each summary
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/money"
)

var (
	// eligibilityContributionMultiple bounds borrowing to a multiple of what
	// the member has paid in.
	eligibilityContributionMultiple = decimal.NewFromInt(3)

	// eligibilityRequiredMultiple bounds borrowing to a multiple of the
	// group's monthly required amount.
	eligibilityRequiredMultiple = decimal.NewFromInt(12)

	// complianceThreshold is the paid-in share below which a member is
	// flagged non-compliant.
	complianceThreshold = decimal.NewFromFloat(0.8)
)

// EligibilityReport states how much a member could borrow and why.
type EligibilityReport struct {
	MemberID           MemberID    `json:"member_id"`
	Eligible           bool        `json:"eligible"`
	MaxAmount          money.Money `json:"max_amount"`
	TotalContributions money.Money `json:"total_contributions"`
	OpenLoanBalance    money.Money `json:"open_loan_balance"`
	Reason             string      `json:"reason,omitempty"`
}

// LoanEligibility computes the member's current borrowing ceiling:
//
//	min(policy max, 3 * lifetime contributions, 12 * required amount)
//	  - outstanding balance on open loans, floored at zero.
//
// A zero policy max means the policy imposes no ceiling of its own, the
// same reading loan request validation gives it; the contribution-based
// bounds still apply. A member with an open loan is never eligible for a
// second one.
func LoanEligibility(
	loanPolicy LoanPolicy,
	contributionPolicy ContributionPolicy,
	contributions ContributionHistory,
	loans LoanHistory,
) EligibilityReport {
	report := EligibilityReport{
		MemberID:           memberOf(contributions),
		TotalContributions: contributionPolicy.RequiredAmount.Zero(),
		OpenLoanBalance:    contributionPolicy.RequiredAmount.Zero(),
	}

	for _, c := range contributions {
		if c.Active() && (c.Status == ContributionPaid || c.Status == ContributionPartial) {
			report.TotalContributions = report.TotalContributions.Add(c.Amount)
		}
	}
	for _, l := range loans {
		if !l.Status.Terminal() && l.Status != LoanRejected {
			report.OpenLoanBalance = report.OpenLoanBalance.Add(l.Outstanding())
		}
	}

	if loans.HasOpen() {
		report.MaxAmount = report.TotalContributions.Zero()
		report.Reason = "an open loan already exists"
		return report
	}

	ceiling := report.TotalContributions.MulRate(eligibilityContributionMultiple).
		Min(contributionPolicy.RequiredAmount.MulRate(eligibilityRequiredMultiple))
	if loanPolicy.MaxLoanAmount.IsPositive() {
		ceiling = ceiling.Min(loanPolicy.MaxLoanAmount)
	}
	if ceiling.IsNegative() {
		ceiling = ceiling.Zero()
	}

	report.MaxAmount = ceiling
	report.Eligible = ceiling.IsPositive()
	if !report.Eligible {
		report.Reason = "no contribution record to borrow against"
	}
	return report
}

// =============================================================================
// MEMBER SUMMARY
// =============================================================================

// MemberSummary is one member's contribution standing for a period.
type MemberSummary struct {
	MemberID         MemberID        `json:"member_id"`
	Period           Period          `json:"period"`
	RequiredAmount   money.Money     `json:"required_amount"`
	PaidAmount       money.Money     `json:"paid_amount"`
	RemainingBalance money.Money     `json:"remaining_balance"`
	PartialsUsed     int             `json:"partials_used"`
	Compliant        bool            `json:"compliant"`
	Profile          BorrowerProfile `json:"profile"`
}

// SummarizeMember reports a member's standing for the period containing the
// reference date. Compliance means at least 80% of the required amount paid
// in.
func SummarizeMember(
	policy ContributionPolicy,
	contributions ContributionHistory,
	loans LoanHistory,
	asOf time.Time,
) MemberSummary {
	summary := MemberSummary{
		MemberID:       memberOf(contributions),
		Period:         PeriodOf(asOf),
		RequiredAmount: policy.RequiredAmount,
		PaidAmount:     policy.RequiredAmount.Zero(),
		Profile:        ProfileFromHistory(contributions, loans),
	}

	for _, c := range contributions.InPeriod(asOf) {
		if c.Status == ContributionPaid || c.Status == ContributionPartial {
			summary.PaidAmount = summary.PaidAmount.Add(c.Amount)
			if c.Status == ContributionPartial {
				summary.PartialsUsed++
			}
		}
	}

	summary.RemainingBalance = policy.RequiredAmount.Sub(summary.PaidAmount)
	if summary.RemainingBalance.IsNegative() {
		summary.RemainingBalance = policy.RequiredAmount.Zero()
	}
	summary.Compliant = !summary.PaidAmount.LessThan(policy.RequiredAmount.MulRate(complianceThreshold))
	return summary
}

// =============================================================================
// GROUP COMPLIANCE
// =============================================================================

// ComplianceReport aggregates member summaries for one group and period.
type ComplianceReport struct {
	GroupID        GroupID         `json:"group_id"`
	Period         Period          `json:"period"`
	Members        []MemberSummary `json:"members"`
	CompliantCount int             `json:"compliant_count"`
	TotalCollected money.Money     `json:"total_collected"`
	TotalExpected  money.Money     `json:"total_expected"`
}

// GroupCompliance builds the group-wide report from per-member histories.
// Iteration follows the order of the members slice so output is stable.
func GroupCompliance(
	policy ContributionPolicy,
	members []MemberID,
	contributionsByMember map[MemberID]ContributionHistory,
	loansByMember map[MemberID]LoanHistory,
	asOf time.Time,
) ComplianceReport {
	report := ComplianceReport{
		GroupID:        policy.GroupID,
		Period:         PeriodOf(asOf),
		TotalCollected: policy.RequiredAmount.Zero(),
		TotalExpected:  policy.RequiredAmount.Zero(),
	}

	for _, id := range members {
		summary := SummarizeMember(policy, contributionsByMember[id], loansByMember[id], asOf)
		summary.MemberID = id
		report.Members = append(report.Members, summary)
		report.TotalCollected = report.TotalCollected.Add(summary.PaidAmount)
		report.TotalExpected = report.TotalExpected.Add(policy.RequiredAmount)
		if summary.Compliant {
			report.CompliantCount++
		}
	}
	return report
}
