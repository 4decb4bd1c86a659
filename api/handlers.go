/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates every decision to
  the engine. Handlers load histories from the store, call the pure
  engine, and persist what it returns - the engine itself never touches
  storage.

ENDPOINTS:
  Groups:
    GET    /api/groups                          List group IDs
    POST   /api/groups                          Create group from JSON config
    GET    /api/groups/{gid}/compliance         Group compliance report

  Contributions:
    POST   /api/groups/{gid}/members/{mid}/contributions        Record
    GET    /api/groups/{gid}/members/{mid}/contributions        History
    POST   /api/contributions/{id}/verify                       Verify
    GET    /api/groups/{gid}/members/{mid}/standing             Summary
    GET    /api/groups/{gid}/members/{mid}/eligibility          Loan ceiling
    GET    /api/groups/{gid}/members/{mid}/penalties            Penalty log

  Loans:
    POST   /api/groups/{gid}/members/{mid}/loans   Request
    GET    /api/groups/{gid}/members/{mid}/loans   List
    GET    /api/loans/{id}                         Get with schedule
    POST   /api/loans/{id}/approve
    POST   /api/loans/{id}/reject
    POST   /api/loans/{id}/payments
    POST   /api/loans/{id}/restructure
    POST   /api/loans/{id}/default

  Admin:
    POST   /api/admin/reconcile     On-demand overdue sweep

ERROR HANDLING:
  Engine errors map to HTTP status via their sentinel:
  - 400: insufficient amount, bad loan amount, over payment
  - 404: record not found
  - 409: duplicates, active loan exists, illegal state transition
  - 422: policy configuration errors
  - 500: storage failures

SECURITY NOTE:
  No authentication middleware. All endpoints are public; front with a
  gateway in production.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/cache"
	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/money"
	"github.com/warp/settlement-engine/store"
)

// summaryTTL bounds staleness of cached member summaries. Writers also
// invalidate on every state change; the TTL is the backstop.
const summaryTTL = 5 * time.Minute

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store store.Store
	Cache cache.Cache
	Log   *logrus.Logger

	Evaluator engine.ContributionEvaluator
	Loans     engine.LoanLifecycle

	// Now is the clock used for "today"; overridable in tests.
	Now func() time.Time
}

// NewHandler creates a handler over the given store and cache.
func NewHandler(st store.Store, c cache.Cache, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Store: st,
		Cache: c,
		Log:   log,
		Now:   time.Now,
	}
}

// =============================================================================
// GROUPS
// =============================================================================

// CreateGroup stores a group's policies from a factory JSON config.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	group, err := factory.ParseGroupConfig(string(raw))
	if err != nil {
		writeError(w, statusFor(err), "Invalid group configuration", err)
		return
	}

	ctx := r.Context()
	if group.Contribution.RequiredAmount.IsPositive() {
		if err := h.Store.SaveContributionPolicy(ctx, group.Contribution); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save contribution policy", err)
			return
		}
	}
	if group.Loan.InterestType != "" {
		if err := h.Store.SaveLoanPolicy(ctx, group.Loan); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save loan policy", err)
			return
		}
	}

	h.Log.WithField("group", group.GroupID).Info("group created")
	writeJSON(w, http.StatusCreated, map[string]string{"group_id": string(group.GroupID)})
}

// ListGroups returns every configured group ID.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GetGroupCompliance returns the group-wide compliance report for the
// current period, cached per group.
func (h *Handler) GetGroupCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "gid"))

	key := cache.ComplianceKey(string(groupID))
	if cached, ok := h.Cache.Get(ctx, key); ok {
		writeRawJSON(w, http.StatusOK, []byte(cached))
		return
	}

	policy, err := h.Store.GetContributionPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group not found", err)
		return
	}

	byMember, err := h.Store.ListGroupContributions(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contributions", err)
		return
	}

	members := make([]engine.MemberID, 0, len(byMember))
	for id := range byMember {
		members = append(members, id)
	}
	sortMemberIDs(members)

	loansByMember := make(map[engine.MemberID]engine.LoanHistory, len(members))
	for _, id := range members {
		loans, err := h.Store.ListLoans(ctx, groupID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load loans", err)
			return
		}
		loansByMember[id] = loans
	}

	report := engine.GroupCompliance(policy, members, byMember, loansByMember, h.Now())

	body, _ := json.Marshal(report)
	h.Cache.Set(ctx, key, string(body), summaryTTL)
	writeRawJSON(w, http.StatusOK, body)
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

// RecordContribution evaluates and persists a member's payment.
func (h *Handler) RecordContribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	var req RecordContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.Store.GetContributionPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group not found", err)
		return
	}

	amount, err := money.Parse(req.Amount, policy.RequiredAmount.Currency())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	date := h.Now()
	if req.Date != "" {
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	ctype := engine.ContributionRegular
	if req.Type != "" {
		ctype = engine.ContributionType(req.Type)
	}

	history, err := h.Store.ListContributions(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	decision, err := h.Evaluator.Evaluate(policy, history, amount, date, ctype)
	if err != nil {
		writeError(w, statusFor(err), "Contribution rejected", err)
		return
	}

	decision.Contribution.GroupID = groupID
	decision.Contribution.MemberID = memberID
	if decision.Classification != engine.ClassifiedFailed {
		if err := h.Store.SaveContribution(ctx, &decision.Contribution); err != nil {
			writeError(w, statusFor(err), "Failed to save contribution", err)
			return
		}
	}

	if decision.Details.Penalty.IsOverdue && decision.Details.Penalty.TotalPenalty.IsPositive() {
		penalty := store.PenaltyRecord{
			GroupID:        groupID,
			MemberID:       memberID,
			ContributionID: decision.Contribution.ID,
			Amount:         decision.Details.Penalty.TotalPenalty,
			Reason:         "late settlement of prior period",
			AssessedAt:     h.Now(),
		}
		if err := h.Store.AppendPenalty(ctx, &penalty); err != nil {
			h.Log.WithError(err).Warn("failed to record penalty")
		}
	}

	h.invalidateMember(ctx, groupID, memberID)
	h.Log.WithFields(logrus.Fields{
		"group":          groupID,
		"member":         memberID,
		"classification": decision.Classification,
		"amount":         amount.String(),
	}).Info("contribution recorded")

	writeJSON(w, http.StatusCreated, toDecisionDTO(decision))
}

// ListContributions returns a member's full contribution history.
func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	history, err := h.Store.ListContributions(r.Context(), groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]ContributionDTO, 0, len(history))
	for _, c := range history {
		dtos = append(dtos, toContributionDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyContribution marks a contribution verified against external
// payment records.
func (h *Handler) VerifyContribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.ContributionID(chi.URLParam(r, "id"))

	c, err := h.Store.GetContribution(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), "Contribution not found", err)
		return
	}

	verified := c.Verify(h.Now())
	if err := h.Store.MarkVerified(ctx, id, h.Now()); err != nil {
		writeError(w, statusFor(err), "Failed to verify contribution", err)
		return
	}
	if verified.Status != c.Status {
		if err := h.Store.UpdateContributionStatus(ctx, id, verified.Status); err != nil {
			writeError(w, statusFor(err), "Failed to update status", err)
			return
		}
	}

	h.invalidateMember(ctx, c.GroupID, c.MemberID)
	writeJSON(w, http.StatusOK, toContributionDTO(verified))
}

// GetMemberStanding returns the member's summary for the current period,
// cached per member.
func (h *Handler) GetMemberStanding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	key := cache.SummaryKey(string(groupID), string(memberID))
	if cached, ok := h.Cache.Get(ctx, key); ok {
		writeRawJSON(w, http.StatusOK, []byte(cached))
		return
	}

	policy, err := h.Store.GetContributionPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group not found", err)
		return
	}
	contributions, err := h.Store.ListContributions(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contributions", err)
		return
	}
	loans, err := h.Store.ListLoans(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load loans", err)
		return
	}

	summary := engine.SummarizeMember(policy, contributions, loans, h.Now())
	summary.MemberID = memberID

	body, _ := json.Marshal(summary)
	h.Cache.Set(ctx, key, string(body), summaryTTL)
	writeRawJSON(w, http.StatusOK, body)
}

// GetEligibility returns how much the member could borrow right now.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	contributionPolicy, err := h.Store.GetContributionPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group not found", err)
		return
	}
	loanPolicy, err := h.Store.GetLoanPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group has no loan policy", err)
		return
	}
	contributions, err := h.Store.ListContributions(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contributions", err)
		return
	}
	loans, err := h.Store.ListLoans(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load loans", err)
		return
	}

	report := engine.LoanEligibility(loanPolicy, contributionPolicy, contributions, loans)
	writeJSON(w, http.StatusOK, EligibilityDTO{
		MemberID:           string(memberID),
		Eligible:           report.Eligible,
		MaxAmount:          toAmountDTO(report.MaxAmount),
		TotalContributions: toAmountDTO(report.TotalContributions),
		OpenLoanBalance:    toAmountDTO(report.OpenLoanBalance),
		Reason:             report.Reason,
	})
}

// ListPenalties returns the member's assessed penalties.
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	records, err := h.Store.ListPenalties(r.Context(), groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load penalties", err)
		return
	}

	dtos := make([]PenaltyRecordDTO, 0, len(records))
	for _, p := range records {
		dtos = append(dtos, toPenaltyDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOANS
// =============================================================================

// RequestLoan validates and prices a new loan request.
func (h *Handler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	var req RequestLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loanPolicy, err := h.Store.GetLoanPolicy(ctx, groupID)
	if err != nil {
		writeError(w, statusFor(err), "Group has no loan policy", err)
		return
	}

	currency := loanPolicy.MaxLoanAmount.Currency()
	if currency == "" {
		if cp, err := h.Store.GetContributionPolicy(ctx, groupID); err == nil {
			currency = cp.RequiredAmount.Currency()
		}
	}

	principal, err := money.Parse(req.Amount, currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	contributions, err := h.Store.ListContributions(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load contributions", err)
		return
	}
	loans, err := h.Store.ListLoans(ctx, groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load loans", err)
		return
	}

	transition, err := h.Loans.Request(loanPolicy, contributions, loans, memberID, principal, h.Now())
	if err != nil {
		writeError(w, statusFor(err), "Loan request rejected", err)
		return
	}

	if err := h.Store.SaveLoan(ctx, &transition.Loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save loan", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"group":     groupID,
		"member":    memberID,
		"loan":      transition.Loan.ID,
		"principal": principal.String(),
		"status":    transition.Loan.Status,
	}).Info("loan requested")

	writeJSON(w, http.StatusCreated, LoanTransitionDTO{
		Loan:   toLoanDTO(transition.Loan),
		Events: transition.Events,
	})
}

// ListLoans returns a member's loans.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	groupID := engine.GroupID(chi.URLParam(r, "gid"))
	memberID := engine.MemberID(chi.URLParam(r, "mid"))

	loans, err := h.Store.ListLoans(r.Context(), groupID, memberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load loans", err)
		return
	}

	dtos := make([]LoanDTO, 0, len(loans))
	for _, l := range loans {
		dtos = append(dtos, toLoanDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns one loan with its schedule.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Store.GetLoan(r.Context(), engine.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Loan not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// ApproveLoan activates a pending loan and generates its schedule.
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, func(loan engine.Loan) (engine.LoanTransition, error) {
		return h.Loans.Approve(loan, h.Now())
	})
}

// RejectLoan declines a pending loan.
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	var req RejectLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.transitionLoan(w, r, func(loan engine.Loan) (engine.LoanTransition, error) {
		return h.Loans.Reject(loan, req.Reason, h.Now())
	})
}

// RecordLoanPayment applies a repayment to an active or overdue loan.
func (h *Handler) RecordLoanPayment(w http.ResponseWriter, r *http.Request) {
	var req LoanPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.transitionLoan(w, r, func(loan engine.Loan) (engine.LoanTransition, error) {
		amount, err := money.Parse(req.Amount, loan.TotalAmount.Currency())
		if err != nil {
			return engine.LoanTransition{}, fmt.Errorf("%w: %v", engine.ErrInvalidLoanAmount, err)
		}
		return h.Loans.RecordPayment(loan, amount, h.Now())
	})
}

// RestructureLoan re-prices an overdue loan under the group's current
// policy.
func (h *Handler) RestructureLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RestructureLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.transitionLoan(w, r, func(loan engine.Loan) (engine.LoanTransition, error) {
		policy, err := h.Store.GetLoanPolicy(ctx, loan.GroupID)
		if err != nil {
			return engine.LoanTransition{}, err
		}
		contributions, err := h.Store.ListContributions(ctx, loan.GroupID, loan.MemberID)
		if err != nil {
			return engine.LoanTransition{}, err
		}
		loans, err := h.Store.ListLoans(ctx, loan.GroupID, loan.MemberID)
		if err != nil {
			return engine.LoanTransition{}, err
		}

		opts := engine.RestructureOptions{
			ExtendMonths: req.ExtendMonths,
			Reason:       req.Reason,
		}
		if req.PartialPayment != "" {
			partial, err := money.Parse(req.PartialPayment, loan.TotalAmount.Currency())
			if err != nil {
				return engine.LoanTransition{}, fmt.Errorf("%w: %v", engine.ErrInvalidLoanAmount, err)
			}
			opts.PartialPayment = partial
		}
		return h.Loans.Restructure(loan, policy, contributions, loans, opts, h.Now())
	})
}

// DefaultLoan processes an eligible overdue loan as defaulted and records
// the default penalty.
func (h *Handler) DefaultLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	loan, err := h.Store.GetLoan(ctx, engine.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Loan not found", err)
		return
	}

	outcome, err := h.Loans.Default(loan, h.Now())
	if err != nil {
		writeError(w, statusFor(err), "Loan is not eligible for default", err)
		return
	}

	if err := h.Store.SaveLoan(ctx, &outcome.Loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save loan", err)
		return
	}

	penalty := store.PenaltyRecord{
		GroupID:    outcome.Loan.GroupID,
		MemberID:   outcome.Loan.MemberID,
		LoanID:     outcome.Loan.ID,
		Amount:     outcome.Penalty,
		Reason:     "loan default",
		AssessedAt: h.Now(),
	}
	if err := h.Store.AppendPenalty(ctx, &penalty); err != nil {
		h.Log.WithError(err).Warn("failed to record default penalty")
	}

	h.invalidateMember(ctx, outcome.Loan.GroupID, outcome.Loan.MemberID)
	penaltyDTO := toAmountDTO(outcome.Penalty)
	writeJSON(w, http.StatusOK, LoanTransitionDTO{
		Loan:    toLoanDTO(outcome.Loan),
		Events:  outcome.Events,
		Penalty: &penaltyDTO,
	})
}

// transitionLoan loads the loan, applies the transition, and persists the
// result.
func (h *Handler) transitionLoan(w http.ResponseWriter, r *http.Request, fn func(engine.Loan) (engine.LoanTransition, error)) {
	ctx := r.Context()

	loan, err := h.Store.GetLoan(ctx, engine.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Loan not found", err)
		return
	}

	transition, err := fn(loan)
	if err != nil {
		writeError(w, statusFor(err), "Loan transition failed", err)
		return
	}

	if err := h.Store.SaveLoan(ctx, &transition.Loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save loan", err)
		return
	}

	h.invalidateMember(ctx, transition.Loan.GroupID, transition.Loan.MemberID)
	writeJSON(w, http.StatusOK, LoanTransitionDTO{
		Loan:   toLoanDTO(transition.Loan),
		Events: transition.Events,
	})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// TriggerReconcile runs the overdue sweep for the requested groups (or
// all) as of the requested date (or now). Idempotent: a second run with
// the same inputs changes nothing.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means full sweep
	}

	asOf := h.Now()
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	result, err := h.Reconcile(r.Context(), req.GroupIDs, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reconcile performs the sweep. Exported so the scheduler can share it.
func (h *Handler) Reconcile(ctx context.Context, groupIDs []string, asOf time.Time) (ReconcileResultDTO, error) {
	var result ReconcileResultDTO

	groups := make([]engine.GroupID, 0, len(groupIDs))
	for _, g := range groupIDs {
		groups = append(groups, engine.GroupID(g))
	}
	if len(groups) == 0 {
		all, err := h.Store.ListGroups(ctx)
		if err != nil {
			return result, err
		}
		groups = all
	}

	for _, groupID := range groups {
		result.GroupsChecked++

		policy, err := h.Store.GetContributionPolicy(ctx, groupID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return result, err
		}

		byMember, err := h.Store.ListGroupContributions(ctx, groupID)
		if err != nil {
			return result, err
		}

		for memberID, history := range byMember {
			updates := h.Evaluator.ReconcileOverdue(policy, history, asOf)
			for _, u := range updates {
				if err := h.Store.UpdateContributionStatus(ctx, u.ContributionID, u.ToStatus); err != nil {
					return result, err
				}
				result.ContributionsMarked++

				if u.Penalty.IsOverdue && u.Penalty.TotalPenalty.IsPositive() {
					penalty := store.PenaltyRecord{
						GroupID:        groupID,
						MemberID:       memberID,
						ContributionID: u.ContributionID,
						Amount:         u.Penalty.TotalPenalty,
						Reason:         "contribution past grace deadline",
						AssessedAt:     asOf,
					}
					if err := h.Store.AppendPenalty(ctx, &penalty); err != nil {
						return result, err
					}
					result.PenaltiesAssessed++
				}
			}
			if len(updates) > 0 {
				h.invalidateMember(ctx, groupID, memberID)
			}
		}
	}

	// Active loans past their due date go overdue in the same sweep.
	active, err := h.Store.ListLoansByStatus(ctx, engine.LoanActive)
	if err != nil {
		return result, err
	}
	for _, loan := range active {
		transition, err := h.Loans.MarkOverdue(loan, asOf)
		if err != nil || transition.Loan.Status != engine.LoanOverdue {
			continue
		}
		if err := h.Store.SaveLoan(ctx, &transition.Loan); err != nil {
			return result, err
		}
		result.LoansMarkedOverdue++
		h.invalidateMember(ctx, loan.GroupID, loan.MemberID)
	}

	h.Log.WithFields(logrus.Fields{
		"groups":        result.GroupsChecked,
		"contributions": result.ContributionsMarked,
		"loans":         result.LoansMarkedOverdue,
		"penalties":     result.PenaltiesAssessed,
	}).Info("reconciliation sweep completed")

	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) invalidateMember(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) {
	h.Cache.Delete(ctx,
		cache.SummaryKey(string(groupID), string(memberID)),
		cache.ComplianceKey(string(groupID)))
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, engine.ErrDuplicateContribution),
		errors.Is(err, engine.ErrActiveLoanExists),
		errors.Is(err, engine.ErrInvalidLoanStatus):
		return http.StatusConflict
	case engine.IsClientError(err):
		return http.StatusBadRequest
	case engine.IsPolicyError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func sortMemberIDs(ids []engine.MemberID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
