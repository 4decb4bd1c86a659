package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/cache"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router http.Handler
	now    *time.Time
}

// newTestServer wires the router over the in-memory store with a
// controllable clock frozen at 2025-01-10.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	handler := api.NewHandler(memory.New(), cache.NewMemory(), log)
	now := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	handler.Now = func() time.Time { return now }

	return &testServer{router: api.NewRouter(handler), now: &now}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (s *testServer) createStandardGroup(t *testing.T, groupID string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/groups", factory.StandardGroupJSON(groupID, "KES"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// GROUPS
// =============================================================================

func TestAPI_CreateAndListGroups(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")
	srv.createStandardGroup(t, "grp-2")

	rec := srv.do(t, http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	groups := decode[[]string](t, rec)
	assert.Equal(t, []string{"grp-1", "grp-2"}, groups)
}

func TestAPI_CreateGroup_BadConfig(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/groups", `{"currency": "KES"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	errResp := decode[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, errResp.Details)
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// CONTRIBUTION FLOW
// =============================================================================

func TestAPI_RecordContribution_FullFlow(t *testing.T) {
	// GIVEN: A standard group requiring 10,000.00 per period
	// WHEN: A member pays in full, then checks their standing
	// THEN: The contribution classifies paid and the standing is compliant

	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	decision := decode[api.ContributionDecisionDTO](t, rec)
	assert.Equal(t, "paid", decision.Classification)
	assert.Equal(t, "10000.00", decision.Contribution.Amount.Amount)
	assert.Equal(t, "KES", decision.Contribution.Amount.Currency)
	assert.NotEmpty(t, decision.Contribution.ID)

	rec = srv.do(t, http.MethodGet, "/api/groups/grp-1/members/mem-1/contributions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]api.ContributionDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "paid", history[0].Status)
}

func TestAPI_RecordContribution_InsufficientAmount(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "4000.00"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[api.ErrorResponse](t, rec)
	assert.Contains(t, errResp.Details, "short by")
}

func TestAPI_RecordContribution_DuplicateDay(t *testing.T) {
	// Two submissions on the same day: the second conflicts.

	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "6000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "4000.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_RecordContribution_UnknownGroup(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/groups/nope/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_VerifyContribution(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	decision := decode[api.ContributionDecisionDTO](t, rec)

	rec = srv.do(t, http.MethodPost, "/api/contributions/"+decision.Contribution.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	verified := decode[api.ContributionDTO](t, rec)
	assert.True(t, verified.IsVerified)
	assert.Equal(t, srv.now.Format(time.RFC3339), verified.VerifiedAt)
}

func TestAPI_MemberStanding(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/groups/grp-1/members/mem-1/standing", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var standing struct {
		MemberID  string `json:"member_id"`
		Compliant bool   `json:"compliant"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &standing))
	assert.Equal(t, "mem-1", standing.MemberID)
	assert.True(t, standing.Compliant)

	// Second read is served from cache with the same body.
	rec2 := srv.do(t, http.MethodGet, "/api/groups/grp-1/members/mem-1/standing", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, rec.Body.String(), rec2.Body.String())
}

func TestAPI_GroupCompliance(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-2/contributions",
		api.RecordContributionRequest{Amount: "5000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/groups/grp-1/compliance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report struct {
		GroupID        string `json:"group_id"`
		CompliantCount int    `json:"compliant_count"`
		Members        []struct {
			MemberID string `json:"member_id"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "grp-1", report.GroupID)
	assert.Equal(t, 1, report.CompliantCount)
	require.Len(t, report.Members, 2)
	assert.Equal(t, "mem-1", report.Members[0].MemberID)
}

// =============================================================================
// LOAN FLOW
// =============================================================================

func TestAPI_LoanLifecycle(t *testing.T) {
	// GIVEN: A member with a contribution record
	// WHEN: They request, get approved for, and repay a loan
	// THEN: Each step reports the expected state over the wire

	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Request: 12,000 at fixed 10% with a clean record = 13,200 total.
	rec = srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "12000.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decode[api.LoanTransitionDTO](t, rec)
	assert.Equal(t, "pending", tr.Loan.Status)
	assert.Equal(t, "13200.00", tr.Loan.Total.Amount)
	loanID := tr.Loan.ID

	// Approve: schedule appears, 12 installments of 1,100.
	rec = srv.do(t, http.MethodPost, "/api/loans/"+loanID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr = decode[api.LoanTransitionDTO](t, rec)
	assert.Equal(t, "active", tr.Loan.Status)
	require.Len(t, tr.Loan.Schedule, 12)
	assert.Equal(t, "1100.00", tr.Loan.MonthlyPayment.Amount)

	// Pay one installment.
	rec = srv.do(t, http.MethodPost, "/api/loans/"+loanID+"/payments",
		api.LoanPaymentRequest{Amount: "1100.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr = decode[api.LoanTransitionDTO](t, rec)
	assert.Equal(t, "12100.00", tr.Loan.Outstanding.Amount)

	// Settle the remainder.
	rec = srv.do(t, http.MethodPost, "/api/loans/"+loanID+"/payments",
		api.LoanPaymentRequest{Amount: "12100.00"})
	require.Equal(t, http.StatusOK, rec.Code)
	tr = decode[api.LoanTransitionDTO](t, rec)
	assert.Equal(t, "paid", tr.Loan.Status)
	assert.Equal(t, "0.00", tr.Loan.Outstanding.Amount)
}

func TestAPI_LoanRequest_SecondLoanConflicts(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "5000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "5000.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_LoanReject(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "5000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	tr := decode[api.LoanTransitionDTO](t, rec)

	rec = srv.do(t, http.MethodPost, "/api/loans/"+tr.Loan.ID+"/reject",
		api.RejectLoanRequest{Reason: "insufficient standing"})
	require.Equal(t, http.StatusOK, rec.Code)
	tr = decode[api.LoanTransitionDTO](t, rec)
	assert.Equal(t, "rejected", tr.Loan.Status)

	// Approving a rejected loan is an illegal transition.
	rec = srv.do(t, http.MethodPost, "/api/loans/"+tr.Loan.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_LoanPayment_Overpayment(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "12000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	tr := decode[api.LoanTransitionDTO](t, rec)

	rec = srv.do(t, http.MethodPost, "/api/loans/"+tr.Loan.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/loans/"+tr.Loan.ID+"/payments",
		api.LoanPaymentRequest{Amount: "99999.00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Eligibility(t *testing.T) {
	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "10000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/groups/grp-1/members/mem-1/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	elig := decode[api.EligibilityDTO](t, rec)
	assert.True(t, elig.Eligible)
	assert.Equal(t, "30000.00", elig.MaxAmount.Amount, "3x the 10,000 contributed")
}

// =============================================================================
// RECONCILIATION SWEEP
// =============================================================================

func TestAPI_Reconcile_MarksOverdueAndAssessesPenalties(t *testing.T) {
	// GIVEN: A partial January contribution and an active loan
	// WHEN: The sweep runs dated after the grace deadline and loan due date
	// THEN: The contribution goes overdue with a penalty on the remainder,
	//       the loan goes overdue, and a second sweep changes nothing

	srv := newTestServer(t)
	srv.createStandardGroup(t, "grp-1")

	rec := srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/contributions",
		api.RecordContributionRequest{Amount: "6000.00", Date: "2025-01-10"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/groups/grp-1/members/mem-1/loans",
		api.RequestLoanRequest{Amount: "12000.00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	loan := decode[api.LoanTransitionDTO](t, rec)
	rec = srv.do(t, http.MethodPost, "/api/loans/"+loan.Loan.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Sweep dated past the contribution deadline and the loan's due date.
	rec = srv.do(t, http.MethodPost, "/api/admin/reconcile",
		api.ReconcileRequest{AsOf: "2026-02-10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[api.ReconcileResultDTO](t, rec)
	assert.Equal(t, 1, result.GroupsChecked)
	assert.Equal(t, 1, result.ContributionsMarked)
	assert.Equal(t, 1, result.LoansMarkedOverdue)
	assert.Equal(t, 1, result.PenaltiesAssessed)

	rec = srv.do(t, http.MethodGet, "/api/groups/grp-1/members/mem-1/penalties", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	penalties := decode[[]api.PenaltyRecordDTO](t, rec)
	require.Len(t, penalties, 1)
	// 4,000 remainder * 5% base, compounded 13 months, capped at 50%.
	assert.Equal(t, "2000.00", penalties[0].Amount.Amount)

	// Idempotent: the second run finds nothing new.
	rec = srv.do(t, http.MethodPost, "/api/admin/reconcile",
		api.ReconcileRequest{AsOf: "2026-02-10"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[api.ReconcileResultDTO](t, rec)
	assert.Equal(t, 0, result.ContributionsMarked)
	assert.Equal(t, 0, result.LoansMarkedOverdue)
	assert.Equal(t, 0, result.PenaltiesAssessed)
}

func TestAPI_Reconcile_EmptyBody_SweepsAllGroups(t *testing.T) {
	srv := newTestServer(t)
	for i := 1; i <= 3; i++ {
		srv.createStandardGroup(t, fmt.Sprintf("grp-%d", i))
	}

	rec := srv.do(t, http.MethodPost, "/api/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[api.ReconcileResultDTO](t, rec)
	assert.Equal(t, 3, result.GroupsChecked)
}
