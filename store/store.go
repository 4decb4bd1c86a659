/*
Package store defines the persistence interfaces between the settlement
engine and the database.

PURPOSE:
  The engine is pure: it returns decisions, records and status updates for
  the caller to persist. These interfaces are that caller's contract.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage.

KEY INTERFACES:
  ContributionStore: Contribution records and reconciliation updates
  LoanStore:         Loan records including their payment schedules
  PolicyStore:       Group policy configuration
  PenaltyStore:      Assessed penalties (append-only)

APPEND-ONLY LEDGER:
  Contributions and penalties are never deleted. A wrong contribution is
  retired (soft delete with a timestamp) so historical scores remain
  reproducible; penalties are corrections-by-new-rows only.

IMPLEMENTATIONS:
  - store/sqlite:  Production SQLite
  - store/memory:  In-memory for tests and demos

SEE ALSO:
  - engine: the decision logic these records feed
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/money"
)

var (
	// ErrNotFound reports a lookup that matched nothing.
	ErrNotFound = errors.New("record not found")

	// ErrConflict reports a write that violated a uniqueness rule, such as
	// two unverified contributions for the same member and date.
	ErrConflict = errors.New("conflicting record exists")
)

// ContributionStore persists contribution records.
type ContributionStore interface {
	// SaveContribution inserts a record, assigning its ID if empty.
	// A second unverified record for the same member, group and date fails
	// with ErrConflict.
	SaveContribution(ctx context.Context, c *engine.Contribution) error

	// GetContribution returns one record or ErrNotFound.
	GetContribution(ctx context.Context, id engine.ContributionID) (engine.Contribution, error)

	// ListContributions returns a member's records in a group ordered by
	// date ascending, including retired records.
	ListContributions(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.ContributionHistory, error)

	// ListGroupContributions returns every member's records for a group.
	ListGroupContributions(ctx context.Context, groupID engine.GroupID) (map[engine.MemberID]engine.ContributionHistory, error)

	// UpdateContributionStatus applies one reconciliation update.
	UpdateContributionStatus(ctx context.Context, id engine.ContributionID, status engine.ContributionStatus) error

	// MarkVerified flags a record as verified at the given time.
	MarkVerified(ctx context.Context, id engine.ContributionID, at time.Time) error

	// RetireContribution soft-deletes a record.
	RetireContribution(ctx context.Context, id engine.ContributionID, at time.Time) error
}

// LoanStore persists loans and their schedules.
type LoanStore interface {
	// SaveLoan inserts or replaces a loan, assigning its ID if empty.
	SaveLoan(ctx context.Context, l *engine.Loan) error

	// GetLoan returns one loan or ErrNotFound.
	GetLoan(ctx context.Context, id engine.LoanID) (engine.Loan, error)

	// ListLoans returns a member's loans in a group ordered by request time.
	ListLoans(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.LoanHistory, error)

	// ListLoansByStatus returns every loan in a status across all groups.
	// The reconciliation sweep uses this to find active loans past due.
	ListLoansByStatus(ctx context.Context, status engine.LoanStatus) ([]engine.Loan, error)
}

// PolicyStore persists per-group policy configuration.
type PolicyStore interface {
	SaveContributionPolicy(ctx context.Context, p engine.ContributionPolicy) error
	GetContributionPolicy(ctx context.Context, groupID engine.GroupID) (engine.ContributionPolicy, error)

	SaveLoanPolicy(ctx context.Context, p engine.LoanPolicy) error
	GetLoanPolicy(ctx context.Context, groupID engine.GroupID) (engine.LoanPolicy, error)

	// ListGroups returns every group ID with at least one stored policy.
	ListGroups(ctx context.Context) ([]engine.GroupID, error)
}

// PenaltyRecord is one assessed penalty, kept for audit.
type PenaltyRecord struct {
	ID             string               `json:"id"`
	GroupID        engine.GroupID       `json:"group_id"`
	MemberID       engine.MemberID      `json:"member_id"`
	ContributionID engine.ContributionID `json:"contribution_id,omitempty"`
	LoanID         engine.LoanID        `json:"loan_id,omitempty"`
	Amount         money.Money          `json:"amount"`
	Reason         string               `json:"reason"`
	AssessedAt     time.Time            `json:"assessed_at"`
}

// PenaltyStore is the append-only penalty ledger.
type PenaltyStore interface {
	AppendPenalty(ctx context.Context, p *PenaltyRecord) error
	ListPenalties(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) ([]PenaltyRecord, error)
}

// Store is the full persistence surface the API layer depends on.
type Store interface {
	ContributionStore
	LoanStore
	PolicyStore
	PenaltyStore
}
