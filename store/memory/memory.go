// Package memory provides an in-memory Store implementation for tests
// and demos. It mirrors the sqlite store's semantics, including the
// one-unverified-contribution-per-day conflict rule.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/store"
)

type memberKey struct {
	GroupID  engine.GroupID
	MemberID engine.MemberID
}

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	contributions map[engine.ContributionID]engine.Contribution
	loans         map[engine.LoanID]engine.Loan
	penalties     []store.PenaltyRecord

	contributionPolicies map[engine.GroupID]engine.ContributionPolicy
	loanPolicies         map[engine.GroupID]engine.LoanPolicy
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		contributions:        make(map[engine.ContributionID]engine.Contribution),
		loans:                make(map[engine.LoanID]engine.Loan),
		contributionPolicies: make(map[engine.GroupID]engine.ContributionPolicy),
		loanPolicies:         make(map[engine.GroupID]engine.LoanPolicy),
	}
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

func (s *Store) SaveContribution(_ context.Context, c *engine.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = engine.ContributionID(store.NewID("con"))
	}
	day := engine.DateOnly(c.Date)
	for _, existing := range s.contributions {
		if existing.ID == c.ID {
			continue
		}
		if existing.GroupID == c.GroupID && existing.MemberID == c.MemberID &&
			existing.Active() && !existing.IsVerified &&
			existing.Status != engine.ContributionFailed &&
			engine.DateOnly(existing.Date).Equal(day) {
			return store.ErrConflict
		}
	}
	s.contributions[c.ID] = *c
	return nil
}

func (s *Store) GetContribution(_ context.Context, id engine.ContributionID) (engine.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contributions[id]
	if !ok {
		return engine.Contribution{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListContributions(_ context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.ContributionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history engine.ContributionHistory
	for _, c := range s.contributions {
		if c.GroupID == groupID && c.MemberID == memberID {
			history = append(history, c)
		}
	}
	sortByDate(history)
	return history, nil
}

func (s *Store) ListGroupContributions(_ context.Context, groupID engine.GroupID) (map[engine.MemberID]engine.ContributionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMember := make(map[engine.MemberID]engine.ContributionHistory)
	for _, c := range s.contributions {
		if c.GroupID == groupID {
			byMember[c.MemberID] = append(byMember[c.MemberID], c)
		}
	}
	for _, history := range byMember {
		sortByDate(history)
	}
	return byMember, nil
}

func (s *Store) UpdateContributionStatus(_ context.Context, id engine.ContributionID, status engine.ContributionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contributions[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	s.contributions[id] = c
	return nil
}

func (s *Store) MarkVerified(_ context.Context, id engine.ContributionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contributions[id]
	if !ok {
		return store.ErrNotFound
	}
	c.IsVerified = true
	t := at
	c.VerifiedAt = &t
	s.contributions[id] = c
	return nil
}

func (s *Store) RetireContribution(_ context.Context, id engine.ContributionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contributions[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	c.DeletedAt = &t
	s.contributions[id] = c
	return nil
}

func sortByDate(history engine.ContributionHistory) {
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})
}

// =============================================================================
// LOANS
// =============================================================================

func (s *Store) SaveLoan(_ context.Context, l *engine.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = engine.LoanID(store.NewID("loan"))
	}
	s.loans[l.ID] = *l
	return nil
}

func (s *Store) GetLoan(_ context.Context, id engine.LoanID) (engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return engine.Loan{}, store.ErrNotFound
	}
	return l, nil
}

func (s *Store) ListLoans(_ context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.LoanHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history engine.LoanHistory
	for _, l := range s.loans {
		if l.GroupID == groupID && l.MemberID == memberID {
			history = append(history, l)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].RequestedAt.Before(history[j].RequestedAt)
	})
	return history, nil
}

func (s *Store) ListLoansByStatus(_ context.Context, status engine.LoanStatus) ([]engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var loans []engine.Loan
	for _, l := range s.loans {
		if l.Status == status {
			loans = append(loans, l)
		}
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].RequestedAt.Before(loans[j].RequestedAt)
	})
	return loans, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SaveContributionPolicy(_ context.Context, p engine.ContributionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributionPolicies[p.GroupID] = p
	return nil
}

func (s *Store) GetContributionPolicy(_ context.Context, groupID engine.GroupID) (engine.ContributionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.contributionPolicies[groupID]
	if !ok {
		return engine.ContributionPolicy{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) SaveLoanPolicy(_ context.Context, p engine.LoanPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loanPolicies[p.GroupID] = p
	return nil
}

func (s *Store) GetLoanPolicy(_ context.Context, groupID engine.GroupID) (engine.LoanPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.loanPolicies[groupID]
	if !ok {
		return engine.LoanPolicy{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListGroups(_ context.Context) ([]engine.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[engine.GroupID]bool)
	for id := range s.contributionPolicies {
		seen[id] = true
	}
	for id := range s.loanPolicies {
		seen[id] = true
	}

	groups := make([]engine.GroupID, 0, len(seen))
	for id := range seen {
		groups = append(groups, id)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

// =============================================================================
// PENALTIES
// =============================================================================

func (s *Store) AppendPenalty(_ context.Context, p *store.PenaltyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = store.NewID("pen")
	}
	s.penalties = append(s.penalties, *p)
	return nil
}

func (s *Store) ListPenalties(_ context.Context, groupID engine.GroupID, memberID engine.MemberID) ([]store.PenaltyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []store.PenaltyRecord
	for _, p := range s.penalties {
		if p.GroupID == groupID && p.MemberID == memberID {
			records = append(records, p)
		}
	}
	return records, nil
}
