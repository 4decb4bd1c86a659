/*
errors.go - Closed error taxonomy for the settlement engine

PURPOSE:
  Every failure the engine can produce is one of the sentinels below. The
  caller branches on them with errors.Is; structured variants carry the
  context a caller needs to render a useful message (exact shortfall,
  offending tier index, current loan status).

  There is no fatal condition inside the engine: unexpected internal
  inconsistency (corrupted tier data, unknown interest type) degrades to
  ErrInvalidPolicy rather than panicking.

USAGE:
  decision, err := evaluator.Evaluate(policy, history, amount, date)
  if errors.Is(err, engine.ErrInsufficientAmount) {
      var ia *engine.InsufficientAmountError
      errors.As(err, &ia) // ia.Shortfall has the exact missing amount
  }
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPolicy is returned for malformed or unrecognized policy
	// configuration: unknown interest type, non-positive required amount.
	// Never silently defaulted.
	ErrInvalidPolicy = errors.New("invalid policy configuration")

	// ErrInvalidInterestTiers is returned when a tiered policy's tier set
	// violates the contiguity invariant.
	ErrInvalidInterestTiers = errors.New("invalid interest tiers")

	// ErrInsufficientAmount is returned when a tendered amount is below the
	// computed floor (minimum partial, or balance + penalty past deadline).
	ErrInsufficientAmount = errors.New("insufficient contribution amount")

	// ErrMustCoverFullBalance is returned when the partial-payment quota is
	// exhausted and the tendered amount does not settle the remainder.
	ErrMustCoverFullBalance = errors.New("final contribution must cover full remaining balance")

	// ErrDuplicateContribution is returned when an unverified contribution
	// already exists for the exact same date.
	ErrDuplicateContribution = errors.New("unverified contribution already exists for this date")

	// ErrInvalidLoanAmount is returned when a requested principal is not
	// positive.
	ErrInvalidLoanAmount = errors.New("invalid loan amount")

	// ErrExceedsMaxLoanAmount is returned when a requested principal is over
	// the policy maximum.
	ErrExceedsMaxLoanAmount = errors.New("loan amount exceeds maximum allowed")

	// ErrActiveLoanExists is returned when the borrower already holds an
	// active or pending loan in the group.
	ErrActiveLoanExists = errors.New("an active or pending loan already exists")

	// ErrInvalidLoanStatus is returned for transitions not legal from the
	// loan's current state.
	ErrInvalidLoanStatus = errors.New("invalid operation for loan status")

	// ErrOverPayment is returned when a single payment would exceed the
	// outstanding loan balance.
	ErrOverPayment = errors.New("payment exceeds outstanding balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientAmountError reports exactly how short a tendered amount is.
type InsufficientAmountError struct {
	Required  money.Money
	Tendered  money.Money
	Shortfall money.Money
	Reason    string
}

func (e *InsufficientAmountError) Error() string {
	return fmt.Sprintf("%s: required %s, tendered %s, short by %s",
		e.Reason, e.Required, e.Tendered, e.Shortfall)
}

func (e *InsufficientAmountError) Unwrap() error { return ErrInsufficientAmount }

// MustCoverFullBalanceError reports the remaining balance a final partial
// submission must settle.
type MustCoverFullBalanceError struct {
	RemainingBalance money.Money
	IncludesPenalty  bool
}

func (e *MustCoverFullBalanceError) Error() string {
	suffix := ""
	if e.IncludesPenalty {
		suffix = " including penalty"
	}
	return fmt.Sprintf("final contribution must cover the full remaining balance of %s%s",
		e.RemainingBalance, suffix)
}

func (e *MustCoverFullBalanceError) Unwrap() error { return ErrMustCoverFullBalance }

// InvalidTiersError reports which tier broke the set invariant.
type InvalidTiersError struct {
	Reason string
	Index  int
}

func (e *InvalidTiersError) Error() string {
	return fmt.Sprintf("interest tier error: %s (tier %d)", e.Reason, e.Index)
}

func (e *InvalidTiersError) Unwrap() error { return ErrInvalidInterestTiers }

// LoanStatusError reports an illegal state-machine transition.
type LoanStatusError struct {
	Operation string
	Current   LoanStatus
}

func (e *LoanStatusError) Error() string {
	return fmt.Sprintf("cannot %s loan with status %q", e.Operation, e.Current)
}

func (e *LoanStatusError) Unwrap() error { return ErrInvalidLoanStatus }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to the caller's input
// rather than policy corruption. Useful for HTTP status mapping.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientAmount) ||
		errors.Is(err, ErrMustCoverFullBalance) ||
		errors.Is(err, ErrDuplicateContribution) ||
		errors.Is(err, ErrInvalidLoanAmount) ||
		errors.Is(err, ErrExceedsMaxLoanAmount) ||
		errors.Is(err, ErrActiveLoanExists) ||
		errors.Is(err, ErrInvalidLoanStatus) ||
		errors.Is(err, ErrOverPayment)
}

// IsPolicyError reports whether the error indicates bad group configuration.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrInvalidPolicy) || errors.Is(err, ErrInvalidInterestTiers)
}
