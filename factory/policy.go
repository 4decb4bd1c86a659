/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into engine.ContributionPolicy and
  engine.LoanPolicy values. This enables group configuration without code
  changes - administrators define a group's rules in JSON, and the factory
  builds the proper Go structs with validation and sensible defaults.

JSON SCHEMA:
  {
    "group_id": "grp-nairobi-12",
    "currency": "KES",
    "contribution": {
      "required_amount": "10000.00",
      "allowed_partial_percentage": 0.5,
      "max_partial_contributions": 3,
      "grace_period_days": 5,
      "penalty_rate": 0.05,
      "penalty_cap_rate": 0.5
    },
    "loan": {
      "interest_type": "tiered",
      "base_rate": 10,
      "max_loan_amount": "100000.00",
      "duration_months": 12,
      "requires_approval": true,
      "tiers": [
        {"min": "0.00", "max": "10000.00", "rate": 5},
        {"min": "10000.01", "max": "50000.00", "rate": 8}
      ]
    }
  }

KEY FEATURES:
  - Validates amounts, rates and tier sets before returning
  - Sets sensible defaults (3 partials, 5 grace days, 12 month loans)
  - Amounts are decimal strings, never floats

USAGE:
  group, err := factory.ParseGroupConfig(jsonStr)
  // group.Contribution, group.Loan ready for the engine

  // Presets for demos and tests
  cfg := factory.StandardGroupJSON("grp-1", "KES")

SEE ALSO:
  - engine/policy.go: the target types
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// GroupConfigJSON is the JSON representation of one group's full ruleset.
type GroupConfigJSON struct {
	GroupID      string            `json:"group_id"`
	Currency     string            `json:"currency"`
	Contribution *ContributionJSON `json:"contribution,omitempty"`
	Loan         *LoanJSON         `json:"loan,omitempty"`
}

// ContributionJSON configures the contribution policy.
type ContributionJSON struct {
	RequiredAmount           string  `json:"required_amount"`
	AllowedPartialPercentage float64 `json:"allowed_partial_percentage,omitempty"`
	MaxPartialContributions  int     `json:"max_partial_contributions,omitempty"`
	// Pointer so an explicit 0 (no grace at all) survives the default.
	GracePeriodDays *int    `json:"grace_period_days,omitempty"`
	PenaltyRate     float64 `json:"penalty_rate,omitempty"`
	PenaltyCapRate  float64 `json:"penalty_cap_rate,omitempty"`
}

// LoanJSON configures the loan policy.
type LoanJSON struct {
	InterestType     string     `json:"interest_type"`
	BaseRate         float64    `json:"base_rate,omitempty"`
	MaxLoanAmount    string     `json:"max_loan_amount,omitempty"`
	DurationMonths   int        `json:"duration_months,omitempty"`
	RequiresApproval bool       `json:"requires_approval,omitempty"`
	Tiers            []TierJSON `json:"tiers,omitempty"`
}

// TierJSON is one interest tier. Min/Max are decimal amount strings.
type TierJSON struct {
	Min  string  `json:"min"`
	Max  string  `json:"max"`
	Rate float64 `json:"rate"`
}

// GroupPolicies is the parsed result: both policies for one group.
type GroupPolicies struct {
	GroupID      engine.GroupID
	Contribution engine.ContributionPolicy
	Loan         engine.LoanPolicy
}

// Defaults applied when the JSON omits a field.
const (
	defaultPartialPercentage = 0.5
	defaultMaxPartials       = 3
	defaultGraceDays         = 5
	defaultPenaltyRate       = 0.05
	defaultPenaltyCapRate    = 0.5
	defaultDurationMonths    = 12
	defaultCurrency          = "KES"
)

// =============================================================================
// PARSING
// =============================================================================

// ParseGroupConfig parses a JSON group configuration into engine policies.
func ParseGroupConfig(jsonStr string) (GroupPolicies, error) {
	var gj GroupConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &gj); err != nil {
		return GroupPolicies{}, fmt.Errorf("failed to parse group config JSON: %w", err)
	}
	return FromJSON(gj)
}

// FromJSON converts GroupConfigJSON into engine policies with defaults and
// validation.
func FromJSON(gj GroupConfigJSON) (GroupPolicies, error) {
	if gj.GroupID == "" {
		return GroupPolicies{}, fmt.Errorf("group config: %w: group_id is required", engine.ErrInvalidPolicy)
	}
	currency := gj.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	out := GroupPolicies{GroupID: engine.GroupID(gj.GroupID)}

	if gj.Contribution != nil {
		cp, err := parseContribution(engine.GroupID(gj.GroupID), currency, *gj.Contribution)
		if err != nil {
			return GroupPolicies{}, err
		}
		out.Contribution = cp
	}

	if gj.Loan != nil {
		lp, err := parseLoan(engine.GroupID(gj.GroupID), currency, *gj.Loan)
		if err != nil {
			return GroupPolicies{}, err
		}
		out.Loan = lp
	}

	return out, nil
}

func parseContribution(groupID engine.GroupID, currency string, cj ContributionJSON) (engine.ContributionPolicy, error) {
	required, err := parseAmount(cj.RequiredAmount, currency)
	if err != nil {
		return engine.ContributionPolicy{}, fmt.Errorf("contribution.required_amount: %w", err)
	}
	if !required.IsPositive() {
		return engine.ContributionPolicy{}, fmt.Errorf("%w: required_amount must be positive", engine.ErrInvalidPolicy)
	}

	p := engine.ContributionPolicy{
		GroupID:                  groupID,
		RequiredAmount:           required,
		AllowedPartialPercentage: fractionOrDefault(cj.AllowedPartialPercentage, defaultPartialPercentage),
		MaxPartialContributions:  intOrDefault(cj.MaxPartialContributions, defaultMaxPartials),
		GracePeriodDays:          daysOrDefault(cj.GracePeriodDays, defaultGraceDays),
		PenaltyRate:              fractionOrDefault(cj.PenaltyRate, defaultPenaltyRate),
		PenaltyCapRate:           fractionOrDefault(cj.PenaltyCapRate, defaultPenaltyCapRate),
	}

	if p.AllowedPartialPercentage.GreaterThan(decimal.NewFromInt(1)) {
		return engine.ContributionPolicy{}, fmt.Errorf("%w: allowed_partial_percentage must be in (0,1]", engine.ErrInvalidPolicy)
	}
	return p, nil
}

func parseLoan(groupID engine.GroupID, currency string, lj LoanJSON) (engine.LoanPolicy, error) {
	p := engine.LoanPolicy{
		GroupID:          groupID,
		InterestType:     engine.InterestType(lj.InterestType),
		BaseRate:         decimal.NewFromFloat(lj.BaseRate),
		DurationMonths:   intOrDefault(lj.DurationMonths, defaultDurationMonths),
		RequiresApproval: lj.RequiresApproval,
	}

	switch p.InterestType {
	case engine.InterestFixed, engine.InterestVariable, engine.InterestTiered:
	default:
		return engine.LoanPolicy{}, fmt.Errorf("%w: unknown interest_type %q", engine.ErrInvalidPolicy, lj.InterestType)
	}

	if lj.MaxLoanAmount != "" {
		max, err := parseAmount(lj.MaxLoanAmount, currency)
		if err != nil {
			return engine.LoanPolicy{}, fmt.Errorf("loan.max_loan_amount: %w", err)
		}
		p.MaxLoanAmount = max
	} else {
		p.MaxLoanAmount = money.New(0, currency)
	}

	for _, tj := range lj.Tiers {
		min, err := parseAmount(tj.Min, currency)
		if err != nil {
			return engine.LoanPolicy{}, fmt.Errorf("loan.tiers.min: %w", err)
		}
		max, err := parseAmount(tj.Max, currency)
		if err != nil {
			return engine.LoanPolicy{}, fmt.Errorf("loan.tiers.max: %w", err)
		}
		p.Tiers = append(p.Tiers, engine.InterestTier{
			MinAmount: min,
			MaxAmount: max,
			Rate:      decimal.NewFromFloat(tj.Rate),
		})
	}

	if p.InterestType == engine.InterestTiered {
		if err := engine.ValidateTiers(p.Tiers); err != nil {
			return engine.LoanPolicy{}, err
		}
	}
	return p, nil
}

func parseAmount(s, currency string) (money.Money, error) {
	if s == "" {
		return money.Money{}, fmt.Errorf("%w: amount is required", engine.ErrInvalidPolicy)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: invalid amount %q", engine.ErrInvalidPolicy, s)
	}
	return money.FromDecimal(d, currency), nil
}

func fractionOrDefault(v, def float64) decimal.Decimal {
	if v <= 0 {
		return decimal.NewFromFloat(def)
	}
	return decimal.NewFromFloat(v)
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// daysOrDefault treats a missing field as "use the default" but honors an
// explicit zero, so "grace_period_days": 0 really means no grace.
func daysOrDefault(v *int, def int) int {
	if v == nil || *v < 0 {
		return def
	}
	return *v
}

// =============================================================================
// PRESET CONFIGURATIONS
// =============================================================================

// StandardGroupJSON is a fixed-rate group with default contribution rules.
func StandardGroupJSON(groupID, currency string) string {
	return fmt.Sprintf(`{
		"group_id": %q,
		"currency": %q,
		"contribution": {
			"required_amount": "10000.00",
			"allowed_partial_percentage": 0.5,
			"max_partial_contributions": 3,
			"grace_period_days": 5,
			"penalty_rate": 0.05,
			"penalty_cap_rate": 0.5
		},
		"loan": {
			"interest_type": "fixed",
			"base_rate": 10,
			"max_loan_amount": "100000.00",
			"duration_months": 12,
			"requires_approval": true
		}
	}`, groupID, currency)
}

// TieredGroupJSON prices loans from a three-tier table.
func TieredGroupJSON(groupID, currency string) string {
	return fmt.Sprintf(`{
		"group_id": %q,
		"currency": %q,
		"contribution": {
			"required_amount": "5000.00",
			"allowed_partial_percentage": 0.4,
			"max_partial_contributions": 2,
			"grace_period_days": 7,
			"penalty_rate": 0.03,
			"penalty_cap_rate": 0.3
		},
		"loan": {
			"interest_type": "tiered",
			"max_loan_amount": "200000.00",
			"duration_months": 18,
			"requires_approval": true,
			"tiers": [
				{"min": "0.00", "max": "10000.00", "rate": 5},
				{"min": "10000.01", "max": "50000.00", "rate": 8},
				{"min": "50000.01", "max": "200000.00", "rate": 12}
			]
		}
	}`, groupID, currency)
}

// VariableGroupJSON prices loans against borrower standing, with immediate
// activation (no approval queue).
func VariableGroupJSON(groupID, currency string) string {
	return fmt.Sprintf(`{
		"group_id": %q,
		"currency": %q,
		"contribution": {
			"required_amount": "2000.00",
			"allowed_partial_percentage": 0.5,
			"max_partial_contributions": 3,
			"grace_period_days": 3,
			"penalty_rate": 0.05,
			"penalty_cap_rate": 0.5
		},
		"loan": {
			"interest_type": "variable",
			"base_rate": 8,
			"max_loan_amount": "50000.00",
			"duration_months": 6,
			"requires_approval": false
		}
	}`, groupID, currency)
}
