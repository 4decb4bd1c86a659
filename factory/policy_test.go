package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/money"
)

// =============================================================================
// PARSING
// =============================================================================

func TestParseGroupConfig_FullConfig(t *testing.T) {
	cfg := `{
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
			"interest_type": "fixed",
			"base_rate": 10,
			"max_loan_amount": "100000.00",
			"duration_months": 12,
			"requires_approval": true
		}
	}`

	group, err := factory.ParseGroupConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, engine.GroupID("grp-nairobi-12"), group.GroupID)
	assert.True(t, group.Contribution.RequiredAmount.Equal(money.MustParse("10000.00", "KES")))
	assert.Equal(t, "KES", group.Contribution.RequiredAmount.Currency())
	assert.Equal(t, 3, group.Contribution.MaxPartialContributions)
	assert.Equal(t, 5, group.Contribution.GracePeriodDays)

	assert.Equal(t, engine.InterestFixed, group.Loan.InterestType)
	assert.True(t, group.Loan.BaseRate.Equal(decimal.NewFromInt(10)))
	assert.True(t, group.Loan.MaxLoanAmount.Equal(money.MustParse("100000.00", "KES")))
	assert.Equal(t, 12, group.Loan.DurationMonths)
	assert.True(t, group.Loan.RequiresApproval)
}

func TestParseGroupConfig_DefaultsApplied(t *testing.T) {
	// GIVEN: Only the required fields
	// THEN: Partial percentage, quotas, grace days and penalty rates default

	cfg := `{
		"group_id": "grp-1",
		"contribution": {"required_amount": "2000.00"},
		"loan": {"interest_type": "fixed", "base_rate": 8}
	}`

	group, err := factory.ParseGroupConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "KES", group.Contribution.RequiredAmount.Currency(), "currency defaults")
	assert.True(t, group.Contribution.AllowedPartialPercentage.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 3, group.Contribution.MaxPartialContributions)
	assert.Equal(t, 5, group.Contribution.GracePeriodDays)
	assert.True(t, group.Contribution.PenaltyRate.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, group.Contribution.PenaltyCapRate.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 12, group.Loan.DurationMonths)
	assert.True(t, group.Loan.MaxLoanAmount.IsZero(), "no max means unbounded")
}

func TestParseGroupConfig_ExplicitZeroGraceDays(t *testing.T) {
	// GIVEN: grace_period_days set to 0 (a group with no grace at all)
	// THEN: The explicit zero is kept; only an absent field gets the default

	cfg := `{
		"group_id": "grp-1",
		"contribution": {"required_amount": "2000.00", "grace_period_days": 0}
	}`

	group, err := factory.ParseGroupConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, group.Contribution.GracePeriodDays)
}

func TestParseGroupConfig_TieredWithTiers(t *testing.T) {
	group, err := factory.ParseGroupConfig(factory.TieredGroupJSON("grp-t", "KES"))
	require.NoError(t, err)

	assert.Equal(t, engine.InterestTiered, group.Loan.InterestType)
	require.Len(t, group.Loan.Tiers, 3)
	assert.NoError(t, engine.ValidateTiers(group.Loan.Tiers))
	assert.True(t, group.Loan.Tiers[1].MinAmount.Equal(money.MustParse("10000.01", "KES")))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestParseGroupConfig_MissingGroupID(t *testing.T) {
	_, err := factory.ParseGroupConfig(`{"contribution": {"required_amount": "1000.00"}}`)
	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestParseGroupConfig_NonPositiveRequiredAmount(t *testing.T) {
	_, err := factory.ParseGroupConfig(`{
		"group_id": "grp-1",
		"contribution": {"required_amount": "0.00"}
	}`)
	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestParseGroupConfig_PartialPercentageOverOne(t *testing.T) {
	_, err := factory.ParseGroupConfig(`{
		"group_id": "grp-1",
		"contribution": {"required_amount": "1000.00", "allowed_partial_percentage": 1.5}
	}`)
	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestParseGroupConfig_UnknownInterestType(t *testing.T) {
	_, err := factory.ParseGroupConfig(`{
		"group_id": "grp-1",
		"loan": {"interest_type": "compound"}
	}`)
	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestParseGroupConfig_TieredWithBrokenTiers(t *testing.T) {
	// A gap between tier ranges is rejected at parse time.
	_, err := factory.ParseGroupConfig(`{
		"group_id": "grp-1",
		"loan": {
			"interest_type": "tiered",
			"tiers": [
				{"min": "0.00", "max": "10000.00", "rate": 5},
				{"min": "20000.00", "max": "50000.00", "rate": 8}
			]
		}
	}`)
	assert.ErrorIs(t, err, engine.ErrInvalidInterestTiers)
}

func TestParseGroupConfig_MalformedJSON(t *testing.T) {
	_, err := factory.ParseGroupConfig(`{"group_id": `)
	assert.Error(t, err)
}

// =============================================================================
// PRESETS
// =============================================================================

func TestPresets_ParseCleanly(t *testing.T) {
	for name, cfg := range map[string]string{
		"standard": factory.StandardGroupJSON("grp-1", "KES"),
		"tiered":   factory.TieredGroupJSON("grp-2", "KES"),
		"variable": factory.VariableGroupJSON("grp-3", "UGX"),
	} {
		group, err := factory.ParseGroupConfig(cfg)
		require.NoError(t, err, "preset %s", name)
		assert.True(t, group.Contribution.RequiredAmount.IsPositive(), "preset %s", name)
	}
}

func TestVariablePreset_NoApprovalQueue(t *testing.T) {
	group, err := factory.ParseGroupConfig(factory.VariableGroupJSON("grp-v", "KES"))
	require.NoError(t, err)
	assert.False(t, group.Loan.RequiresApproval)
	assert.Equal(t, engine.InterestVariable, group.Loan.InterestType)
}
