package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradeengine/src/model"
)

func dec(val string) decimal.Decimal {
	return decimal.RequireFromString(val)
}

func nullDec(val string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(val), Valid: true}
}

func limitsAccount() *model.Account {
	return &model.Account{
		ID:           1,
		MaxExposure:  nullDec("10000"),
		MaxDailyLoss: nullDec("500"),
		AutoReduce:   true,
	}
}

func TestMergeLimitsNoStrategy(t *testing.T) {
	merged := MergeLimits(limitsAccount(), nil)

	assert.True(t, merged.MaxExposure.Valid)
	assert.Equal(t, "10000", merged.MaxExposure.Value.String())
	assert.Equal(t, ScopeAccount, merged.MaxExposure.Source)
	assert.False(t, merged.MaxWeeklyLoss.Valid)
	assert.True(t, merged.AutoReduce)
}

func TestMergeLimitsMoreRestrictive(t *testing.T) {
	strategy := &model.Strategy{
		ID:        7,
		LimitMode: model.LimitModeMoreRestrictive,
		// Stricter exposure, looser daily loss, and a weekly loss the
		// account never set.
		MaxExposure:   nullDec("4000"),
		MaxDailyLoss:  nullDec("900"),
		MaxWeeklyLoss: nullDec("2000"),
	}

	merged := MergeLimits(limitsAccount(), strategy)

	assert.Equal(t, "4000", merged.MaxExposure.Value.String())
	assert.Equal(t, ScopeStrategy, merged.MaxExposure.Source)

	assert.Equal(t, "500", merged.MaxDailyLoss.Value.String())
	assert.Equal(t, ScopeAccount, merged.MaxDailyLoss.Source)

	// An unset limit loses to any concrete value.
	assert.True(t, merged.MaxWeeklyLoss.Valid)
	assert.Equal(t, "2000", merged.MaxWeeklyLoss.Value.String())

	assert.False(t, merged.MaxDrawdownPct.Valid)
	assert.True(t, merged.AutoReduce, "auto-reduce ORs across levels in more_restrictive")
}

func TestMergeLimitsOverride(t *testing.T) {
	strategy := &model.Strategy{
		ID:           7,
		LimitMode:    model.LimitModeOverride,
		MaxDailyLoss: nullDec("900"),
		AutoReduce:   false,
	}

	merged := MergeLimits(limitsAccount(), strategy)

	// Set strategy field replaces the account value.
	assert.Equal(t, "900", merged.MaxDailyLoss.Value.String())
	assert.Equal(t, ScopeStrategy, merged.MaxDailyLoss.Source)

	// Unset strategy field falls back to the account value.
	assert.Equal(t, "10000", merged.MaxExposure.Value.String())
	assert.Equal(t, ScopeAccount, merged.MaxExposure.Source)

	assert.False(t, merged.AutoReduce, "override takes the strategy's auto-reduce flag")
}

func TestMergeLimitsStrategyOnly(t *testing.T) {
	strategy := &model.Strategy{
		ID:           7,
		LimitMode:    model.LimitModeStrategyOnly,
		MaxDailyLoss: nullDec("900"),
	}

	merged := MergeLimits(limitsAccount(), strategy)

	assert.Equal(t, "900", merged.MaxDailyLoss.Value.String())
	assert.Equal(t, ScopeStrategy, merged.MaxDailyLoss.Source)

	// Account limits are ignored wholesale, set or not.
	assert.False(t, merged.MaxExposure.Valid)
	assert.False(t, merged.AutoReduce)
}

func TestBoundExceeds(t *testing.T) {
	unset := Bound{}
	assert.False(t, unset.Exceeds(dec("1000000")), "an unset bound never trips")

	bound := Bound{Value: dec("500"), Valid: true, Source: ScopeAccount}
	assert.False(t, bound.Exceeds(dec("500")), "at the limit is still allowed")
	assert.True(t, bound.Exceeds(dec("500.01")))
}
