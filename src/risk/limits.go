package risk

import (
	"github.com/shopspring/decimal"

	"tradeengine/src/model"
)

// Bound is one effective limit value with its provenance. Source drives the
// pause scope when the bound is breached: a strategy-sourced limit pauses the
// strategy, an account-sourced one pauses the account.
type Bound struct {
	Value  decimal.Decimal
	Valid  bool
	Source string
}

// Exceeds reports whether observed crosses the bound. An unset bound never
// trips.
func (b Bound) Exceeds(observed decimal.Decimal) bool {
	return b.Valid && observed.GreaterThan(b.Value)
}

// Limits is the merged, effective risk configuration for one strategy on one
// account.
type Limits struct {
	MaxExposure    Bound
	MaxDailyLoss   Bound
	MaxWeeklyLoss  Bound
	MaxDrawdownPct Bound
	AutoReduce     bool
}

func accountBound(v decimal.NullDecimal) Bound {
	if !v.Valid {
		return Bound{}
	}
	return Bound{Value: v.Decimal, Valid: true, Source: ScopeAccount}
}

func strategyBound(v decimal.NullDecimal) Bound {
	if !v.Valid {
		return Bound{}
	}
	return Bound{Value: v.Decimal, Valid: true, Source: ScopeStrategy}
}

// MergeLimits combines account- and strategy-level limits according to the
// strategy's limit mode. It is a pure function of its inputs.
//
// Modes:
//   - override: per field, a set strategy limit replaces the account one;
//     unset strategy fields fall back to the account value.
//   - more_restrictive: per field, the numerically stricter of the two wins;
//     an unset limit loses to any concrete value.
//   - strategy_only: account limits are ignored wholesale, set or not.
//
// A nil strategy yields the account limits unmodified.
func MergeLimits(account *model.Account, strategy *model.Strategy) Limits {
	acct := Limits{}
	if account != nil {
		acct = Limits{
			MaxExposure:    accountBound(account.MaxExposure),
			MaxDailyLoss:   accountBound(account.MaxDailyLoss),
			MaxWeeklyLoss:  accountBound(account.MaxWeeklyLoss),
			MaxDrawdownPct: accountBound(account.MaxDrawdownPct),
			AutoReduce:     account.AutoReduce,
		}
	}

	if strategy == nil {
		return acct
	}

	strat := Limits{
		MaxExposure:    strategyBound(strategy.MaxExposure),
		MaxDailyLoss:   strategyBound(strategy.MaxDailyLoss),
		MaxWeeklyLoss:  strategyBound(strategy.MaxWeeklyLoss),
		MaxDrawdownPct: strategyBound(strategy.MaxDrawdownPct),
		AutoReduce:     strategy.AutoReduce,
	}

	switch strategy.LimitMode {
	case model.LimitModeStrategyOnly:
		return strat

	case model.LimitModeOverride:
		return Limits{
			MaxExposure:    overrideBound(acct.MaxExposure, strat.MaxExposure),
			MaxDailyLoss:   overrideBound(acct.MaxDailyLoss, strat.MaxDailyLoss),
			MaxWeeklyLoss:  overrideBound(acct.MaxWeeklyLoss, strat.MaxWeeklyLoss),
			MaxDrawdownPct: overrideBound(acct.MaxDrawdownPct, strat.MaxDrawdownPct),
			AutoReduce:     strat.AutoReduce,
		}

	default: // more_restrictive
		return Limits{
			MaxExposure:    stricterBound(acct.MaxExposure, strat.MaxExposure),
			MaxDailyLoss:   stricterBound(acct.MaxDailyLoss, strat.MaxDailyLoss),
			MaxWeeklyLoss:  stricterBound(acct.MaxWeeklyLoss, strat.MaxWeeklyLoss),
			MaxDrawdownPct: stricterBound(acct.MaxDrawdownPct, strat.MaxDrawdownPct),
			AutoReduce:     acct.AutoReduce || strat.AutoReduce,
		}
	}
}

func overrideBound(account, strategy Bound) Bound {
	if strategy.Valid {
		return strategy
	}
	return account
}

func stricterBound(account, strategy Bound) Bound {
	switch {
	case !account.Valid:
		return strategy
	case !strategy.Valid:
		return account
	case strategy.Value.LessThanOrEqual(account.Value):
		return strategy
	default:
		return account
	}
}
