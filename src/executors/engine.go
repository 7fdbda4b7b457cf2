package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/cache"
	"tradeengine/src/connectors"
	"tradeengine/src/events"
	"tradeengine/src/matcher"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

// Engine runs one signal through the full gate chain: circuit breaker, news
// window, risk limits, idempotent placement, then post-fill settlement
// (trade matching and breaker evaluation). One Engine serves every account;
// per-account executors are built lazily over the connector pool.
type Engine struct {
	pool       *ConnectorPool
	fills      *repository.FillRepository
	strategies *repository.StrategyRepository
	accounts   *repository.AccountRepository
	exceptions *repository.ExceptionRepository
	riskMgr    *risk.Manager
	supervisor *risk.Supervisor
	newsGate   *risk.NewsGate
	matcher    *matcher.Matcher
	dedup      cache.TTLStore
	bus        *events.Bus
	cfg        Config

	mu    sync.Mutex
	execs map[uint]*Executor

	now func() time.Time
}

func NewEngine(
	db *gorm.DB,
	pool *ConnectorPool,
	riskMgr *risk.Manager,
	supervisor *risk.Supervisor,
	newsGate *risk.NewsGate,
	tradeMatcher *matcher.Matcher,
	dedup cache.TTLStore,
	bus *events.Bus,
	cfg Config,
) *Engine {
	return &Engine{
		pool:       pool,
		fills:      repository.NewFillRepository().WithDB(db),
		strategies: repository.NewStrategyRepository().WithDB(db),
		accounts:   repository.NewAccountRepository().WithDB(db),
		exceptions: repository.NewExceptionRepository().WithDB(db),
		riskMgr:    riskMgr,
		supervisor: supervisor,
		newsGate:   newsGate,
		matcher:    tradeMatcher,
		dedup:      dedup,
		bus:        bus,
		cfg:        cfg,
		execs:      make(map[uint]*Executor),
		now:        time.Now,
	}
}

// ExecuteOrder places one resolved signal for the strategy. Rejections come
// back as typed errors (*risk.BreakerActiveError, *risk.NewsWindowError,
// *risk.LimitExceededError) so callers can tell policy from plumbing.
func (e *Engine) ExecuteOrder(ctx context.Context, signal *Signal, strategy *model.Strategy) (*model.Fill, error) {
	if signal == nil {
		return nil, fmt.Errorf("execute order: nil signal")
	}

	account, err := e.accountFor(ctx, strategy)
	if err != nil {
		return nil, err
	}

	if err := e.supervisor.Gate(ctx, account.ID, strategy.ID); err != nil {
		return nil, err
	}

	// Exits are never news-gated: getting out must always be possible.
	if signal.Direction == model.FillDirectionEntry && e.newsGate != nil {
		decision := e.newsGate.CheckEntry(ctx, e.now())
		if !decision.Allowed {
			e.publishRejection(account, strategy, signal, decision.Reason)
			return nil, newsError(decision)
		}
	}

	if !signal.Price.Valid && !signal.ReduceOnly {
		return nil, fmt.Errorf("signal for %s carries no reference price", signal.Symbol)
	}

	reservation, err := e.riskMgr.CheckOrderAllowed(ctx, risk.OrderCheck{
		Account:    account,
		Strategy:   strategy,
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Quantity:   signal.Quantity,
		Price:      signal.Price.Decimal,
		ReduceOnly: signal.ReduceOnly,
	})
	if err != nil {
		if limitErr, ok := risk.AsLimitExceeded(err); ok {
			e.handleLimitBreach(ctx, account, strategy, signal, limitErr)
		}
		return nil, err
	}

	if reservation.Reduced {
		logger.WithFields(map[string]interface{}{
			"component": "Engine",
			"strategy":  strategy.ID,
			"symbol":    signal.Symbol,
			"requested": signal.Quantity.String(),
			"granted":   reservation.Quantity.String(),
		}).Info("Order quantity auto-reduced to fit exposure limit")
	}

	exec, err := e.executorFor(account)
	if err != nil {
		e.riskMgr.ReleaseReservation(reservation.ID, account.ID)
		return nil, err
	}

	var exitReason *string
	if signal.Direction == model.FillDirectionExit && signal.Comment != "" {
		exitReason = &signal.Comment
	}

	fill, err := exec.Execute(ctx, ExecuteRequest{
		AccountID:    account.ID,
		StrategyID:   strategy.ID,
		SignalID:     signal.SignalID,
		Symbol:       signal.Symbol,
		Side:         signal.Side,
		PositionSide: signal.PositionSide,
		Direction:    signal.Direction,
		OrderType:    signal.OrderType,
		Quantity:     reservation.Quantity,
		Price:        signal.Price,
		ReduceOnly:   signal.ReduceOnly,
		Leverage:     strategy.Leverage,
		MarginMode:   strategy.MarginMode,
		ExitReason:   exitReason,
	})
	if err != nil {
		e.riskMgr.ReleaseReservation(reservation.ID, account.ID)

		var apiErr *connectors.APIError
		if errors.As(err, &apiErr) {
			e.exceptions.Capture(ctx, "executors", "ExecuteOrder", "error", err,
				map[string]interface{}{
					"strategy": strategy.ID,
					"symbol":   signal.Symbol,
					"kind":     string(apiErr.Kind),
				})
		}

		return nil, err
	}

	// A venue-side terminal failure frees the headroom; anything else counts
	// as real exposure until the next position sync.
	switch fill.Status {
	case model.FillStatusRejected, model.FillStatusCanceled, model.FillStatusExpired:
		e.riskMgr.ReleaseReservation(reservation.ID, account.ID)
		return fill, nil
	default:
		e.riskMgr.ConfirmExposure(reservation.ID, account.ID)
	}

	if signal.Direction == model.FillDirectionExit && model.IsFillable(fill.Status) && fill.ExecutedQuantity.IsPositive() {
		e.settleClosingFill(ctx, account, fill, signal.PositionSide)
	}

	return fill, nil
}

// CurrentPosition returns the venue's open position for the strategy's
// symbol, checking LONG before SHORT.
func (e *Engine) CurrentPosition(ctx context.Context, strategy *model.Strategy) (*connectors.PositionInfo, error) {
	account, err := e.accountFor(ctx, strategy)
	if err != nil {
		return nil, err
	}
	conn, err := e.pool.For(account)
	if err != nil {
		return nil, err
	}

	long, err := conn.GetOpenPosition(ctx, strategy.Symbol, model.PositionSideLong)
	if err != nil {
		return nil, err
	}
	if long != nil && long.Quantity.IsPositive() {
		return long, nil
	}

	short, err := conn.GetOpenPosition(ctx, strategy.Symbol, model.PositionSideShort)
	if err != nil {
		return nil, err
	}
	if short != nil && short.Quantity.IsPositive() {
		return short, nil
	}

	return nil, nil
}

// settleClosingFill matches the exit against open entries and feeds the
// completed trades to the circuit breaker. A matching failure does not fail
// the cycle; the matcher resolves it on redelivery.
func (e *Engine) settleClosingFill(ctx context.Context, account *model.Account, fill *model.Fill, believedSide string) {
	completed, err := e.matcher.OnPositionClosingFill(ctx, fill, believedSide)
	if err != nil {
		if _, ok := matcher.AsResidual(err); !ok {
			logger.WithFields(map[string]interface{}{
				"component": "Engine",
				"fill":      fill.ID,
				"symbol":    fill.Symbol,
			}).WithError(err).Error("Trade matching failed for closing fill")
			return
		}
		// Residuals are already logged, captured and published by the matcher.
	}

	if len(completed) == 0 {
		return
	}

	e.riskMgr.InvalidatePeak(ctx, account.ID)

	for i := range completed {
		if err := e.supervisor.OnTradeCompleted(ctx, account, &completed[i]); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "Engine",
				"trade":     completed[i].ID,
			}).WithError(err).Error("Breaker evaluation failed after completed trade")
		}
	}
}

// handleLimitBreach pauses strategies when a loss limit trips. Exposure
// rejections stay transient: the next cycle may fit.
func (e *Engine) handleLimitBreach(ctx context.Context, account *model.Account, strategy *model.Strategy, signal *Signal, limitErr *risk.LimitExceededError) {
	e.publishRejection(account, strategy, signal, limitErr.Check)

	if limitErr.Check == risk.CheckExposure {
		return
	}

	var strategyID *uint
	if limitErr.Scope == risk.ScopeStrategy {
		strategyID = &strategy.ID
	}

	paused, err := e.strategies.PauseByRisk(ctx, account.ID, strategyID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "Engine",
			"account":   account.ID,
		}).WithError(err).Error("Failed to pause strategies after limit breach")
		return
	}

	logger.WithFields(map[string]interface{}{
		"component": "Engine",
		"account":   account.ID,
		"check":     limitErr.Check,
		"scope":     limitErr.Scope,
		"paused":    paused,
	}).Warn("Strategies paused after loss limit breach")

	if e.bus != nil {
		e.bus.Publish(&events.Event{
			Type:       events.TypeStrategyPaused,
			AccountID:  account.ID,
			StrategyID: strategy.ID,
			Symbol:     signal.Symbol,
			Data: map[string]interface{}{
				"check": limitErr.Check,
				"scope": limitErr.Scope,
			},
		})
	}
}

func (e *Engine) publishRejection(account *model.Account, strategy *model.Strategy, signal *Signal, reason string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&events.Event{
		Type:       events.TypeRiskRejected,
		AccountID:  account.ID,
		StrategyID: strategy.ID,
		Symbol:     signal.Symbol,
		Data: map[string]interface{}{
			"reason":   reason,
			"side":     signal.Side,
			"quantity": signal.Quantity.String(),
		},
	})
}

func (e *Engine) accountFor(ctx context.Context, strategy *model.Strategy) (*model.Account, error) {
	if strategy.Account != nil {
		return strategy.Account, nil
	}

	account, err := e.accounts.FindByID(ctx, strategy.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %d not found for strategy %d", strategy.AccountID, strategy.ID)
	}

	strategy.Account = account
	return account, nil
}

func (e *Engine) executorFor(account *model.Account) (*Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if exec, ok := e.execs[account.ID]; ok {
		return exec, nil
	}

	conn, err := e.pool.For(account)
	if err != nil {
		return nil, err
	}

	exec := NewExecutor(conn, e.fills, e.dedup, e.bus, e.cfg)
	e.execs[account.ID] = exec
	return exec, nil
}

func newsError(decision risk.GateDecision) error {
	title := ""
	if decision.BlockingEvent != nil {
		title = decision.BlockingEvent.Title
	}
	return &risk.NewsWindowError{
		EventTitle:  title,
		WindowFrom:  decision.BlockWindowFrom,
		WindowTo:    decision.BlockWindowTo,
		NextAllowed: decision.NextAllowedUTC,
	}
}
