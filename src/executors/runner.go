package executors

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/events"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/risk"
)

// loopHandle tracks one live strategy loop so breakers can cancel it.
type loopHandle struct {
	accountID uint
	cancel    context.CancelFunc
}

// Runner drives one polling loop per running strategy on a shared bounded
// goroutine pool. Loops are launched from the strategies table and retire
// themselves when their row stops being "running", so pausing a strategy in
// the database is enough to stop its loop within one tick.
type Runner struct {
	strategies *repository.StrategyRepository
	engine     *Engine
	signals    SignalSource
	bus        *events.Bus
	cfg        Config

	pool *ants.Pool

	mu      sync.Mutex
	handles map[uint]*loopHandle
	wg      sync.WaitGroup
}

var _ risk.TaskCanceler = (*Runner)(nil)

func NewRunner(
	db *gorm.DB,
	engine *Engine,
	signals SignalSource,
	bus *events.Bus,
	cfg Config,
) (*Runner, error) {

	size := cfg.PoolSize
	if size < 1 {
		size = 16
	}

	// Nonblocking so a full pool surfaces as an error on the rescan instead
	// of wedging it behind long-lived loops.
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	return &Runner{
		strategies: repository.NewStrategyRepository().WithDB(db),
		engine:     engine,
		signals:    signals,
		bus:        bus,
		cfg:        cfg,
		pool:       pool,
		handles:    make(map[uint]*loopHandle),
	}, nil
}

// ---------------------------------------------------
// Lifecycle
// ---------------------------------------------------

// Run launches loops for every running strategy, then keeps rescanning the
// table so strategies started by an operator later get picked up. It blocks
// until ctx is done and every loop has drained.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.rescan(ctx); err != nil {
		return err
	}

	r.publish(&events.Event{Type: events.TypeEngineStarted})
	logger.WithFields(map[string]interface{}{
		"component": "Runner",
		"pool_size": r.pool.Cap(),
		"rescan":    r.cfg.RescanEvery().String(),
	}).Info("Strategy runner started")

	ticker := time.NewTicker(r.cfg.RescanEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.WithField("component", "Runner").Info("Shutting down strategy loops")
			r.Stop()
			r.publish(&events.Event{Type: events.TypeEngineStopped})
			return nil

		case <-ticker.C:
			if err := r.rescan(ctx); err != nil {
				logger.WithField("component", "Runner").
					WithError(err).Error("Strategy rescan failed")
			}
		}
	}
}

// Stop cancels every loop, waits for them to drain and releases the pool.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.handles))
	for _, handle := range r.handles {
		cancels = append(cancels, handle.cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	r.wg.Wait()
	r.pool.Release()
}

// rescan launches a loop for every runnable strategy that does not have one.
func (r *Runner) rescan(ctx context.Context) error {
	rows, err := r.strategies.FindRunnable(ctx)
	if err != nil {
		return err
	}

	for i := range rows {
		r.launch(ctx, rows[i])
	}
	return nil
}

func (r *Runner) launch(parent context.Context, strategy model.Strategy) {
	r.mu.Lock()
	if _, running := r.handles[strategy.ID]; running {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(parent)
	r.handles[strategy.ID] = &loopHandle{accountID: strategy.AccountID, cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	err := r.pool.Submit(func() {
		defer r.teardown(strategy.ID)
		r.loop(loopCtx, &strategy)
	})
	if err != nil {
		r.teardown(strategy.ID)
		logger.WithFields(map[string]interface{}{
			"component": "Runner",
			"strategy":  strategy.ID,
		}).WithError(err).Error("Strategy pool exhausted, loop not started")
	}
}

// teardown runs exactly once per launched loop, whether it exited on its own
// or never got scheduled.
func (r *Runner) teardown(strategyID uint) {
	r.mu.Lock()
	handle, ok := r.handles[strategyID]
	if ok {
		delete(r.handles, strategyID)
	}
	r.mu.Unlock()

	if ok {
		handle.cancel()
		r.publish(&events.Event{
			Type:       events.TypeStrategyStopped,
			AccountID:  handle.accountID,
			StrategyID: strategyID,
		})
	}
	r.wg.Done()
}

// ---------------------------------------------------
// Loop body
// ---------------------------------------------------

func (r *Runner) loop(ctx context.Context, strategy *model.Strategy) {
	log := logger.WithFields(map[string]interface{}{
		"component": "Runner",
		"strategy":  strategy.ID,
		"symbol":    strategy.Symbol,
	})

	interval := strategy.LoopInterval()
	log.WithField("interval", interval.String()).Info("Strategy loop started")

	r.publish(&events.Event{
		Type:       events.TypeStrategyStarted,
		AccountID:  strategy.AccountID,
		StrategyID: strategy.ID,
		Symbol:     strategy.Symbol,
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Strategy loop stopped")
			return

		case <-ticker.C:
			if retired := r.runCycle(ctx, strategy); retired {
				return
			}
		}
	}
}

// runCycle runs one iteration. Returning true retires the loop.
func (r *Runner) runCycle(ctx context.Context, strategy *model.Strategy) bool {
	label := strconv.FormatUint(uint64(strategy.ID), 10)

	log := logger.WithFields(map[string]interface{}{
		"component": "Runner",
		"strategy":  strategy.ID,
		"symbol":    strategy.Symbol,
	})

	// Re-read the row each cycle: limits and leverage edits take effect on
	// the next tick, and a status flipped away from running ends the loop.
	// That is also how an account-scope pause stops sibling loops.
	fresh, err := r.strategies.FindByID(ctx, strategy.ID)
	if err != nil {
		metrics.StrategyLoops.WithLabelValues(label, "db_error").Inc()
		return false
	}
	if fresh == nil || fresh.Status != model.StrategyStatusRunning {
		log.Info("Strategy no longer running, retiring loop")
		metrics.StrategyLoops.WithLabelValues(label, "retired").Inc()
		return true
	}
	*strategy = *fresh

	position, err := r.engine.CurrentPosition(ctx, strategy)
	if err != nil {
		log.WithError(err).Warn("Position sync failed, skipping cycle")
		metrics.StrategyLoops.WithLabelValues(label, "sync_error").Inc()
		return false
	}

	signal, err := r.signals.Next(ctx, strategy, position)
	if err != nil {
		log.WithError(err).Error("Signal source failed")
		metrics.StrategyLoops.WithLabelValues(label, "signal_error").Inc()
		return false
	}
	if signal == nil {
		metrics.StrategyLoops.WithLabelValues(label, "idle").Inc()
		r.touch(ctx, strategy.ID, log)
		return false
	}

	_, err = r.engine.ExecuteOrder(ctx, signal, strategy)
	retired := r.recordOutcome(ctx, strategy, signal, err, label, log)

	r.touch(ctx, strategy.ID, log)

	// Refresh the venue view after acting so the operator sees the post-trade
	// state even if the next tick is far away.
	if !retired {
		if after, err := r.engine.CurrentPosition(ctx, strategy); err == nil && after != nil {
			log.WithFields(map[string]interface{}{
				"position_side": after.PositionSide,
				"quantity":      after.Quantity.String(),
			}).Debug("Position after execution")
		}
	}

	return retired
}

// recordOutcome maps an execution result onto metrics and decides whether
// the loop keeps running.
func (r *Runner) recordOutcome(
	ctx context.Context,
	strategy *model.Strategy,
	signal *Signal,
	err error,
	label string,
	log *logger.Entry,
) bool {

	if err == nil {
		metrics.StrategyLoops.WithLabelValues(label, "executed").Inc()
		return false
	}

	if breakerErr, ok := risk.AsBreakerActive(err); ok {
		log.WithFields(map[string]interface{}{
			"breaker":        breakerErr.BreakerID,
			"cooldown_until": breakerErr.CooldownUntil,
		}).Warn("Breaker active, retiring loop")
		metrics.StrategyLoops.WithLabelValues(label, "breaker").Inc()
		return true
	}

	if limitErr, ok := risk.AsLimitExceeded(err); ok {
		metrics.StrategyLoops.WithLabelValues(label, "risk_rejected").Inc()
		// Exposure rejections are transient; loss and drawdown breaches have
		// already paused the row, so the status check would retire the loop
		// next tick anyway.
		return limitErr.Check != risk.CheckExposure
	}

	var newsErr *risk.NewsWindowError
	if errors.As(err, &newsErr) {
		log.WithFields(map[string]interface{}{
			"event":        newsErr.EventTitle,
			"next_allowed": newsErr.NextAllowed,
		}).Info("Entry blocked by news window")
		metrics.StrategyLoops.WithLabelValues(label, "news_blocked").Inc()
		return false
	}

	log.WithFields(map[string]interface{}{
		"side":     signal.Side,
		"quantity": signal.Quantity.String(),
	}).WithError(err).Error("Order execution failed")
	metrics.StrategyLoops.WithLabelValues(label, "error").Inc()
	return false
}

func (r *Runner) touch(ctx context.Context, strategyID uint, log *logger.Entry) {
	if err := r.strategies.TouchLastExecuted(ctx, strategyID, time.Now().UTC()); err != nil {
		log.WithError(err).Debug("Failed to stamp last execution time")
	}
}

// ---------------------------------------------------
// Breaker cancellation
// ---------------------------------------------------

// CancelStrategy cuts one strategy loop mid-cycle.
func (r *Runner) CancelStrategy(strategyID uint) {
	r.mu.Lock()
	handle, ok := r.handles[strategyID]
	r.mu.Unlock()

	if ok {
		handle.cancel()
	}
}

// CancelAccount cuts every loop trading on the account.
func (r *Runner) CancelAccount(accountID uint) {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.handles))
	for _, handle := range r.handles {
		if handle.accountID == accountID {
			cancels = append(cancels, handle.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (r *Runner) publish(event *events.Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}
