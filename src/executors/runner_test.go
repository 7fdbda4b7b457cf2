package executors

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

type sourceStub struct {
	signal *Signal
	err    error
	calls  int
}

func (s *sourceStub) Next(_ context.Context, _ *model.Strategy, _ *connectors.PositionInfo) (*Signal, error) {
	s.calls++
	return s.signal, s.err
}

func newTestRunner(t *testing.T, h *engineHarness, source SignalSource) *Runner {
	t.Helper()

	runner, err := NewRunner(h.db, h.engine, source, h.bus, execConfig())
	require.NoError(t, err)
	return runner
}

func handleCount(r *Runner) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ---------------------------------------------------

func TestRunnerCycleRetiresWhenStrategyPaused(t *testing.T) {
	conn := &connStub{placeStatus: orderStatus("600100", model.FillStatusFilled, "0.5", "0.5", "50000")}
	h := newEngineHarness(t, conn, nil)
	runner := newTestRunner(t, h, &sourceStub{})

	require.NoError(t, h.db.Model(&model.Strategy{}).
		Where("id = ?", h.strategy.ID).
		Update("status", model.StrategyStatusPausedByRisk).Error)

	retired := runner.runCycle(context.Background(), h.strategy)
	assert.True(t, retired)
}

func TestRunnerCycleIdleTouchesLastExecuted(t *testing.T) {
	conn := &connStub{}
	h := newEngineHarness(t, conn, nil)
	source := &sourceStub{}
	runner := newTestRunner(t, h, source)

	retired := runner.runCycle(context.Background(), h.strategy)
	assert.False(t, retired)
	assert.Equal(t, 1, source.calls)

	var strategy model.Strategy
	require.NoError(t, h.db.First(&strategy, h.strategy.ID).Error)
	assert.NotNil(t, strategy.LastExecutedAt)
}

func TestRunnerCycleExecutesSignal(t *testing.T) {
	conn := &connStub{placeStatus: orderStatus("600200", model.FillStatusFilled, "0.5", "0.5", "50000")}
	h := newEngineHarness(t, conn, nil)
	runner := newTestRunner(t, h, &sourceStub{signal: entrySignal()})

	retired := runner.runCycle(context.Background(), h.strategy)
	assert.False(t, retired)

	assert.Equal(t, 1, conn.placeCalls)
	require.Len(t, fillRows(t, h.db), 1)
}

func TestRunnerCycleRetiresOnActiveBreaker(t *testing.T) {
	conn := &connStub{placeStatus: orderStatus("600300", model.FillStatusFilled, "0.5", "0.5", "50000")}
	h := newEngineHarness(t, conn, nil)
	runner := newTestRunner(t, h, &sourceStub{signal: entrySignal()})

	require.NoError(t, h.db.Create(&model.CircuitBreakerState{
		AccountID:      h.account.ID,
		Type:           model.BreakerTypeRapidLoss,
		Scope:          model.BreakerScopeAccount,
		Status:         model.BreakerStatusActive,
		TriggerValue:   dec("6"),
		ThresholdValue: dec("5"),
		Reason:         "rapid loss of 6% in 60m",
		TriggeredAt:    time.Now().Add(-time.Minute),
		CooldownUntil:  time.Now().Add(time.Hour),
	}).Error)

	retired := runner.runCycle(context.Background(), h.strategy)
	assert.True(t, retired)
	assert.Zero(t, conn.placeCalls)
}

func TestRunnerCycleKeepsLoopOnExposureRejection(t *testing.T) {
	conn := &connStub{
		placeStatus: orderStatus("600400", model.FillStatusFilled, "0.5", "0.5", "50000"),
		positions: []connectors.PositionInfo{{
			Symbol:       "BTCUSDT",
			PositionSide: model.PositionSideLong,
			Quantity:     dec("0.5"),
			MarkPrice:    dec("50000"),
		}},
	}
	h := newEngineHarness(t, conn, nil)
	h.account.MaxExposure = decimal.NewNullDecimal(dec("1000"))
	require.NoError(t, h.db.Save(h.account).Error)

	runner := newTestRunner(t, h, &sourceStub{signal: entrySignal()})

	// Over the exposure limit, but only this cycle: the loop stays alive.
	retired := runner.runCycle(context.Background(), h.strategy)
	assert.False(t, retired)
	assert.Zero(t, conn.placeCalls)
}

func TestRunnerCycleRetiresAfterLossBreach(t *testing.T) {
	conn := &connStub{placeStatus: orderStatus("600500", model.FillStatusFilled, "0.5", "0.5", "50000")}
	h := newEngineHarness(t, conn, nil)
	h.account.MaxDailyLoss = decimal.NewNullDecimal(dec("100"))
	require.NoError(t, h.db.Save(h.account).Error)
	h.ledger.pnl = dec("-150")

	runner := newTestRunner(t, h, &sourceStub{signal: entrySignal()})

	retired := runner.runCycle(context.Background(), h.strategy)
	assert.True(t, retired)

	// The engine paused the row while handling the breach.
	assert.Equal(t, model.StrategyStatusPausedByRisk, strategyStatus(t, h.db, h.strategy.ID))
}

func TestRunnerRescanLaunchesEachRunnableOnce(t *testing.T) {
	conn := &connStub{}
	h := newEngineHarness(t, conn, nil)
	runner := newTestRunner(t, h, &sourceStub{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, runner.rescan(ctx))
	assert.Equal(t, 1, handleCount(runner))

	// A second pass does not double-launch the same strategy.
	require.NoError(t, runner.rescan(ctx))
	assert.Equal(t, 1, handleCount(runner))

	runner.Stop()
	assert.Zero(t, handleCount(runner))
}

func TestRunnerCancelAccountStopsItsLoops(t *testing.T) {
	conn := &connStub{}
	h := newEngineHarness(t, conn, nil)
	runner := newTestRunner(t, h, &sourceStub{})

	other := &model.Strategy{
		ID:        9,
		AccountID: 2,
		Name:      "other",
		Symbol:    "ETHUSDT",
		Status:    model.StrategyStatusRunning,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.launch(ctx, *h.strategy)
	runner.launch(ctx, *other)
	require.Equal(t, 2, handleCount(runner))

	runner.CancelAccount(h.account.ID)

	require.Eventually(t, func() bool {
		return handleCount(runner) == 1
	}, 2*time.Second, 10*time.Millisecond)

	runner.CancelStrategy(other.ID)

	require.Eventually(t, func() bool {
		return handleCount(runner) == 0
	}, 2*time.Second, 10*time.Millisecond)

	runner.Stop()
}
