package executors

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tradeengine/src/connectors"
	"tradeengine/src/externalmodel"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

func newSignalDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&externalmodel.TradingSignal{},
		&model.Fill{},
		&model.FillEvent{},
	))
	return db
}

func newSignalSource(db *gorm.DB) *DBSignalSource {
	return NewDBSignalSource(
		repository.NewTradingSignalRepository().WithDB(db),
		repository.NewFillRepository().WithDB(db),
	)
}

func signalStrategy() *model.Strategy {
	return &model.Strategy{
		ID:        7,
		AccountID: 1,
		Symbol:    "BTCUSDT",
		Status:    model.StrategyStatusRunning,
		Account:   &model.Account{ID: 1, Exchange: "binance"},
	}
}

func rawSignal(action, market, prev string) *externalmodel.TradingSignal {
	return &externalmodel.TradingSignal{
		Exchange:               "binance",
		Symbol:                 "BTCUSDT",
		Action:                 action,
		Quantity:               dec("0.5"),
		MarketPosition:         market,
		PrevMarketPosition:     prev,
		MarketPositionSize:     dec("0.5"),
		PrevMarketPositionSize: dec("0.5"),
	}
}

func longPosition(qty string) *connectors.PositionInfo {
	return &connectors.PositionInfo{
		Symbol:       "BTCUSDT",
		PositionSide: model.PositionSideLong,
		Quantity:     dec(qty),
		EntryPrice:   dec("50000"),
	}
}

func shortPosition(qty string) *connectors.PositionInfo {
	return &connectors.PositionInfo{
		Symbol:       "BTCUSDT",
		PositionSide: model.PositionSideShort,
		Quantity:     dec(qty),
		EntryPrice:   dec("50000"),
	}
}

// ---------------------------------------------------
// resolveIntents
// ---------------------------------------------------

func TestResolveIntentsEntryLong(t *testing.T) {
	raw := rawSignal("buy", externalmodel.MarketPositionLong, externalmodel.MarketPositionFlat)
	raw.ID = 11

	legs := resolveIntents(raw, nil)
	require.Len(t, legs, 1)

	leg := legs[0]
	assert.Equal(t, model.SideBuy, leg.Side)
	assert.Equal(t, model.PositionSideLong, leg.PositionSide)
	assert.Equal(t, model.FillDirectionEntry, leg.Direction)
	assert.Equal(t, "0.5", leg.Quantity.String())
	assert.False(t, leg.ReduceOnly)
	require.NotNil(t, leg.SignalID)
	assert.Equal(t, uint(11), *leg.SignalID)
}

func TestResolveIntentsEntryShort(t *testing.T) {
	raw := rawSignal("sell", externalmodel.MarketPositionShort, externalmodel.MarketPositionFlat)

	legs := resolveIntents(raw, nil)
	require.Len(t, legs, 1)

	assert.Equal(t, model.SideSell, legs[0].Side)
	assert.Equal(t, model.PositionSideShort, legs[0].PositionSide)
	assert.Equal(t, model.FillDirectionEntry, legs[0].Direction)
}

func TestResolveIntentsFullCloseUsesPositionSide(t *testing.T) {
	// The close trades against the held side even though the alert says sell.
	raw := rawSignal("sell", externalmodel.MarketPositionFlat, externalmodel.MarketPositionLong)

	legs := resolveIntents(raw, longPosition("0.4"))
	require.Len(t, legs, 1)

	leg := legs[0]
	assert.Equal(t, model.SideSell, leg.Side)
	assert.Equal(t, model.PositionSideLong, leg.PositionSide)
	assert.Equal(t, model.FillDirectionExit, leg.Direction)
	assert.True(t, leg.ReduceOnly)
	// Live venue quantity wins over the alert's prev size.
	assert.Equal(t, "0.4", leg.Quantity.String())
}

func TestResolveIntentsFullCloseShortBuysBack(t *testing.T) {
	raw := rawSignal("buy", externalmodel.MarketPositionFlat, externalmodel.MarketPositionShort)

	legs := resolveIntents(raw, nil)
	require.Len(t, legs, 1)

	leg := legs[0]
	assert.Equal(t, model.SideBuy, leg.Side)
	assert.Equal(t, model.PositionSideShort, leg.PositionSide)
	assert.True(t, leg.ReduceOnly)
	// No live position to read, fall back to the alert's prev size.
	assert.Equal(t, "0.5", leg.Quantity.String())
}

func TestResolveIntentsFlipClosesThenOpens(t *testing.T) {
	raw := rawSignal("buy", externalmodel.MarketPositionLong, externalmodel.MarketPositionShort)
	raw.MarketPositionSize = dec("0.7")

	legs := resolveIntents(raw, shortPosition("0.3"))
	require.Len(t, legs, 2)

	closing := legs[0]
	assert.Equal(t, model.FillDirectionExit, closing.Direction)
	assert.Equal(t, model.PositionSideShort, closing.PositionSide)
	assert.Equal(t, model.SideBuy, closing.Side)
	assert.True(t, closing.ReduceOnly)
	assert.Equal(t, "0.3", closing.Quantity.String())

	opening := legs[1]
	assert.Equal(t, model.FillDirectionEntry, opening.Direction)
	assert.Equal(t, model.PositionSideLong, opening.PositionSide)
	assert.Equal(t, model.SideBuy, opening.Side)
	assert.False(t, opening.ReduceOnly)
	assert.Equal(t, "0.7", opening.Quantity.String())
}

func TestResolveIntentsPartialExit(t *testing.T) {
	// Selling while the alert still reports a long market position trims the
	// position instead of opening a short.
	raw := rawSignal("sell", externalmodel.MarketPositionLong, externalmodel.MarketPositionLong)
	raw.Quantity = dec("0.2")

	legs := resolveIntents(raw, longPosition("0.6"))
	require.Len(t, legs, 1)

	leg := legs[0]
	assert.Equal(t, model.FillDirectionExit, leg.Direction)
	assert.Equal(t, model.SideSell, leg.Side)
	assert.Equal(t, model.PositionSideLong, leg.PositionSide)
	assert.True(t, leg.ReduceOnly)
	assert.Equal(t, "0.2", leg.Quantity.String())
}

func TestResolveIntentsFlatToFlatIsNoop(t *testing.T) {
	raw := rawSignal("sell", externalmodel.MarketPositionFlat, externalmodel.MarketPositionFlat)
	assert.Empty(t, resolveIntents(raw, nil))
}

// ---------------------------------------------------
// DBSignalSource
// ---------------------------------------------------

func TestSignalSourceReturnsFreshEntry(t *testing.T) {
	db := newSignalDB(t)
	source := newSignalSource(db)

	raw := rawSignal("buy", externalmodel.MarketPositionLong, externalmodel.MarketPositionFlat)
	require.NoError(t, db.Create(raw).Error)

	signal, err := source.Next(context.Background(), signalStrategy(), nil)
	require.NoError(t, err)
	require.NotNil(t, signal)

	assert.Equal(t, model.FillDirectionEntry, signal.Direction)
	require.NotNil(t, signal.SignalID)
	assert.Equal(t, raw.ID, *signal.SignalID)
}

func TestSignalSourceSkipsProcessedSignal(t *testing.T) {
	db := newSignalDB(t)
	source := newSignalSource(db)

	raw := rawSignal("buy", externalmodel.MarketPositionLong, externalmodel.MarketPositionFlat)
	require.NoError(t, db.Create(raw).Error)

	require.NoError(t, db.Create(&model.Fill{
		AccountID:       1,
		StrategyID:      7,
		Symbol:          "BTCUSDT",
		ExchangeOrderID: "700100",
		SignalID:        &raw.ID,
		Side:            model.SideBuy,
		PositionSide:    model.PositionSideLong,
		Direction:       model.FillDirectionEntry,
		Status:          model.FillStatusFilled,
	}).Error)

	signal, err := source.Next(context.Background(), signalStrategy(), longPosition("0.5"))
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestSignalSourceSkipsExitWhenVenueFlat(t *testing.T) {
	db := newSignalDB(t)
	source := newSignalSource(db)

	raw := rawSignal("sell", externalmodel.MarketPositionFlat, externalmodel.MarketPositionLong)
	require.NoError(t, db.Create(raw).Error)

	// Position already flattened outside the engine: nothing to close.
	signal, err := source.Next(context.Background(), signalStrategy(), nil)
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestSignalSourceWalksFlipAcrossCycles(t *testing.T) {
	db := newSignalDB(t)
	source := newSignalSource(db)

	raw := rawSignal("buy", externalmodel.MarketPositionLong, externalmodel.MarketPositionShort)
	require.NoError(t, db.Create(raw).Error)

	// First cycle: the reduce-only close of the old short.
	first, err := source.Next(context.Background(), signalStrategy(), shortPosition("0.3"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.FillDirectionExit, first.Direction)
	assert.Equal(t, model.PositionSideShort, first.PositionSide)

	require.NoError(t, db.Create(&model.Fill{
		AccountID:       1,
		StrategyID:      7,
		Symbol:          "BTCUSDT",
		ExchangeOrderID: "700200",
		SignalID:        &raw.ID,
		Side:            model.SideBuy,
		PositionSide:    model.PositionSideShort,
		Direction:       model.FillDirectionExit,
		Status:          model.FillStatusFilled,
	}).Error)

	// Next cycle, now flat: the entry leg of the same signal.
	second, err := source.Next(context.Background(), signalStrategy(), nil)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, model.FillDirectionEntry, second.Direction)
	assert.Equal(t, model.PositionSideLong, second.PositionSide)
}

func TestSignalSourceIdleWithoutSignals(t *testing.T) {
	db := newSignalDB(t)
	source := newSignalSource(db)

	signal, err := source.Next(context.Background(), signalStrategy(), nil)
	require.NoError(t, err)
	assert.Nil(t, signal)
}
