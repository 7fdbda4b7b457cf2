package executors

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/externalmodel"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// Signal is one resolved trading decision, ready for the risk gate and the
// executor.
type Signal struct {
	SignalID     *uint
	Symbol       string
	Side         string // BUY | SELL
	PositionSide string // LONG | SHORT
	Direction    string // entry | exit
	OrderType    string // MARKET | LIMIT
	Quantity     decimal.Decimal
	Price        decimal.NullDecimal
	ReduceOnly   bool
	Comment      string
}

// SignalSource produces at most one actionable decision per strategy cycle.
// A nil signal with nil error means nothing to do this cycle.
type SignalSource interface {
	Next(ctx context.Context, strategy *model.Strategy, position *connectors.PositionInfo) (*Signal, error)
}

// DBSignalSource reads the newest ingested signal for the strategy's symbol
// and skips legs the engine has already acted on, using the fill rows'
// SignalID back-reference.
type DBSignalSource struct {
	signals *repository.TradingSignalRepository
	fills   *repository.FillRepository
}

func NewDBSignalSource(
	signals *repository.TradingSignalRepository,
	fills *repository.FillRepository,
) *DBSignalSource {
	return &DBSignalSource{signals: signals, fills: fills}
}

func (s *DBSignalSource) Next(
	ctx context.Context,
	strategy *model.Strategy,
	position *connectors.PositionInfo,
) (*Signal, error) {

	exchange := "binance"
	if strategy.Account != nil && strategy.Account.Exchange != "" {
		exchange = strategy.Account.Exchange
	}

	rows, err := s.signals.FindLatest(ctx, strategy.Symbol, exchange, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	raw := rows[0]

	for _, leg := range resolveIntents(&raw, position) {
		existing, err := s.fills.FindBySignalID(ctx, strategy.AccountID, raw.ID, leg.Direction)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		if !leg.Quantity.IsPositive() {
			logger.WithFields(map[string]interface{}{
				"component": "DBSignalSource",
				"signal":    raw.ID,
				"direction": leg.Direction,
			}).Warn("Skipping signal leg with non-positive quantity")
			continue
		}

		// An exit the venue no longer holds a position for was flattened
		// outside the engine.
		if leg.Direction == model.FillDirectionExit && !positionHasQty(position, leg.PositionSide) {
			logger.WithFields(map[string]interface{}{
				"component": "DBSignalSource",
				"signal":    raw.ID,
				"pos_side":  leg.PositionSide,
			}).Info("Skipping exit leg, no open position on the venue")
			continue
		}

		out := leg
		return &out, nil
	}

	return nil, nil
}

// resolveIntents expands one raw signal into its executable legs. A plain
// entry or exit is one leg. A flip (long to short or back) is a reduce-only
// close of the old side followed by an entry on the new side, taken on
// consecutive cycles so each cycle places at most one order.
func resolveIntents(raw *externalmodel.TradingSignal, position *connectors.PositionInfo) []Signal {
	action := strings.ToLower(strings.TrimSpace(raw.Action))
	market := strings.ToLower(strings.TrimSpace(raw.MarketPosition))
	prev := strings.ToLower(strings.TrimSpace(raw.PrevMarketPosition))

	orderType := strings.ToUpper(strings.TrimSpace(raw.OrderType))
	if orderType == "" {
		orderType = "MARKET"
	}

	closeLeg := func(posSide string) Signal {
		qty := raw.PrevMarketPositionSize
		if positionHasQty(position, posSide) {
			qty = position.Quantity
		}
		// A full close always trades against the position side, whatever the
		// alert's action field says.
		closeSide := model.SideSell
		if posSide == model.PositionSideShort {
			closeSide = model.SideBuy
		}
		return Signal{
			SignalID:     &raw.ID,
			Symbol:       raw.Symbol,
			Side:         closeSide,
			PositionSide: posSide,
			Direction:    model.FillDirectionExit,
			OrderType:    orderType,
			Quantity:     qty,
			Price:        raw.Price,
			ReduceOnly:   true,
			Comment:      raw.Comment,
		}
	}

	entryLeg := func(posSide string, qty decimal.Decimal) Signal {
		return Signal{
			SignalID:     &raw.ID,
			Symbol:       raw.Symbol,
			Side:         model.EntrySideFor(posSide),
			PositionSide: posSide,
			Direction:    model.FillDirectionEntry,
			OrderType:    orderType,
			Quantity:     qty,
			Price:        raw.Price,
			Comment:      raw.Comment,
		}
	}

	partialExitLeg := func(posSide string) Signal {
		leg := closeLeg(posSide)
		if raw.Quantity.IsPositive() {
			leg.Quantity = raw.Quantity
		}
		return leg
	}

	entryQty := raw.Quantity
	if !entryQty.IsPositive() {
		entryQty = raw.MarketPositionSize
	}

	switch {
	case market == externalmodel.MarketPositionFlat && prev == externalmodel.MarketPositionLong:
		return []Signal{closeLeg(model.PositionSideLong)}

	case market == externalmodel.MarketPositionFlat && prev == externalmodel.MarketPositionShort:
		return []Signal{closeLeg(model.PositionSideShort)}

	case market == externalmodel.MarketPositionFlat:
		return nil

	case market == externalmodel.MarketPositionLong && prev == externalmodel.MarketPositionShort:
		openQty := raw.MarketPositionSize
		if !openQty.IsPositive() {
			openQty = raw.Quantity
		}
		return []Signal{closeLeg(model.PositionSideShort), entryLeg(model.PositionSideLong, openQty)}

	case market == externalmodel.MarketPositionShort && prev == externalmodel.MarketPositionLong:
		openQty := raw.MarketPositionSize
		if !openQty.IsPositive() {
			openQty = raw.Quantity
		}
		return []Signal{closeLeg(model.PositionSideLong), entryLeg(model.PositionSideShort, openQty)}

	case market == externalmodel.MarketPositionLong && action == "sell":
		// Selling while staying long is a partial exit.
		return []Signal{partialExitLeg(model.PositionSideLong)}

	case market == externalmodel.MarketPositionLong:
		return []Signal{entryLeg(model.PositionSideLong, entryQty)}

	case market == externalmodel.MarketPositionShort && action == "buy":
		return []Signal{partialExitLeg(model.PositionSideShort)}

	case market == externalmodel.MarketPositionShort:
		return []Signal{entryLeg(model.PositionSideShort, entryQty)}
	}

	return nil
}

func positionHasQty(position *connectors.PositionInfo, posSide string) bool {
	return position != nil &&
		position.PositionSide == posSide &&
		position.Quantity.IsPositive()
}
