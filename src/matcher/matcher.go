package matcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/events"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/utils"
)

// matchEpsilon is the quantity below which a remainder counts as dust, not
// as an open slice.
var matchEpsilon = decimal.New(1, -4)

// ResidualError reports exit quantity left unmatched after every eligible
// entry was consumed. The matched trades are already committed; the residual
// is a data inconsistency (typically a missing entry fill) for manual
// reconciliation.
type ResidualError struct {
	FillID    uint
	Symbol    string
	Unmatched decimal.Decimal
}

func (e *ResidualError) Error() string {
	return fmt.Sprintf("exit fill %d on %s left %s unmatched: no eligible entries remain",
		e.FillID, e.Symbol, e.Unmatched.String())
}

// AsResidual unwraps err into a ResidualError if one is present.
func AsResidual(err error) (*ResidualError, bool) {
	var residualErr *ResidualError
	if errors.As(err, &residualErr) {
		return residualErr, true
	}
	return nil, false
}

// ---------------------------------------------------

// Matcher turns position-closing fills into CompletedTrade rows by
// allocating the exit quantity against open entry fills, oldest first.
//
// The whole match runs in one transaction: candidate entries are read under
// row locks (skip-locked, so racing exits carve up disjoint slices of the
// entry pool instead of deadlocking), the funding window is fetched while
// the locks pin the remainders, and every resulting trade is inserted with
// its allocations before commit.
type Matcher struct {
	db         *gorm.DB
	fills      *repository.FillRepository
	trades     *repository.CompletedTradeRepository
	exceptions *repository.ExceptionRepository
	funding    FundingRouter
	bus        *events.Bus
}

// FundingRouter resolves the funding source for the account owning a closing
// fill. Engines serving several accounts route to each account's own
// connector; NewMatcher wraps a fixed source for single-venue use.
type FundingRouter func(ctx context.Context, accountID uint) (FundingSource, error)

func NewMatcher(db *gorm.DB, funding FundingSource, bus *events.Bus) *Matcher {
	return NewMatcherWithRouter(db,
		func(context.Context, uint) (FundingSource, error) { return funding, nil },
		bus,
	)
}

func NewMatcherWithRouter(db *gorm.DB, router FundingRouter, bus *events.Bus) *Matcher {
	return &Matcher{
		db:         db,
		fills:      repository.NewFillRepository().WithDB(db),
		trades:     repository.NewCompletedTradeRepository().WithDB(db),
		exceptions: repository.NewExceptionRepository().WithDB(db),
		funding:    router,
		bus:        bus,
	}
}

type allocation struct {
	entry *model.Fill
	qty   decimal.Decimal
}

// OnPositionClosingFill matches one closing fill against open entries and
// returns the completed trades, existing rows included when the fill is
// redelivered. believedPositionSide is the caller's expectation; when it
// disagrees with the fill's own recorded side, the fill wins (hedge-mode
// accounts hold independent LONG and SHORT books, so the side must never be
// re-derived from BUY/SELL).
//
// A non-nil error alongside a non-empty result is a ResidualError: the
// returned trades are committed, the leftover quantity is not matchable.
func (m *Matcher) OnPositionClosingFill(
	ctx context.Context,
	exit *model.Fill,
	believedPositionSide string,
) ([]model.CompletedTrade, error) {

	if exit == nil {
		return nil, errors.New("matcher requires a fill")
	}
	if exit.PositionSide != model.PositionSideLong && exit.PositionSide != model.PositionSideShort {
		return nil, fmt.Errorf("fill %d carries no resolved position side", exit.ID)
	}
	if believedPositionSide != "" && believedPositionSide != exit.PositionSide {
		logger.WithFields(map[string]interface{}{
			"fill":     exit.ID,
			"believed": believedPositionSide,
			"recorded": exit.PositionSide,
		}).Warn("Caller position side disagrees with fill, trusting the fill")
	}
	if !model.IsFillable(exit.Status) || !exit.ExecutedQuantity.IsPositive() {
		return nil, nil
	}

	var (
		completed []model.CompletedTrade
		residual  decimal.Decimal
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fills := m.fills.WithDB(tx)
		trades := m.trades.WithDB(tx)

		// Redelivered exits short-circuit to the already-committed result.
		exitAllocated, err := allocatedFor(ctx, trades, exit.ID, model.TradeRoleExit)
		if err != nil {
			return err
		}
		remaining := exit.ExecutedQuantity.Sub(exitAllocated)
		if remaining.LessThanOrEqual(matchEpsilon) {
			completed, err = trades.TradesForFill(ctx, exit.ID, model.TradeRoleExit)
			return err
		}

		candidates, err := fills.FindOpenEntriesForUpdate(ctx, exit.StrategyID, exit.Symbol, exit.PositionSide)
		if err != nil {
			return err
		}

		allocations, leftover, err := m.allocate(ctx, trades, candidates, remaining)
		if err != nil {
			return err
		}
		residual = leftover

		if len(allocations) == 0 {
			return nil
		}

		fundingTotal, err := m.fundingOverWindow(ctx, exit, allocations[0].entry)
		if err != nil {
			return err
		}

		completed, err = m.persistTrades(ctx, trades, exit, allocations, fundingTotal)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range completed {
		m.publishTrade(&completed[i])
	}

	if residual.GreaterThan(matchEpsilon) {
		metrics.MatchResiduals.WithLabelValues(exit.Symbol).Inc()
		residualErr := &ResidualError{FillID: exit.ID, Symbol: exit.Symbol, Unmatched: residual}
		logger.WithFields(map[string]interface{}{
			"fill":      exit.ID,
			"symbol":    exit.Symbol,
			"unmatched": residual.String(),
			"matched":   len(completed),
		}).Error("Exit quantity left unmatched after exhausting entries")
		m.captureResidual(ctx, residualErr)
		if m.bus != nil {
			m.bus.Publish(&events.Event{
				Type:       events.TypeUnmatchedExit,
				AccountID:  exit.AccountID,
				StrategyID: exit.StrategyID,
				Symbol:     exit.Symbol,
				Data: map[string]interface{}{
					"fill_id":   exit.ID,
					"unmatched": residual.String(),
				},
			})
		}
		return completed, residualErr
	}

	return completed, nil
}

// captureResidual persists the shortfall for manual reconciliation.
func (m *Matcher) captureResidual(ctx context.Context, residualErr *ResidualError) {
	m.exceptions.Capture(ctx, "matcher", "OnPositionClosingFill", "error",
		residualErr, map[string]interface{}{
			"fill_id":   residualErr.FillID,
			"symbol":    residualErr.Symbol,
			"unmatched": residualErr.Unmatched.String(),
		})
}

// allocate walks the FIFO candidates and carves min(remaining, entry
// remainder) slices until the exit quantity is exhausted.
func (m *Matcher) allocate(
	ctx context.Context,
	trades *repository.CompletedTradeRepository,
	candidates []model.Fill,
	remaining decimal.Decimal,
) ([]allocation, decimal.Decimal, error) {

	ids := make([]uint, 0, len(candidates))
	for i := range candidates {
		ids = append(ids, candidates[i].ID)
	}
	consumed, err := trades.AllocatedQuantities(ctx, ids, model.TradeRoleEntry)
	if err != nil {
		return nil, remaining, err
	}

	var allocations []allocation
	for i := range candidates {
		if remaining.LessThanOrEqual(matchEpsilon) {
			break
		}
		entry := &candidates[i]
		entryRemaining := entry.ExecutedQuantity.Sub(consumed[entry.ID])
		if entryRemaining.LessThanOrEqual(matchEpsilon) {
			continue
		}
		qty := decimal.Min(remaining, entryRemaining)
		allocations = append(allocations, allocation{entry: entry, qty: qty})
		remaining = remaining.Sub(qty)
	}
	return allocations, remaining, nil
}

// fundingOverWindow fetches the signed funding income once per closing
// fill, spanning the earliest matched entry to the exit. The entry rows stay
// locked across this remote call; that is the point of the skip-locked read.
func (m *Matcher) fundingOverWindow(ctx context.Context, exit *model.Fill, earliest *model.Fill) (decimal.Decimal, error) {
	if m.funding == nil {
		return decimal.Zero, nil
	}

	source, err := m.funding(ctx, exit.AccountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolving funding source for account %d: %w", exit.AccountID, err)
	}
	if source == nil {
		return decimal.Zero, nil
	}

	from := fillTime(earliest)
	to := fillTime(exit)
	if !to.After(from) {
		to = from.Add(time.Second)
	}

	entries, err := source.GetFundingFees(ctx, exit.Symbol, from, to)
	if err != nil {
		// Abort and let the redelivery retry: a committed trade with a
		// guessed funding fee never self-corrects.
		return decimal.Zero, fmt.Errorf("fetching funding fees for %s: %w", exit.Symbol, err)
	}
	return sumFunding(entries), nil
}

// persistTrades builds and inserts one CompletedTrade per allocation,
// splitting fees by consumed share and funding by matched share. Duplicate
// close-event ids collapse to the existing rows.
func (m *Matcher) persistTrades(
	ctx context.Context,
	trades *repository.CompletedTradeRepository,
	exit *model.Fill,
	allocations []allocation,
	fundingTotal decimal.Decimal,
) ([]model.CompletedTrade, error) {

	totalMatched := decimal.Zero
	for _, alloc := range allocations {
		totalMatched = totalMatched.Add(alloc.qty)
	}

	completed := make([]model.CompletedTrade, 0, len(allocations))
	fundingLeft := fundingTotal

	for i, alloc := range allocations {
		funding := fundingLeft
		if i < len(allocations)-1 {
			funding = fundingTotal.Mul(alloc.qty).Div(totalMatched)
		}
		fundingLeft = fundingLeft.Sub(funding)

		trade := m.buildTrade(exit, alloc, funding)

		if err := trades.CreateWithOrders(ctx, trade); err != nil {
			if errors.Is(err, repository.ErrDuplicateCloseEvent) {
				existing, findErr := trades.FindByCloseEventID(ctx, trade.CloseEventID)
				if findErr != nil {
					return nil, findErr
				}
				if existing != nil {
					completed = append(completed, *existing)
					continue
				}
			}
			return nil, err
		}
		completed = append(completed, *trade)
	}
	return completed, nil
}

func (m *Matcher) buildTrade(exit *model.Fill, alloc allocation, funding decimal.Decimal) *model.CompletedTrade {
	entry := alloc.entry
	qty := alloc.qty

	gross := exit.AvgPrice.Sub(entry.AvgPrice).Mul(qty)
	if exit.PositionSide == model.PositionSideShort {
		gross = entry.AvgPrice.Sub(exit.AvgPrice).Mul(qty)
	}

	entryFee := feeShare(entry, qty)
	exitFee := feeShare(exit, qty)
	net := gross.Sub(entryFee).Sub(exitFee)

	leverage := entry.Leverage
	if leverage < 1 {
		leverage = 1
	}
	margin := entry.AvgPrice.Mul(qty).Div(decimal.NewFromInt(int64(leverage)))
	pct := decimal.Zero
	if margin.IsPositive() {
		pct = net.Div(margin).Mul(decimal.NewFromInt(100))
	}

	entryTime := fillTime(entry)
	exitTime := fillTime(exit)

	return &model.CompletedTrade{
		CloseEventID: utils.ShortID(32,
			strconv.FormatUint(uint64(entry.ID), 10),
			strconv.FormatUint(uint64(exit.ID), 10),
			qty.StringFixed(12),
			strconv.FormatInt(entryTime.UnixMilli(), 10),
		),
		AccountID:    exit.AccountID,
		StrategyID:   exit.StrategyID,
		Symbol:       exit.Symbol,
		PositionSide: exit.PositionSide,
		Quantity:     qty,
		EntryPrice:   entry.AvgPrice,
		ExitPrice:    exit.AvgPrice,
		EntryTime:    entryTime,
		ExitTime:     exitTime,
		RealizedPnL:  net,
		// Percentage over the margin actually put up, not the notional.
		RealizedPnLPct: pct,
		FeePaid:        entryFee.Add(exitFee),
		FundingFee:     funding,
		Leverage:       leverage,
		MarginMode:     entry.MarginMode,
		ExitReason:     exit.ExitReason,
		Orders: []model.CompletedTradeOrder{
			{FillID: entry.ID, Role: model.TradeRoleEntry, Quantity: qty},
			{FillID: exit.ID, Role: model.TradeRoleExit, Quantity: qty},
		},
	}
}

func (m *Matcher) publishTrade(trade *model.CompletedTrade) {
	outcome := "win"
	if trade.RealizedPnL.IsNegative() {
		outcome = "loss"
	}
	metrics.TradesCompleted.WithLabelValues(trade.Symbol, outcome).Inc()
	metrics.RealizedPnL.WithLabelValues(trade.Symbol, trade.PositionSide).Add(trade.RealizedPnL.InexactFloat64())

	if m.bus == nil {
		return
	}
	m.bus.Publish(&events.Event{
		Type:       events.TypeTradeCompleted,
		AccountID:  trade.AccountID,
		StrategyID: trade.StrategyID,
		Symbol:     trade.Symbol,
		Data: map[string]interface{}{
			"trade_id":       trade.ID,
			"close_event_id": trade.CloseEventID,
			"position_side":  trade.PositionSide,
			"quantity":       trade.Quantity.String(),
			"realized_pnl":   trade.RealizedPnL.String(),
			"exit_time":      trade.ExitTime,
		},
	})
}

// ---------------------------------------------------

func allocatedFor(ctx context.Context, trades *repository.CompletedTradeRepository, fillID uint, role string) (decimal.Decimal, error) {
	sums, err := trades.AllocatedQuantities(ctx, []uint{fillID}, role)
	if err != nil {
		return decimal.Zero, err
	}
	return sums[fillID], nil
}

// feeShare splits a fill's total fee by the consumed fraction of its
// executed quantity.
func feeShare(fill *model.Fill, qty decimal.Decimal) decimal.Decimal {
	if !fill.ExecutedQuantity.IsPositive() {
		return decimal.Zero
	}
	return fill.Fee.Mul(qty).Div(fill.ExecutedQuantity)
}

func fillTime(fill *model.Fill) time.Time {
	if fill.FilledAt != nil {
		return *fill.FilledAt
	}
	return fill.CreatedAt
}
