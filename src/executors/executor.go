package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/cache"
	"tradeengine/src/connectors"
	"tradeengine/src/events"
	"tradeengine/src/mapper"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// ExecuteRequest is one order the engine wants on the exchange.
type ExecuteRequest struct {
	AccountID  uint
	StrategyID uint
	// SignalID links the resulting fill back to the trading signal, nil for
	// orders not driven by one (manual flatten, breaker cleanup).
	SignalID     *uint
	Symbol       string
	Side         string // BUY | SELL
	PositionSide string // LONG | SHORT
	Direction    string // entry | exit
	OrderType    string // MARKET | LIMIT
	Quantity     decimal.Decimal
	Price        decimal.NullDecimal
	ReduceOnly   bool
	Leverage     int
	MarginMode   string
	ExitReason   *string
}

// Executor places orders exactly once per logical decision. The idempotency
// key doubles as the venue client order id, so duplicates are rejected
// server-side even when the local cache was lost.
type Executor struct {
	conn  connectors.Connector
	fills *repository.FillRepository
	dedup cache.TTLStore
	bus   *events.Bus
	cfg   Config

	now func() time.Time
}

func NewExecutor(
	conn connectors.Connector,
	fills *repository.FillRepository,
	dedup cache.TTLStore,
	bus *events.Bus,
	cfg Config,
) *Executor {
	return &Executor{
		conn:  conn,
		fills: fills,
		dedup: dedup,
		bus:   bus,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Execute places the order, waits briefly for it to fill and persists the
// exchange's view as a fill row. A still-working order is not an error; the
// row updates when a later cycle re-syncs it.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*model.Fill, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("execute: symbol is required")
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("execute: quantity must be positive, got %s", req.Quantity.String())
	}

	key := IdempotencyKey(req.Symbol, req.Side, req.Quantity, req.ReduceOnly, req.Price, e.now(), e.cfg.QuantityPrecision)
	clientID := ClientOrderID(key)
	cacheKey := fmt.Sprintf("dedup:%d:%s", req.AccountID, key)

	if orderID, hit, err := e.dedup.Get(ctx, cacheKey); err != nil {
		logger.WithError(err).Warn("Idempotency cache read failed, continuing without dedup")
	} else if hit {
		metrics.OrdersDeduplicated.WithLabelValues(req.Symbol).Inc()
		logger.WithFields(map[string]interface{}{
			"component": "Executor",
			"symbol":    req.Symbol,
			"side":      req.Side,
			"order_id":  orderID,
		}).Info("Duplicate order suppressed by idempotency key")

		e.publish(events.TypeDuplicateSuppressed, req, map[string]interface{}{
			"exchange_order_id": orderID,
		})
		return e.recoverExisting(ctx, req, orderID, clientID)
	}

	started := e.now()

	status, err := e.place(ctx, req, clientID)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(req.Symbol, string(connectors.KindOf(err))).Inc()
		e.publish(events.TypeOrderFailed, req, map[string]interface{}{
			"kind":  string(connectors.KindOf(err)),
			"error": err.Error(),
		})
		return nil, fmt.Errorf("place %s %s %s: %w", req.Side, req.Quantity.String(), req.Symbol, err)
	}

	status = e.awaitFill(ctx, req.Symbol, status)

	fill, err := e.persist(ctx, req, status)
	if err != nil {
		return nil, err
	}

	// Recorded only now, so a placement that never reached the venue does not
	// shadow its own retry.
	if err := e.dedup.Set(ctx, cacheKey, status.ExchangeOrderID, e.cfg.DedupTTL()); err != nil {
		logger.WithError(err).Warn("Failed to record idempotency key")
	}

	metrics.OrdersPlaced.WithLabelValues(req.Symbol, req.Side).Inc()
	metrics.OrderPlacementLatency.WithLabelValues(req.Symbol).Observe(e.now().Sub(started).Seconds())

	eventType := events.TypeOrderPlaced
	if fill.Status == model.FillStatusFilled {
		eventType = events.TypeOrderFilled
	}
	e.publish(eventType, req, map[string]interface{}{
		"fill_id":           fill.ID,
		"exchange_order_id": fill.ExchangeOrderID,
		"status":            fill.Status,
		"executed_qty":      fill.ExecutedQuantity.String(),
		"remaining_qty":     fill.RemainingQuantity().String(),
	})

	return fill, nil
}

// place submits the order, retrying transient failures with a short backoff.
// A duplicate-client-order-id rejection means an earlier attempt reached the
// venue: the existing order is fetched instead of failing.
func (e *Executor) place(ctx context.Context, req ExecuteRequest, clientID string) (*connectors.OrderStatus, error) {
	order := connectors.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		PositionSide:  req.PositionSide,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		Price:         req.Price,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: clientID,
	}

	attempts := e.cfg.PlaceRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, time.Duration(attempt-1)*500*time.Millisecond); err != nil {
				return nil, err
			}
		}

		status, err := e.conn.PlaceOrder(ctx, order)
		if err == nil {
			return status, nil
		}

		if connectors.KindOf(err) == connectors.KindDuplicateClientOrder {
			logger.WithFields(map[string]interface{}{
				"component":       "Executor",
				"symbol":          req.Symbol,
				"client_order_id": clientID,
			}).Info("Venue already holds this client order id, fetching existing order")

			return e.conn.GetOrder(ctx, req.Symbol, "", clientID)
		}

		if !connectors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		logger.WithFields(map[string]interface{}{
			"component": "Executor",
			"symbol":    req.Symbol,
			"attempt":   attempt,
		}).WithError(err).Warn("Transient placement failure, retrying")
	}

	return nil, lastErr
}

// awaitFill polls the order until it fills, goes terminal or the bounded
// attempts run out. The best-known status is returned either way.
func (e *Executor) awaitFill(ctx context.Context, symbol string, status *connectors.OrderStatus) *connectors.OrderStatus {
	delay := e.cfg.PollBaseDelay()

	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		if status.Status == model.FillStatusFilled || model.IsTerminal(status.Status) {
			return status
		}

		if err := sleepContext(ctx, delay); err != nil {
			return status
		}
		delay *= 2

		fresh, err := e.conn.GetOrder(ctx, symbol, status.ExchangeOrderID, status.ClientOrderID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component":         "Executor",
				"symbol":            symbol,
				"exchange_order_id": status.ExchangeOrderID,
			}).WithError(err).Warn("Order status poll failed")
			continue
		}
		status = fresh
	}

	return status
}

// persist upserts the exchange view into the fills table, keyed by exchange
// order id.
func (e *Executor) persist(ctx context.Context, req ExecuteRequest, status *connectors.OrderStatus) (*model.Fill, error) {
	existing, err := e.fills.FindByExchangeOrderID(ctx, req.AccountID, req.Symbol, status.ExchangeOrderID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if mapper.ApplyOrderStatus(existing, status) {
			if err := e.fills.Update(ctx, existing, model.FillEventStatusChange, "exchange status refreshed"); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	fill := mapper.MapOrderStatusToFill(status, req.AccountID, req.StrategyID, req.Direction, req.Leverage, req.MarginMode, req.ExitReason)
	if fill == nil {
		return nil, fmt.Errorf("persist: no order status to map for %s", req.Symbol)
	}
	fill.SignalID = req.SignalID

	if err := e.fills.Create(ctx, fill); err != nil {
		return nil, err
	}

	return fill, nil
}

// recoverExisting resolves a dedup hit to a fill row, refreshing the order's
// state from the venue first since it may have filled meanwhile.
func (e *Executor) recoverExisting(ctx context.Context, req ExecuteRequest, exchangeOrderID, clientID string) (*model.Fill, error) {
	status, err := e.conn.GetOrder(ctx, req.Symbol, exchangeOrderID, clientID)
	if err != nil {
		fill, ferr := e.fills.FindByExchangeOrderID(ctx, req.AccountID, req.Symbol, exchangeOrderID)
		if ferr == nil && fill != nil {
			return fill, nil
		}
		return nil, fmt.Errorf("recover deduplicated order %s: %w", exchangeOrderID, err)
	}

	return e.persist(ctx, req, status)
}

func (e *Executor) publish(eventType events.Type, req ExecuteRequest, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&events.Event{
		Type:       eventType,
		AccountID:  req.AccountID,
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		Data:       data,
	})
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
