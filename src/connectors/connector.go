package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is one order to place. ClientOrderID carries the executor's
// idempotency key so the venue itself rejects exact duplicates.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY | SELL
	PositionSide  string // LONG | SHORT
	OrderType     string // MARKET | LIMIT
	Quantity      decimal.Decimal
	Price         decimal.NullDecimal // required for LIMIT
	ReduceOnly    bool
	ClientOrderID string
}

// OrderStatus is the venue's view of one order, normalized.
type OrderStatus struct {
	ExchangeOrderID  string
	ClientOrderID    string
	Symbol           string
	Side             string
	PositionSide     string
	Status           string // NEW | PARTIALLY_FILLED | FILLED | CANCELED | REJECTED | EXPIRED
	Price            decimal.NullDecimal
	AvgPrice         decimal.Decimal
	OrigQuantity     decimal.Decimal
	ExecutedQuantity decimal.Decimal
	Fee              decimal.Decimal
	FeeAsset         string
	ReduceOnly       bool
	PlacedAt         time.Time
	UpdatedAt        time.Time
}

// PositionInfo is one open position on one position side.
type PositionInfo struct {
	Symbol        string
	PositionSide  string
	Quantity      decimal.Decimal // absolute size; zero means flat
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
	MarginMode    string
}

// Notional is the position's current notional value, from the mark price when
// the venue sent one and the entry price otherwise.
func (p *PositionInfo) Notional() decimal.Decimal {
	price := p.MarkPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return p.Quantity.Mul(price).Abs()
}

// FundingEntry is one funding payment, signed from the position's point of
// view (negative: the position paid).
type FundingEntry struct {
	Symbol string
	Amount decimal.Decimal
	Asset  string
	At     time.Time
}

// Connector is the single venue surface the engine consumes. All calls are
// synchronous remote calls; failures arrive as *APIError with the kind
// already decided.
type Connector interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error)
	GetOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOpenPosition(ctx context.Context, symbol, positionSide string) (*PositionInfo, error)
	ListOpenPositions(ctx context.Context) ([]PositionInfo, error)
	GetFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]FundingEntry, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetLeverage(ctx context.Context, symbol string) (int, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
