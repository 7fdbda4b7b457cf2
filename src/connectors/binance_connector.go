package connectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	binanceBaseURL        = "https://fapi.binance.com"
	binanceTestnetBaseURL = "https://testnet.binancefuture.com"
)

// BinanceConnector implements Connector against Binance USDT-margined
// futures. Every REST call goes through a shared token-bucket limiter so a
// burst of strategy loops cannot trip the venue's request weight.
type BinanceConnector struct {
	client  *futures.Client
	limiter *rate.Limiter
}

func NewBinanceConnector(apiKey, apiSecret string, testnet bool) *BinanceConnector {
	config := GetConfig()

	client := futures.NewClient(apiKey, apiSecret)
	if testnet {
		client.BaseURL = binanceTestnetBaseURL
	} else {
		client.BaseURL = binanceBaseURL
	}

	logger.WithFields(map[string]interface{}{
		"baseURL":    client.BaseURL,
		"ratePerSec": config.BinanceRatePerSec,
	}).Info("[connectors] binance futures client ready")

	return &BinanceConnector{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.BinanceRatePerSec), config.BinanceRateBurst),
	}
}

func (c *BinanceConnector) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Kind: KindTimeout, Msg: "rate limiter wait: " + err.Error(), Err: err}
	}
	return nil
}

// PlaceOrder submits the order and, when it fills synchronously, enriches
// the response with the commission from the trade history.
func (c *BinanceConnector) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	service := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		PositionSide(futures.PositionSideType(req.PositionSide)).
		Type(futures.OrderType(req.OrderType)).
		Quantity(req.Quantity.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	if req.ClientOrderID != "" {
		service = service.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		service = service.ReduceOnly(true)
	}
	if req.OrderType == "LIMIT" {
		if !req.Price.Valid {
			return nil, &APIError{Kind: KindInvalidRequest, Msg: "limit order without price"}
		}
		service = service.Price(req.Price.Decimal.String()).TimeInForce(futures.TimeInForceTypeGTC)
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	status := &OrderStatus{
		ExchangeOrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:    resp.ClientOrderID,
		Symbol:           resp.Symbol,
		Side:             string(resp.Side),
		PositionSide:     string(resp.PositionSide),
		Status:           string(resp.Status),
		Price:            parseNullDecimal(resp.Price),
		AvgPrice:         parseDecimal(resp.AvgPrice),
		OrigQuantity:     parseDecimal(resp.OrigQuantity),
		ExecutedQuantity: parseDecimal(resp.ExecutedQuantity),
		ReduceOnly:       resp.ReduceOnly,
		PlacedAt:         time.UnixMilli(resp.UpdateTime),
		UpdatedAt:        time.UnixMilli(resp.UpdateTime),
	}

	if status.Status == "FILLED" {
		c.enrichFee(ctx, status)
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   status.Symbol,
		"side":     status.Side,
		"posSide":  status.PositionSide,
		"orderID":  status.ExchangeOrderID,
		"status":   status.Status,
		"avgPrice": status.AvgPrice,
	}).Info("[connectors] order placed")

	return status, nil
}

func (c *BinanceConnector) GetOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (*OrderStatus, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	service := c.client.NewGetOrderService().Symbol(symbol)
	if exchangeOrderID != "" {
		orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
		if err != nil {
			return nil, &APIError{Kind: KindInvalidRequest, Msg: fmt.Sprintf("bad exchange order id %q", exchangeOrderID), Err: err}
		}
		service = service.OrderID(orderID)
	} else if clientOrderID != "" {
		service = service.OrigClientOrderID(clientOrderID)
	} else {
		return nil, &APIError{Kind: KindInvalidRequest, Msg: "order lookup needs an exchange or client order id"}
	}

	order, err := service.Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	status := &OrderStatus{
		ExchangeOrderID:  strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:    order.ClientOrderID,
		Symbol:           order.Symbol,
		Side:             string(order.Side),
		PositionSide:     string(order.PositionSide),
		Status:           string(order.Status),
		Price:            parseNullDecimal(order.Price),
		AvgPrice:         parseDecimal(order.AvgPrice),
		OrigQuantity:     parseDecimal(order.OrigQuantity),
		ExecutedQuantity: parseDecimal(order.ExecutedQuantity),
		ReduceOnly:       order.ReduceOnly,
		PlacedAt:         time.UnixMilli(order.Time),
		UpdatedAt:        time.UnixMilli(order.UpdateTime),
	}

	if status.ExecutedQuantity.IsPositive() {
		c.enrichFee(ctx, status)
	}

	logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"orderID": status.ExchangeOrderID,
		"status":  status.Status,
	}).Debug("[connectors] order fetched")

	return status, nil
}

func (c *BinanceConnector) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return &APIError{Kind: KindInvalidRequest, Msg: fmt.Sprintf("bad exchange order id %q", exchangeOrderID), Err: err}
	}

	if _, err := c.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return classifyError(err)
	}

	logger.WithFields(map[string]interface{}{"symbol": symbol, "orderID": exchangeOrderID}).Info("[connectors] order canceled")
	return nil
}

// GetOpenPosition returns the open position for symbol on positionSide, or
// (nil, nil) when flat.
func (c *BinanceConnector) GetOpenPosition(ctx context.Context, symbol, positionSide string) (*PositionInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	positions, err := c.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	for _, pos := range positions {
		if pos.PositionSide != positionSide {
			continue
		}
		amount := parseDecimal(pos.PositionAmt)
		if amount.IsZero() {
			continue
		}
		info := mapPositionRisk(pos)
		return &info, nil
	}
	return nil, nil
}

// ListOpenPositions returns every non-flat position on the account, across
// all symbols. The risk manager sums their notionals into the account's open
// exposure.
func (c *BinanceConnector) ListOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	positions, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	open := make([]PositionInfo, 0, len(positions))
	for _, pos := range positions {
		if parseDecimal(pos.PositionAmt).IsZero() {
			continue
		}
		open = append(open, mapPositionRisk(pos))
	}

	logger.WithField("positions", len(open)).Debug("[connectors] open positions listed")
	return open, nil
}

func mapPositionRisk(pos *futures.PositionRisk) PositionInfo {
	leverage, _ := strconv.Atoi(pos.Leverage)
	return PositionInfo{
		Symbol:        pos.Symbol,
		PositionSide:  pos.PositionSide,
		Quantity:      parseDecimal(pos.PositionAmt).Abs(),
		EntryPrice:    parseDecimal(pos.EntryPrice),
		MarkPrice:     parseDecimal(pos.MarkPrice),
		UnrealizedPnL: parseDecimal(pos.UnRealizedProfit),
		Leverage:      leverage,
		MarginMode:    pos.MarginType,
	}
}

// GetFundingFees returns the signed funding payments for symbol between
// start and end inclusive.
func (c *BinanceConnector) GetFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]FundingEntry, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	incomes, err := c.client.NewGetIncomeHistoryService().
		Symbol(symbol).
		IncomeType("FUNDING_FEE").
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	entries := make([]FundingEntry, 0, len(incomes))
	for _, income := range incomes {
		entries = append(entries, FundingEntry{
			Symbol: income.Symbol,
			Amount: parseDecimal(income.Income),
			Asset:  income.Asset,
			At:     time.UnixMilli(income.Time),
		})
	}

	logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"entries": len(entries),
		"start":   start,
		"end":     end,
	}).Debug("[connectors] funding fees fetched")

	return entries, nil
}

func (c *BinanceConnector) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, classifyError(err)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			return parseDecimal(bal.WalletBalance), nil
		}
	}
	return decimal.Zero, nil
}

func (c *BinanceConnector) GetLeverage(ctx context.Context, symbol string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	positions, err := c.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classifyError(err)
	}
	if len(positions) == 0 {
		return 0, &APIError{Kind: KindPositionNotFound, Msg: "no position risk info for " + symbol}
	}

	leverage, err := strconv.Atoi(positions[0].Leverage)
	if err != nil {
		return 0, &APIError{Kind: KindUnknown, Msg: "bad leverage value " + positions[0].Leverage, Err: err}
	}
	return leverage, nil
}

func (c *BinanceConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return classifyError(err)
	}

	logger.WithFields(map[string]interface{}{"symbol": symbol, "leverage": leverage}).Info("[connectors] leverage updated")
	return nil
}

// enrichFee sums the commissions of the account trades behind the order.
// Fee lookup failures only log: the fill is still valid without its fee and
// the poll path retries the lookup.
func (c *BinanceConnector) enrichFee(ctx context.Context, status *OrderStatus) {
	if err := c.wait(ctx); err != nil {
		return
	}

	orderID, err := strconv.ParseInt(status.ExchangeOrderID, 10, 64)
	if err != nil {
		return
	}

	start := status.PlacedAt.Add(-time.Minute)
	trades, err := c.client.NewListAccountTradeService().
		Symbol(status.Symbol).
		StartTime(start.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		logger.WithError(classifyError(err)).WithFields(map[string]interface{}{
			"symbol":  status.Symbol,
			"orderID": status.ExchangeOrderID,
		}).Warn("[connectors] commission lookup failed")
		return
	}

	fee := decimal.Zero
	feeAsset := ""
	for _, trade := range trades {
		if trade.OrderID != orderID {
			continue
		}
		fee = fee.Add(parseDecimal(trade.Commission))
		feeAsset = trade.CommissionAsset
	}
	status.Fee = fee
	status.FeeAsset = feeAsset
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		logger.WithField("value", value).Warn("[connectors] unparseable decimal from exchange")
		return decimal.Zero
	}
	return parsed
}

func parseNullDecimal(value string) decimal.NullDecimal {
	if value == "" || value == "0" {
		return decimal.NullDecimal{}
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil || parsed.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: parsed, Valid: true}
}
