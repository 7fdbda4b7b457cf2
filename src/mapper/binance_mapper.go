package mapper

import (
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
)

// MapOrderStatusToFill converts a normalized exchange order status into a
// fill row owned by the given account/strategy pair. The exchange's view is
// authoritative for side, position side, quantities and status.
func MapOrderStatusToFill(
	status *connectors.OrderStatus,
	accountID uint,
	strategyID uint,
	direction string,
	leverage int,
	marginMode string,
	exitReason *string,
) *model.Fill {

	if status == nil {
		logger.WithField("mapper", "MapOrderStatusToFill").
			Error("Nil OrderStatus received")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"mapper":           "MapOrderStatusToFill",
		"exchange_orderID": status.ExchangeOrderID,
		"symbol":           status.Symbol,
		"side":             status.Side,
		"status":           status.Status,
	}).Debug("Mapping exchange order status to fill")

	fill := &model.Fill{
		AccountID:        accountID,
		StrategyID:       strategyID,
		Symbol:           status.Symbol,
		ExchangeOrderID:  status.ExchangeOrderID,
		ClientOrderID:    status.ClientOrderID,
		Side:             status.Side,
		PositionSide:     status.PositionSide,
		Direction:        direction,
		OrderType:        orderTypeFor(status),
		Price:            status.Price,
		AvgPrice:         status.AvgPrice,
		OrigQuantity:     status.OrigQuantity,
		ExecutedQuantity: status.ExecutedQuantity,
		Fee:              status.Fee,
		FeeAsset:         status.FeeAsset,
		Leverage:         leverage,
		MarginMode:       marginMode,
		ReduceOnly:       status.ReduceOnly,
		Status:           status.Status,
		ExitReason:       exitReason,
	}

	// FilledAt anchors FIFO ordering, so partial fills get stamped too.
	if model.IsFillable(status.Status) {
		filledAt := status.UpdatedAt
		if filledAt.IsZero() {
			filledAt = time.Now().UTC()
		}
		fill.FilledAt = &filledAt
	}

	return fill
}

// ApplyOrderStatus folds a fresh exchange view into an existing fill row.
// Rows already FILLED are immutable and returned unchanged.
func ApplyOrderStatus(fill *model.Fill, status *connectors.OrderStatus) bool {
	if fill == nil || status == nil {
		return false
	}
	if fill.Status == model.FillStatusFilled {
		return false
	}

	changed := false
	if fill.Status != status.Status {
		fill.Status = status.Status
		changed = true
	}
	if !fill.ExecutedQuantity.Equal(status.ExecutedQuantity) {
		fill.ExecutedQuantity = status.ExecutedQuantity
		changed = true
	}
	if !fill.AvgPrice.Equal(status.AvgPrice) && status.AvgPrice.IsPositive() {
		fill.AvgPrice = status.AvgPrice
		changed = true
	}
	if status.Fee.IsPositive() && !fill.Fee.Equal(status.Fee) {
		fill.Fee = status.Fee
		fill.FeeAsset = status.FeeAsset
		changed = true
	}
	if model.IsFillable(status.Status) && fill.FilledAt == nil {
		filledAt := status.UpdatedAt
		if filledAt.IsZero() {
			filledAt = time.Now().UTC()
		}
		fill.FilledAt = &filledAt
		changed = true
	}
	return changed
}

func orderTypeFor(status *connectors.OrderStatus) string {
	if status.Price.Valid {
		return "LIMIT"
	}
	return "MARKET"
}
