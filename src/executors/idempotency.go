package executors

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/src/utils"
)

// clientOrderIDPrefix marks orders placed by this engine. Binance caps client
// order ids at 36 characters; the prefix plus 28 hex stays inside that.
const clientOrderIDPrefix = "te-"

const clientOrderIDHexLen = 28

// IdempotencyKey derives a stable key for one logical order. The same symbol,
// side, quantity, reduce-only flag and price within the same second hash to
// the same key, so a retried decision collapses into one exchange order.
func IdempotencyKey(
	symbol string,
	side string,
	quantity decimal.Decimal,
	reduceOnly bool,
	price decimal.NullDecimal,
	at time.Time,
	precision int32,
) string {

	priceStr := "-"
	if price.Valid {
		priceStr = price.Decimal.String()
	}

	return utils.DeterministicID(
		symbol,
		side,
		quantity.StringFixed(precision),
		strconv.FormatBool(reduceOnly),
		priceStr,
		strconv.FormatInt(at.Unix(), 10),
	)
}

// ClientOrderID converts an idempotency key into the id sent as the venue's
// newClientOrderId, so the exchange itself rejects exact duplicates even when
// the local cache was lost.
func ClientOrderID(key string) string {
	if len(key) > clientOrderIDHexLen {
		key = key[:clientOrderIDHexLen]
	}
	return clientOrderIDPrefix + key
}
