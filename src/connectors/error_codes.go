package connectors

import "fmt"

// BinanceErrorCodes maps Binance futures API error codes to their documented
// names.
var BinanceErrorCodes = map[int64]string{
	-1000: "UNKNOWN",                              // Unknown error while processing the request
	-1001: "DISCONNECTED",                         // Internal error, unable to process
	-1002: "UNAUTHORIZED",                         // Not authorized to execute the request
	-1003: "TOO_MANY_REQUESTS",                    // Request weight / order rate exceeded
	-1015: "TOO_MANY_ORDERS",                      // Too many new orders
	-1021: "INVALID_TIMESTAMP",                    // Timestamp outside recvWindow
	-1022: "INVALID_SIGNATURE",                    // Request signature not valid
	-1102: "MANDATORY_PARAM_EMPTY_OR_MALFORMED",   // Required parameter missing or malformed
	-1111: "BAD_PRECISION",                        // Precision over the maximum for this asset
	-1121: "BAD_SYMBOL",                           // Invalid symbol
	-2010: "NEW_ORDER_REJECTED",                   // New order rejected
	-2011: "CANCEL_REJECTED",                      // Cancel rejected
	-2013: "NO_SUCH_ORDER",                        // Order does not exist
	-2014: "BAD_API_KEY_FMT",                      // API-key format invalid
	-2015: "REJECTED_MBX_KEY",                     // Invalid API-key, IP, or permissions
	-2018: "BALANCE_NOT_SUFFICIENT",               // Balance insufficient
	-2019: "MARGIN_NOT_SUFFICIENT",                // Margin insufficient
	-2021: "ORDER_WOULD_IMMEDIATELY_TRIGGER",      // Stop order would trigger immediately
	-2022: "REDUCE_ONLY_REJECT",                   // ReduceOnly order rejected
	-3005: "INSUFFICIENT_BALANCE",                 // Insufficient balance
	-3041: "BALANCE_NOT_ENOUGH",                   // Balance not enough for position
	-4003: "QUANTITY_NOT_IN_RANGE",                // Quantity outside permissible range
	-4014: "PRICE_NOT_IN_RANGE",                   // Price outside permissible range
	-4015: "INVALID_LEVERAGE",                     // Leverage not valid
	-4028: "INVALID_LEVERAGE_BRACKET",             // Leverage outside bracket for symbol
	-4044: "POSITION_NOT_FOUND",                   // No position found
	-4047: "MAX_POSITION_EXCEEDED",                // Exceeds max position at current leverage
	-4061: "POSITION_SIDE_NOT_MATCH",              // Order position side does not match position mode
	-4116: "DUPLICATED_CLIENT_ORDER_ID",           // Client order id already in use
}

// GetErrorMsg returns the documented name for a Binance error code. Unknown
// codes return a generic message including the code.
func GetErrorMsg(code int64) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}

// errorKindForCode decides the ErrorKind for a Binance numeric code. Every
// classification the rest of the engine relies on happens here.
func errorKindForCode(code int64) ErrorKind {
	switch code {
	case -1003, -1015:
		return KindRateLimited
	case -1001:
		return KindNetwork
	case -1002, -1022, -2014, -2015:
		return KindAuth
	case -1021:
		return KindTimeout
	case -2018, -2019, -3005, -3041, -4047:
		return KindInsufficientMargin
	case -2022:
		return KindReduceOnlyRejected
	case -2010, -2011, -2021:
		return KindOrderRejected
	case -2013:
		return KindOrderNotFound
	case -4044:
		return KindPositionNotFound
	case -4116:
		return KindDuplicateClientOrder
	case -4015, -4028:
		return KindInvalidLeverage
	case -1102, -1111, -1121, -4003, -4014, -4061:
		return KindInvalidRequest
	}
	return KindUnknown
}
