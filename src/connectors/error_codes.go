package connectors

import (
	"errors"
	"fmt"
	"strings"
)

// BinanceErrorCodes maps Binance spot API error codes to their names.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                   // Unknown error while processing the request
	-1001: "DISCONNECTED",              // Internal error; unable to process your request
	-1003: "TOO_MANY_REQUESTS",         // Request weight or order rate limit exceeded
	-1006: "UNEXPECTED_RESP",           // Unexpected response from the message bus
	-1007: "TIMEOUT",                   // Timeout waiting for backend server response
	-1013: "INVALID_MESSAGE",           // Filter failure (LOT_SIZE, PRICE_FILTER, NOTIONAL)
	-1014: "UNKNOWN_ORDER_COMPOSITION", // Unsupported order combination
	-1015: "TOO_MANY_ORDERS",           // Too many new orders
	-1021: "INVALID_TIMESTAMP",         // Timestamp outside of the recvWindow
	-1022: "INVALID_SIGNATURE",         // Signature for this request is not valid
	-1100: "ILLEGAL_CHARS",             // Illegal characters found in a parameter
	-1102: "MANDATORY_PARAM_EMPTY",     // Mandatory parameter missing or malformed
	-1111: "BAD_PRECISION",             // Precision is over the maximum defined for this asset
	-1121: "BAD_SYMBOL",                // Invalid symbol
	-1125: "INVALID_LISTEN_KEY",        // This listenKey does not exist
	-1130: "INVALID_PARAMETER",         // Invalid data sent for a parameter
	-1131: "BAD_RECV_WINDOW",           // recvWindow must be less than 60000
	-2010: "NEW_ORDER_REJECTED",        // Order rejected, e.g. insufficient balance
	-2011: "CANCEL_REJECTED",           // Cancel rejected, e.g. unknown order
	-2013: "NO_SUCH_ORDER",             // Order does not exist
	-2014: "BAD_API_KEY_FMT",           // API-key format invalid
	-2015: "REJECTED_MBX_KEY",          // Invalid API-key, IP, or permissions for action
	-2016: "NO_TRADING_WINDOW",         // No trading window could be found for the symbol
	-2026: "ORDER_ARCHIVED",            // Order was canceled or expired and archived
}

// GetErrorMsg returns the name of a Binance error code.
func GetErrorMsg(code int) string {
	if msg, ok := BinanceErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BINANCE_ERROR_%d", code)
}

// APIError is an error payload returned by the Binance REST API.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %s (code=%d, http=%d): %s", GetErrorMsg(e.Code), e.Code, e.HTTPStatus, e.Msg)
}

// IsInsufficientBalance reports a new-order rejection caused by the account balance.
func IsInsufficientBalance(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "insufficient balance")
}

// IsUnknownOrder reports a cancel or query for an order the venue no longer knows.
func IsUnknownOrder(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == -2011 || apiErr.Code == -2013
}

// IsInvalidListenKey reports an expired or unknown user data stream key.
func IsInvalidListenKey(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == -1125
}

// Classifier exposes the Binance error predicates to the position machine.
type Classifier struct{}

func (Classifier) IsInsufficientBalance(err error) bool { return IsInsufficientBalance(err) }
func (Classifier) IsUnknownOrder(err error) bool        { return IsUnknownOrder(err) }
