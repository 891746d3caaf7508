// REST CLIENT FOR BINANCE SPOT
// RESTY + HMAC-SHA256 SIGNED QUERIES
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"marketmaker/src/position"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultBinanceBaseURL = "https://api.binance.com"
	defaultRecvWindow     = 5000

	binanceRetryAttempts   = 3
	binanceRetryBaseDelay  = 200 * time.Millisecond
	binanceRetryMaxBackoff = 2 * time.Second

	binanceAPIKeyHeader = "X-MBX-APIKEY"
)

var ErrSymbolNotFound = errors.New("symbol not found in exchange info")

// BinanceClient is the signed REST gateway to the Binance spot API.
type BinanceClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	http       *resty.Client
	now        func() time.Time
	log        *logger.Entry
}

// isRetryableResp retries transport failures, 5xx, 429 and 408, but never
// an order placement: a second POST would be a second order.
func isRetryableResp(r *resty.Response, err error) bool {
	if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
		return false
	}
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	return code >= 500 && code <= 599 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func NewBinanceClient(apiKey, apiSecret, baseURL string) *BinanceClient {
	if baseURL == "" {
		baseURL = defaultBinanceBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(binanceRetryAttempts - 1).
		SetRetryWaitTime(binanceRetryBaseDelay).
		SetRetryMaxWaitTime(binanceRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BinanceClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		recvWindow: defaultRecvWindow,
		http:       httpClient,
		now:        time.Now,
		log:        logger.WithField("component", "binance"),
	}
}

// NewBinanceClientFromConfig applies timeouts and the recv window from cfg.
func NewBinanceClientFromConfig(cfg Config, apiSecret string) *BinanceClient {
	c := NewBinanceClient(cfg.BinanceAPIKey, apiSecret, cfg.BinanceBaseURL)
	if cfg.RecvWindow > 0 {
		c.recvWindow = cfg.RecvWindow
	}
	if cfg.HTTPTimeout > 0 {
		c.http.SetTimeout(cfg.HTTPTimeout)
	}
	return c
}

func signQuery(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type authMode int

const (
	authNone   authMode = iota
	authAPIKey          // key header only
	authSigned          // key header plus timestamp and signature
)

func (c *BinanceClient) doRequest(ctx context.Context, method, path string, params url.Values, auth authMode, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if auth == authSigned {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}

	// The query is sent exactly as signed.
	query := params.Encode()
	if auth == authSigned {
		if query != "" {
			query += "&"
		}
		query += "signature=" + signQuery(params.Encode(), c.apiSecret)
	}
	target := path
	if query != "" {
		target += "?" + query
	}

	req := c.http.R().SetContext(ctx)
	if auth != authNone {
		req.SetHeader(binanceAPIKeyHeader, c.apiKey)
	}

	c.log.WithFields(logger.Fields{
		"method": method,
		"path":   path,
	}).Debug("Binance HTTP request")

	resp, err := req.Execute(method, target)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode()}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == 0 {
			apiErr.Msg = strings.TrimSpace(string(raw))
		}
		c.log.WithFields(logger.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode(),
			"code":   apiErr.Code,
		}).Warn("Binance API error")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// -----------------------------
// TRADING METHODS
// -----------------------------

// SubmitOrder places a new order and returns its acknowledgement.
func (c *BinanceClient) SubmitOrder(ctx context.Context, req position.OrderRequest) (position.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", req.Type)
	if req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}
	params.Set("quantity", req.Qty.String())
	if !req.Price.IsZero() {
		params.Set("price", req.Price.String())
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("newOrderRespType", "RESULT")

	var resp binanceOrderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, authSigned, &resp); err != nil {
		return position.OrderAck{}, err
	}
	return resp.ack(), nil
}

// CancelOrder cancels an open order by exchange id.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) (position.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp binanceOrderResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v3/order", params, authSigned, &resp); err != nil {
		return position.OrderAck{}, err
	}
	return resp.ack(), nil
}

// QueryOrder returns the current status and executed quantity of an order.
func (c *BinanceClient) QueryOrder(ctx context.Context, symbol, orderID string) (position.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp binanceOrderResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/order", params, authSigned, &resp); err != nil {
		return position.OrderAck{}, err
	}
	return resp.ack(), nil
}

func (r binanceOrderResponse) ack() position.OrderAck {
	return position.OrderAck{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Status:        position.OrderStatus(r.Status),
		ExecutedQty:   r.ExecutedQty,
		QuoteQty:      r.CummulativeQuoteQty,
	}
}

// -----------------------------
// ACCOUNT METHODS
// -----------------------------

// GetBalances returns the free balance of every asset on the account.
func (c *BinanceClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var account binanceAccount
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{"omitZeroBalances": {"true"}}, authSigned, &account); err != nil {
		return nil, err
	}
	free := make(map[string]decimal.Decimal, len(account.Balances))
	for _, b := range account.Balances {
		free[b.Asset] = b.Free
	}
	return free, nil
}

// GetFreeBalance returns the free balance of asset, zero when the account holds none.
func (c *BinanceClient) GetFreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return balances[asset], nil
}

// -----------------------------
// MARKET METADATA
// -----------------------------

// GetSymbolFilters loads tick size, lot step and minimums for symbol.
func (c *BinanceClient) GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info binanceExchangeInfo
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", url.Values{"symbol": {symbol}}, authNone, &info); err != nil {
		return SymbolFilters{}, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := SymbolFilters{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				filters.TickSize = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				filters.StepSize = parseDecimal(f.StepSize)
				filters.MinQty = parseDecimal(f.MinQty)
			case "MIN_NOTIONAL", "NOTIONAL":
				filters.MinNotional = parseDecimal(f.MinNotional)
			}
		}
		return filters, nil
	}
	return SymbolFilters{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// -----------------------------
// USER DATA STREAM
// -----------------------------

func (c *BinanceClient) CreateListenKey(ctx context.Context) (string, error) {
	var resp binanceListenKey
	if err := c.doRequest(ctx, http.MethodPost, "/api/v3/userDataStream", nil, authAPIKey, &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", errors.New("empty listen key in response")
	}
	return resp.ListenKey, nil
}

func (c *BinanceClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return c.doRequest(ctx, http.MethodPut, "/api/v3/userDataStream", url.Values{"listenKey": {listenKey}}, authAPIKey, nil)
}

func (c *BinanceClient) CloseListenKey(ctx context.Context, listenKey string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/v3/userDataStream", url.Values{"listenKey": {listenKey}}, authAPIKey, nil)
}
