package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"marketmaker/src/position"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1499827319559)

func newTestBinanceClient(baseURL string) *BinanceClient {
	c := NewBinanceClient("test-key", "test-secret", baseURL)
	c.now = func() time.Time { return fixedNow }
	return c
}

// verifySignature checks that the raw query ends with a signature over everything before it.
func verifySignature(t *testing.T, r *http.Request, secret string) url.Values {
	t.Helper()
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	require.True(t, idx > 0, "signature missing from %q", raw)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw[:idx]))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), raw[idx+len("&signature="):])

	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return values
}

func TestSignQuery(t *testing.T) {
	// Reference vector from the Binance API documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signQuery(query, secret))
}

func TestIsRetryableResp(t *testing.T) {
	post := &resty.Response{Request: &resty.Request{Method: http.MethodPost}, RawResponse: &http.Response{StatusCode: 503}}
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "transport error", err: errors.New("reset"), want: true},
		{name: "server error", resp: fakeResponse(http.MethodGet, 500), want: true},
		{name: "too many requests", resp: fakeResponse(http.MethodDelete, 429), want: true},
		{name: "timeout", resp: fakeResponse(http.MethodGet, 408), want: true},
		{name: "bad request", resp: fakeResponse(http.MethodGet, 400), want: false},
		{name: "ok", resp: fakeResponse(http.MethodGet, 200), want: false},
		{name: "order placement never retried", resp: post, want: false},
		{name: "order placement transport error", resp: post, err: errors.New("reset"), want: false},
		{name: "nil resp", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func fakeResponse(method string, status int) *resty.Response {
	return &resty.Response{Request: &resty.Request{Method: method}, RawResponse: &http.Response{StatusCode: status}}
}

func TestSubmitOrderSignsLimitOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		q := verifySignature(t, r, "test-secret")
		assert.Equal(t, "ETHBUSD", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.0123", q.Get("quantity"))
		assert.Equal(t, "1800.01", q.Get("price"))
		assert.Equal(t, "mm-abc", q.Get("newClientOrderId"))
		assert.Equal(t, "5000", q.Get("recvWindow"))
		assert.Equal(t, "1499827319559", q.Get("timestamp"))

		_, _ = w.Write([]byte(`{"symbol":"ETHBUSD","orderId":28,"clientOrderId":"mm-abc","price":"1800.01000000",
			"origQty":"0.01230000","executedQty":"0.00000000","cummulativeQuoteQty":"0.00000000",
			"status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`))
	}))
	defer server.Close()

	client := newTestBinanceClient(server.URL)
	ack, err := client.SubmitOrder(context.Background(), position.OrderRequest{
		Symbol:        "ETHBUSD",
		Side:          position.SideBuy,
		Type:          position.OrderTypeLimit,
		TimeInForce:   position.TimeInForceGTC,
		Qty:           decimal.RequireFromString("0.0123"),
		Price:         decimal.RequireFromString("1800.01"),
		ClientOrderID: "mm-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "28", ack.OrderID)
	assert.Equal(t, "mm-abc", ack.ClientOrderID)
	assert.Equal(t, position.OrderStatusNew, ack.Status)
	assert.True(t, ack.ExecutedQty.IsZero())
}

func TestSubmitOrderRejectionIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	}))
	defer server.Close()

	client := newTestBinanceClient(server.URL)
	_, err := client.SubmitOrder(context.Background(), position.OrderRequest{
		Symbol: "ETHBUSD", Side: position.SideSell, Type: position.OrderTypeLimit,
		Qty: decimal.RequireFromString("0.01"), Price: decimal.RequireFromString("1800.19"),
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, -2010, apiErr.Code)
	assert.True(t, IsInsufficientBalance(err))
	assert.False(t, IsUnknownOrder(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		q := verifySignature(t, r, "test-secret")
		assert.Equal(t, "ETHBUSD", q.Get("symbol"))
		assert.Equal(t, "28", q.Get("orderId"))
		_, _ = w.Write([]byte(`{"symbol":"ETHBUSD","orderId":28,"status":"CANCELED",
			"executedQty":"0.00400000","cummulativeQuoteQty":"7.20004000"}`))
	}))
	defer server.Close()

	ack, err := newTestBinanceClient(server.URL).CancelOrder(context.Background(), "ETHBUSD", "28")
	require.NoError(t, err)
	assert.Equal(t, position.OrderStatusCanceled, ack.Status)
	assert.True(t, ack.ExecutedQty.Equal(decimal.RequireFromString("0.004")))
	assert.True(t, ack.QuoteQty.Equal(decimal.RequireFromString("7.20004")))
}

func TestCancelOrderUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))
	defer server.Close()

	_, err := newTestBinanceClient(server.URL).CancelOrder(context.Background(), "ETHBUSD", "28")
	require.Error(t, err)
	assert.True(t, IsUnknownOrder(err))
	assert.True(t, Classifier{}.IsUnknownOrder(err))
}

func TestCancelOrderRetriesServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"orderId":28,"status":"CANCELED","executedQty":"0"}`))
	}))
	defer server.Close()

	ack, err := newTestBinanceClient(server.URL).CancelOrder(context.Background(), "ETHBUSD", "28")
	require.NoError(t, err)
	assert.Equal(t, "28", ack.OrderID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueryOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		q := verifySignature(t, r, "test-secret")
		assert.Equal(t, "ETHBUSD", q.Get("symbol"))
		assert.Equal(t, "28", q.Get("orderId"))
		_, _ = w.Write([]byte(`{"symbol":"ETHBUSD","orderId":28,"status":"FILLED",
			"executedQty":"0.01000000","cummulativeQuoteQty":"18.00010000"}`))
	}))
	defer server.Close()

	ack, err := newTestBinanceClient(server.URL).QueryOrder(context.Background(), "ETHBUSD", "28")
	require.NoError(t, err)
	assert.Equal(t, "28", ack.OrderID)
	assert.Equal(t, position.OrderStatusFilled, ack.Status)
	assert.True(t, ack.ExecutedQty.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, ack.QuoteQty.Equal(decimal.RequireFromString("18.0001")))
}

func TestQueryOrderUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	}))
	defer server.Close()

	_, err := newTestBinanceClient(server.URL).QueryOrder(context.Background(), "ETHBUSD", "28")
	require.Error(t, err)
	assert.True(t, IsUnknownOrder(err))
}

func TestGetFreeBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		verifySignature(t, r, "test-secret")
		_, _ = w.Write([]byte(`{"canTrade":true,"balances":[
			{"asset":"ETH","free":"0.01000000","locked":"0.00000000"},
			{"asset":"BUSD","free":"123.45000000","locked":"18.00010000"}]}`))
	}))
	defer server.Close()

	client := newTestBinanceClient(server.URL)
	free, err := client.GetFreeBalance(context.Background(), "BUSD")
	require.NoError(t, err)
	assert.True(t, free.Equal(decimal.RequireFromString("123.45")))

	free, err = client.GetFreeBalance(context.Background(), "BNB")
	require.NoError(t, err)
	assert.True(t, free.IsZero())
}

func TestGetSymbolFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		assert.NotContains(t, r.URL.RawQuery, "signature")
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"ETHBUSD","status":"TRADING","baseAsset":"ETH","quoteAsset":"BUSD",
			"filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01000000"},
				{"filterType":"LOT_SIZE","minQty":"0.00010000","maxQty":"9000","stepSize":"0.00010000"},
				{"filterType":"NOTIONAL","minNotional":"10.00000000","applyMinToMarket":true}
			]}]}`))
	}))
	defer server.Close()

	client := newTestBinanceClient(server.URL)
	filters, err := client.GetSymbolFilters(context.Background(), "ETHBUSD")
	require.NoError(t, err)
	assert.Equal(t, "ETH", filters.BaseAsset)
	assert.Equal(t, "BUSD", filters.QuoteAsset)
	assert.True(t, filters.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, filters.StepSize.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, filters.MinQty.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, filters.MinNotional.Equal(decimal.RequireFromString("10")))

	_, err = client.GetSymbolFilters(context.Background(), "BTCBUSD")
	require.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestListenKeyLifecycle(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/userDataStream", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotContains(t, r.URL.RawQuery, "signature")
		methods = append(methods, r.Method)
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`))
		default:
			assert.Equal(t, "pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1", r.URL.Query().Get("listenKey"))
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	client := newTestBinanceClient(server.URL)
	key, err := client.CreateListenKey(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.KeepAliveListenKey(context.Background(), key))
	require.NoError(t, client.CloseListenKey(context.Background(), key))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func TestNonJSONErrorBodyKeepsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html>WAF limit</html>"))
	}))
	defer server.Close()

	_, err := newTestBinanceClient(server.URL).CreateListenKey(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	assert.Equal(t, "<html>WAF limit</html>", apiErr.Msg)
}
