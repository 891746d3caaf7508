package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const (
	streamMinBackoff = time.Second
	streamMaxBackoff = 60 * time.Second
)

// Stream is a reconnecting websocket reader. Every received text frame is
// handed to the handler in arrival order.
type Stream struct {
	name         string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	readTimeout  time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	log          *logger.Entry
}

type StreamOption func(*Stream)

func WithPingInterval(d time.Duration) StreamOption {
	return func(s *Stream) { s.pingInterval = d }
}

func WithReadTimeout(d time.Duration) StreamOption {
	return func(s *Stream) { s.readTimeout = d }
}

func WithBackoff(min, max time.Duration) StreamOption {
	return func(s *Stream) {
		s.minBackoff = min
		s.maxBackoff = max
	}
}

func NewStream(name string, opts ...StreamOption) *Stream {
	s := &Stream{
		name: name,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
			Proxy:             http.ProxyFromEnvironment,
		},
		pingInterval: 5 * time.Minute,
		readTimeout:  10 * time.Minute,
		minBackoff:   streamMinBackoff,
		maxBackoff:   streamMaxBackoff,
		log:          logger.WithField("stream", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dials the URL returned by resolve, reads until the connection drops
// and reconnects with exponential backoff. It returns only when ctx is done.
func (s *Stream) Run(ctx context.Context, resolve func(ctx context.Context) (string, error), handle func(msg []byte)) error {
	backoff := s.minBackoff
	for {
		delivered, err := s.session(ctx, resolve, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = s.minBackoff
		}
		s.log.WithError(err).WithField("retry_in", backoff).Warn("stream disconnected, reconnecting")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// session runs one connection. delivered reports whether any frame was read.
func (s *Stream) session(ctx context.Context, resolve func(ctx context.Context) (string, error), handle func(msg []byte)) (delivered bool, err error) {
	target, err := resolve(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve stream url: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("ws dial failed: %w", err)
	}
	s.log.Info("stream connected")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(ctx, conn, done)
	}()
	defer func() {
		close(done)
		_ = conn.Close()
		wg.Wait()
	}()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.readTimeout)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("ws read failed: %w", err)
		}
		extend()
		if msgType != websocket.TextMessage {
			continue
		}
		delivered = true
		handle(msg)
	}
}

// keepAlive pings the server and closes the connection when ctx ends so the
// blocked reader returns.
func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.log.WithError(err).Debug("ws ping failed")
			}
		}
	}
}

// -----------------------------
// BOOK TICKER FEED
// -----------------------------

// BookTickerFeed streams best bid/ask updates for one symbol.
type BookTickerFeed struct {
	url    string
	symbol string
	stream *Stream
	now    func() time.Time
}

func NewBookTickerFeed(streamURL, symbol string, opts ...StreamOption) *BookTickerFeed {
	return &BookTickerFeed{
		url:    fmt.Sprintf("%s/ws/%s@bookTicker", strings.TrimRight(streamURL, "/"), strings.ToLower(symbol)),
		symbol: strings.ToUpper(symbol),
		stream: NewStream("bookTicker", opts...),
		now:    time.Now,
	}
}

// Run delivers ticks into out in feed order and closes out on return.
func (f *BookTickerFeed) Run(ctx context.Context, out chan<- BookTicker) error {
	defer close(out)
	resolve := func(context.Context) (string, error) { return f.url, nil }
	return f.stream.Run(ctx, resolve, func(msg []byte) {
		tick, err := ParseBookTicker(msg)
		if err != nil {
			f.stream.log.WithError(err).WithField("payload", string(msg)).Warn("malformed book ticker dropped")
			return
		}
		if tick.Symbol != "" && tick.Symbol != f.symbol {
			return
		}
		tick.ReceivedAt = f.now()
		select {
		case out <- tick:
		case <-ctx.Done():
		}
	})
}

var errIncompleteTicker = errors.New("book ticker without bid or ask")

func ParseBookTicker(msg []byte) (BookTicker, error) {
	var tick BookTicker
	if err := json.Unmarshal(msg, &tick); err != nil {
		return BookTicker{}, err
	}
	if tick.BidPrice.IsZero() || tick.AskPrice.IsZero() {
		return BookTicker{}, errIncompleteTicker
	}
	return tick, nil
}

// -----------------------------
// USER DATA FEED
// -----------------------------

// ListenKeyService manages the user data stream key.
type ListenKeyService interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// UserDataFeed streams execution reports of the account.
type UserDataFeed struct {
	streamURL string
	keys      ListenKeyService
	keepAlive time.Duration
	stream    *Stream

	mu        sync.Mutex
	listenKey string
}

func NewUserDataFeed(streamURL string, keys ListenKeyService, keepAlive time.Duration, opts ...StreamOption) *UserDataFeed {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Minute
	}
	return &UserDataFeed{
		streamURL: strings.TrimRight(streamURL, "/"),
		keys:      keys,
		keepAlive: keepAlive,
		stream:    NewStream("userData", opts...),
	}
}

// Run delivers execution reports into out in feed order and closes out on
// return. The listen key is created on first connect, kept alive on a
// timer and recreated when the venue reports it invalid.
func (f *UserDataFeed) Run(ctx context.Context, out chan<- ExecutionReport) error {
	defer close(out)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.keepAliveLoop(ctx)
	}()
	defer wg.Wait()
	defer f.closeKey()

	return f.stream.Run(ctx, f.resolve, func(msg []byte) {
		report, ok, err := ParseExecutionReport(msg)
		if err != nil {
			f.stream.log.WithError(err).WithField("payload", string(msg)).Warn("malformed user data event dropped")
			return
		}
		if !ok {
			return
		}
		select {
		case out <- report:
		case <-ctx.Done():
		}
	})
}

func (f *UserDataFeed) resolve(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenKey == "" {
		key, err := f.keys.CreateListenKey(ctx)
		if err != nil {
			return "", err
		}
		f.listenKey = key
		f.stream.log.Info("listen key created")
	}
	return f.streamURL + "/ws/" + f.listenKey, nil
}

func (f *UserDataFeed) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(f.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			key := f.listenKey
			f.mu.Unlock()
			if key == "" {
				continue
			}
			err := f.keys.KeepAliveListenKey(ctx, key)
			if err == nil {
				continue
			}
			f.stream.log.WithError(err).Warn("listen key keepalive failed")
			if IsInvalidListenKey(err) {
				f.mu.Lock()
				if f.listenKey == key {
					f.listenKey = ""
				}
				f.mu.Unlock()
			}
		}
	}
}

func (f *UserDataFeed) closeKey() {
	f.mu.Lock()
	key := f.listenKey
	f.listenKey = ""
	f.mu.Unlock()
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.keys.CloseListenKey(ctx, key); err != nil {
		f.stream.log.WithError(err).Debug("listen key close failed")
	}
}

// ParseExecutionReport decodes a user data event. ok is false for event
// types other than executionReport.
func ParseExecutionReport(msg []byte) (report ExecutionReport, ok bool, err error) {
	var event userDataEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return ExecutionReport{}, false, err
	}
	if event.EventType != EventTypeExecutionReport {
		return ExecutionReport{}, false, nil
	}
	if err := json.Unmarshal(msg, &report); err != nil {
		return ExecutionReport{}, false, err
	}
	if report.OrderID == 0 {
		return ExecutionReport{}, false, errors.New("execution report without order id")
	}
	return report, true, nil
}
