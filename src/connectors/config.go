package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceAPIKey    string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret string `envconfig:"BINANCE_API_SECRET"` // plain or enc: prefixed
	BinanceBaseURL   string `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
	BinanceStreamURL string `envconfig:"BINANCE_STREAM_URL" default:"wss://stream.binance.com:9443"`

	RecvWindow  int64         `envconfig:"BINANCE_RECV_WINDOW" default:"5000"`
	HTTPTimeout time.Duration `envconfig:"BINANCE_HTTP_TIMEOUT" default:"10s"`

	StreamPingInterval time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"5m"`
	StreamReadTimeout  time.Duration `envconfig:"STREAM_READ_TIMEOUT" default:"10m"`
	ListenKeyKeepAlive time.Duration `envconfig:"LISTEN_KEY_KEEPALIVE" default:"30m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
