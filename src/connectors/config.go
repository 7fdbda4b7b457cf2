package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceRatePerSec float64 `envconfig:"BINANCE_RATE_PER_SEC" default:"8"`
	BinanceRateBurst  int     `envconfig:"BINANCE_RATE_BURST" default:"16"`

	CalendarBaseURL string `envconfig:"CALENDAR_BASE_URL" default:"https://economic-calendar.tradingview.com"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
