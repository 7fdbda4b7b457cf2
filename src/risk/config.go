package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PeakCacheTTLSec bounds how stale the memoized drawdown peak may get
	// before it is recomputed from the trade ledger.
	PeakCacheTTLSec   int   `envconfig:"RISK_PEAK_CACHE_TTL_SEC" default:"300"`
	ReservationTTLSec int   `envconfig:"RISK_RESERVATION_TTL_SEC" default:"120"`
	QuantityPrecision int32 `envconfig:"RISK_QTY_PRECISION" default:"3"`

	NewsGateEnabled   bool   `envconfig:"NEWS_GATE_ENABLED" default:"false"`
	NewsBlockBefore   int    `envconfig:"NEWS_BLOCK_BEFORE_MIN" default:"15"`
	NewsBlockAfter    int    `envconfig:"NEWS_BLOCK_AFTER_MIN" default:"15"`
	NewsCountries     string `envconfig:"NEWS_COUNTRIES" default:"US"`
	NewsRefreshEveryM int    `envconfig:"NEWS_REFRESH_EVERY_MIN" default:"60"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// PeakCacheTTL returns the drawdown peak memoization TTL.
func (c Config) PeakCacheTTL() time.Duration {
	if c.PeakCacheTTLSec < 1 {
		return 5 * time.Minute
	}
	return time.Duration(c.PeakCacheTTLSec) * time.Second
}

// ReservationTTL returns how long an unconfirmed exposure reservation
// survives before the sweeper reclaims it.
func (c Config) ReservationTTL() time.Duration {
	if c.ReservationTTLSec < 1 {
		return 2 * time.Minute
	}
	return time.Duration(c.ReservationTTLSec) * time.Second
}
