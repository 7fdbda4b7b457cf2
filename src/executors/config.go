package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// QuantityPrecision is the number of decimal places quantities are
	// canonicalized to inside idempotency keys. It must match the venue's
	// quantity step for the traded symbols.
	QuantityPrecision int32 `envconfig:"ORDER_QTY_PRECISION" default:"3"`

	// DedupTTLMin bounds how long an idempotency key shadows repeat orders.
	DedupTTLMin int `envconfig:"ORDER_DEDUP_TTL_MIN" default:"60"`

	// PlaceRetries is how many extra placement attempts transient exchange
	// errors get before the order fails.
	PlaceRetries int `envconfig:"ORDER_PLACE_RETRIES" default:"2"`

	// PollAttempts and PollBaseDelayMS shape the post-placement status polls:
	// the delay doubles each attempt.
	PollAttempts    int `envconfig:"ORDER_POLL_ATTEMPTS" default:"3"`
	PollBaseDelayMS int `envconfig:"ORDER_POLL_BASE_DELAY_MS" default:"500"`

	// PoolSize bounds how many strategy loops run concurrently.
	PoolSize int `envconfig:"STRATEGY_POOL_SIZE" default:"16"`

	// RescanEverySec is how often the runner re-reads the strategies table to
	// pick up rows an operator started or resumed.
	RescanEverySec int `envconfig:"STRATEGY_RESCAN_EVERY_SEC" default:"30"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// DedupTTL returns the idempotency window, defaulting to an hour when unset.
func (c Config) DedupTTL() time.Duration {
	if c.DedupTTLMin < 1 {
		return time.Hour
	}
	return time.Duration(c.DedupTTLMin) * time.Minute
}

// PollBaseDelay returns the first poll delay with a floor of 100ms.
func (c Config) PollBaseDelay() time.Duration {
	if c.PollBaseDelayMS < 100 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollBaseDelayMS) * time.Millisecond
}

// RescanEvery returns the runner rescan period with a floor of five seconds.
func (c Config) RescanEvery() time.Duration {
	if c.RescanEverySec < 5 {
		return 30 * time.Second
	}
	return time.Duration(c.RescanEverySec) * time.Second
}
