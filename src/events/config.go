package events

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BufferSize int `envconfig:"EVENT_BUFFER_SIZE" default:"1024"`

	KafkaEnabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"tradeengine.events"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
