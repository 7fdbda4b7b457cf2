package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MasterKey seals exchange credentials at rest, base64-encoded 32 bytes.
	// There is deliberately no default: every deployment generates its own
	// with the keys CLI.
	MasterKey string `envconfig:"CREDENTIALS_MASTER_KEY" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
