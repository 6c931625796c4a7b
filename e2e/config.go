package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_BADGER_DIR overrides the temp dir used for the ledger store,
	// useful to inspect records after a run with cmd/inspect
	BadgerDir string `envconfig:"E2E_BADGER_DIR"`
	// E2E_DEBUG_EVENTS dumps every notification crossing the sink
	DebugEvents bool `envconfig:"E2E_DEBUG_EVENTS" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
