package internal

import (
	"fmt"
	"time"
)

type Config struct {
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel        string        `env:"LOG_LEVEL,required=true"`
	PollBackoff     time.Duration `env:"POLL_BACKOFF,required=true"`
	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,required=true"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,required=true"`
	// FillerAccount is the protocol-required third participant of the
	// two-party invite groups.
	FillerAccount string `env:"FILLER_ACCOUNT,required=true"`
	CourtesyText  string `env:"COURTESY_TEXT"`
	AgentName     string `env:"AGENT_NAME,required=true"`
}

// DefaultCourtesyText is used when COURTESY_TEXT is not set. One plain
// message per new invite, visible in the regular chat UI.
const DefaultCourtesyText = "I'd like to add you as a contact."

func (c Config) Courtesy() string {
	if c.CourtesyText == "" {
		return DefaultCourtesyText
	}
	return c.CourtesyText
}

func ValidateBackoff(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("POLL_BACKOFF must be positive, got %s", d)
	}
	return nil
}
