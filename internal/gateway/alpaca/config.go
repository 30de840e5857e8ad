package alpaca

import (
	"strconv"
	"time"

	"tradehub/internal/gateway"
)

const settingsSchema = `{
  "type": "object",
  "required": ["api_key", "api_secret"],
  "properties": {
    "api_key": {"type": "string", "minLength": 1},
    "api_secret": {"type": "string", "minLength": 1},
    "paper": {"type": "boolean"},
    "base_url": {"type": "string"},
    "data_url": {"type": "string"},
    "feed": {"type": "string", "enum": ["iex", "sip"]},
    "quote_poll_ms": {"type": "integer", "minimum": 100}
  },
  "additionalProperties": false
}`

type Config struct {
	APIKey    string
	APISecret string
	Paper     bool
	BaseURL   string
	DataURL   string
	Feed      string
	QuotePoll time.Duration
}

func configFromSettings(s gateway.Settings) Config {
	cfg := Config{
		APIKey:    s.String("api_key"),
		APISecret: s.String("api_secret"),
		Paper:     s.Bool("paper"),
		BaseURL:   s.String("base_url"),
		DataURL:   s.String("data_url"),
		Feed:      s.String("feed"),
	}
	if raw := s.String("quote_poll_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			cfg.QuotePoll = time.Duration(ms) * time.Millisecond
		}
	}
	if cfg.BaseURL == "" {
		if cfg.Paper {
			cfg.BaseURL = "https://paper-api.alpaca.markets"
		} else {
			cfg.BaseURL = "https://api.alpaca.markets"
		}
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.QuotePoll <= 0 {
		cfg.QuotePoll = time.Second
	}
	return cfg
}
