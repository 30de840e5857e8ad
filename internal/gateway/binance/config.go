package binance

import (
	"strconv"
	"strings"
	"time"

	"tradehub/internal/gateway"
)

const settingsSchema = `{
  "type": "object",
  "required": ["api_key", "api_secret"],
  "properties": {
    "api_key": {"type": "string", "minLength": 1},
    "api_secret": {"type": "string", "minLength": 1},
    "testnet": {"type": "boolean"},
    "rest_base_url": {"type": "string"},
    "http_timeout_seconds": {"type": "number", "exclusiveMinimum": 0},
    "proxy_url": {"type": "string"}
  },
  "additionalProperties": false
}`

type Config struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	RESTBaseURL string
	HTTPTimeout time.Duration
	ProxyURL    string
}

// configFromSettings 假定 settings 已通过 schema 校验。
func configFromSettings(s gateway.Settings) Config {
	cfg := Config{
		APIKey:      s.String("api_key"),
		APISecret:   s.String("api_secret"),
		Testnet:     s.Bool("testnet"),
		RESTBaseURL: s.String("rest_base_url"),
		ProxyURL:    s.String("proxy_url"),
	}
	if raw := s.String("http_timeout_seconds"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.HTTPTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	out := c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		if out.Testnet {
			out.RESTBaseURL = "https://testnet.binancefuture.com"
		} else {
			out.RESTBaseURL = "https://fapi.binance.com"
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
