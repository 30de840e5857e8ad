package config

import (
	"fmt"
	"strings"

	"tradehub/internal/types"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	switch strings.ToLower(strings.TrimSpace(c.App.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level: unsupported level %q", c.App.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.App.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format: unsupported format %q", c.App.LogFormat)
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.CooldownSeconds < 0 {
		return fmt.Errorf("breaker.cooldown_seconds must be >= 0")
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("journal.path cannot be empty when journal is enabled")
	}
	return validateGateways(c.Gateways)
}

func (e *EngineConfig) validate() error {
	if e.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be > 0")
	}
	if e.TimerIntervalMS <= 0 {
		return fmt.Errorf("engine.timer_interval_ms must be > 0")
	}
	if e.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.stop_timeout_seconds must be > 0")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if r.NetworkBaseMS < 0 || r.RateLimitBaseMS < 0 || r.MaxDelayMS < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if r.MaxDelayMS > 0 && r.MaxDelayMS < r.NetworkBaseMS {
		return fmt.Errorf("retry.max_delay_ms (%d) must be >= retry.network_base_ms (%d)", r.MaxDelayMS, r.NetworkBaseMS)
	}
	return nil
}

func validateGateways(gws []GatewayConfig) error {
	seen := make(map[string]struct{}, len(gws))
	for i, gw := range gws {
		name := strings.TrimSpace(gw.Name)
		if name == "" {
			return fmt.Errorf("gateways[%d].name cannot be empty", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("gateways: duplicate name %s", name)
		}
		seen[name] = struct{}{}
		for _, vt := range gw.Subscribe {
			if _, _, err := types.ParseVTSymbol(vt); err != nil {
				return fmt.Errorf("gateways.%s.subscribe: %w", name, err)
			}
		}
	}
	return nil
}
