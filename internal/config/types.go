package config

import (
	"strings"
	"time"
)

// Config 是 tradehub 的主配置。
type Config struct {
	App          AppConfig       `toml:"app" yaml:"app"`
	Engine       EngineConfig    `toml:"engine" yaml:"engine"`
	Retry        RetryConfig     `toml:"retry" yaml:"retry"`
	Breaker      BreakerConfig   `toml:"breaker" yaml:"breaker"`
	Journal      JournalConfig   `toml:"journal" yaml:"journal"`
	SettingsPath string          `toml:"settings_path" yaml:"settings_path"`
	Gateways     []GatewayConfig `toml:"gateways" yaml:"gateways"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// text | json
	LogFormat string `toml:"log_format" yaml:"log_format"`
	LogPath   string `toml:"log_path" yaml:"log_path"`
	HTTPAddr  string `toml:"http_addr" yaml:"http_addr"`
}

// EngineConfig 对应事件总线参数。
type EngineConfig struct {
	QueueSize          int `toml:"queue_size" yaml:"queue_size"`
	TimerIntervalMS    int `toml:"timer_interval_ms" yaml:"timer_interval_ms"`
	StopTimeoutSeconds int `toml:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
	PollIntervalMS     int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
}

func (e EngineConfig) TimerInterval() time.Duration {
	return time.Duration(e.TimerIntervalMS) * time.Millisecond
}

func (e EngineConfig) StopTimeout() time.Duration {
	return time.Duration(e.StopTimeoutSeconds) * time.Second
}

func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// RetryConfig 控制网关连接与查询的重试。
type RetryConfig struct {
	MaxAttempts     int `toml:"max_attempts" yaml:"max_attempts"`
	NetworkBaseMS   int `toml:"network_base_ms" yaml:"network_base_ms"`
	RateLimitBaseMS int `toml:"rate_limit_base_ms" yaml:"rate_limit_base_ms"`
	MaxDelayMS      int `toml:"max_delay_ms" yaml:"max_delay_ms"`
}

type BreakerConfig struct {
	Threshold       int `toml:"threshold" yaml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds" yaml:"cooldown_seconds"`
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

// JournalConfig 控制订单/成交/日志的 sqlite 落盘。
type JournalConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Path      string `toml:"path" yaml:"path"`
	BatchSize int    `toml:"batch_size" yaml:"batch_size"`
}

// GatewayConfig 描述一个网关实例；连接参数在 settings_path 文件中按 name 查找。
type GatewayConfig struct {
	Name      string   `toml:"name" yaml:"name"`
	Kind      string   `toml:"kind" yaml:"kind"`
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Subscribe []string `toml:"subscribe" yaml:"subscribe,omitempty"`
}

// EnabledGateways 返回启用的网关，保持配置顺序。
func (c *Config) EnabledGateways() []GatewayConfig {
	out := make([]GatewayConfig, 0, len(c.Gateways))
	for _, gw := range c.Gateways {
		if gw.Enabled {
			out = append(out, gw)
		}
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault 只在字段未显式设置且 need 为真时生效。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
