package config

import "strings"

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppHTTPAddr     = ":9991"
	defaultQueueSize       = 1 << 16
	defaultTimerIntervalMS = 1000
	defaultStopTimeout     = 5
	defaultPollIntervalMS  = 1000
	defaultMaxAttempts     = 3
	defaultNetworkBaseMS   = 1000
	defaultRateLimitBaseMS = 5000
	defaultMaxDelayMS      = 60000
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30
	defaultJournalPath     = "data/journal.db"
	defaultJournalBatch    = 64
	defaultSettingsPath    = "configs/gateways.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Retry.applyDefaults(keys)
	c.Breaker.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	applyFieldDefaults(keys, stringFieldDefault("settings_path", &c.SettingsPath, defaultSettingsPath))
	for i := range c.Gateways {
		gw := &c.Gateways[i]
		gw.Kind = strings.ToLower(strings.TrimSpace(gw.Kind))
		if gw.Kind == "" {
			gw.Kind = strings.ToLower(strings.TrimSpace(gw.Name))
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("engine.queue_size", &e.QueueSize, defaultQueueSize),
		intFieldDefault("engine.timer_interval_ms", &e.TimerIntervalMS, defaultTimerIntervalMS),
		intFieldDefault("engine.stop_timeout_seconds", &e.StopTimeoutSeconds, defaultStopTimeout),
		intFieldDefault("engine.poll_interval_ms", &e.PollIntervalMS, defaultPollIntervalMS),
	)
}

func (r *RetryConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("retry.max_attempts", &r.MaxAttempts, defaultMaxAttempts),
		intFieldDefault("retry.network_base_ms", &r.NetworkBaseMS, defaultNetworkBaseMS),
		intFieldDefault("retry.rate_limit_base_ms", &r.RateLimitBaseMS, defaultRateLimitBaseMS),
		intFieldDefault("retry.max_delay_ms", &r.MaxDelayMS, defaultMaxDelayMS),
	)
}

func (b *BreakerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("breaker.threshold", &b.Threshold, defaultBreakerFailures),
		intFieldDefault("breaker.cooldown_seconds", &b.CooldownSeconds, defaultBreakerCooldown),
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
		intFieldDefault("journal.batch_size", &j.BatchSize, defaultJournalBatch),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

// intFieldDefault 对未设置或 <=0 的整数生效。
func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
