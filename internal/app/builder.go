package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tradehub/internal/config"
	"tradehub/internal/engine"
	"tradehub/internal/event"
	"tradehub/internal/gateway"
	"tradehub/internal/gateway/alpaca"
	"tradehub/internal/gateway/binance"
	"tradehub/internal/gateway/sim"
	"tradehub/internal/logger"
	"tradehub/internal/settings"
	"tradehub/internal/store/journal"
	livehttp "tradehub/internal/transport/http/live"
	"tradehub/internal/types"
)

type AppBuilder struct {
	cfg    *config.Config
	venues *gateway.Registry

	watchSettings bool
	httpEnabled   bool
}

type AppBuilderOption func(*AppBuilder)

// WithVenue 注册或覆盖某个 kind 的场所实现。
func WithVenue(kind string, factory gateway.VenueFactory) AppBuilderOption {
	return func(b *AppBuilder) { b.venues.Register(kind, factory) }
}

// WithoutHTTP 不启动 HTTP 服务。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) { b.httpEnabled = false }
}

// WithSettingsWatch 控制是否监听连接参数文件。
func WithSettingsWatch(on bool) AppBuilderOption {
	return func(b *AppBuilder) { b.watchSettings = on }
}

// DefaultVenues 返回内置的场所注册表。
func DefaultVenues() *gateway.Registry {
	r := gateway.NewRegistry()
	r.Register("sim", sim.Factory)
	r.Register("binance", binance.Factory)
	r.Register("alpaca", alpaca.Factory)
	return r
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		venues:        DefaultVenues(),
		watchSettings: true,
		httpEnabled:   true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	reg, err := b.loadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	me := engine.NewMainEngine(
		event.WithQueueSize(cfg.Engine.QueueSize),
		event.WithTimerInterval(cfg.Engine.TimerInterval()),
		event.WithStopTimeout(cfg.Engine.StopTimeout()),
		event.WithPollInterval(cfg.Engine.PollInterval()),
	)
	a := &App{cfg: cfg, engine: me, settings: reg}
	fail := func(err error) (*App, error) {
		a.shutdown()
		return nil, err
	}

	policy := gateway.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		NetworkBase:   time.Duration(cfg.Retry.NetworkBaseMS) * time.Millisecond,
		RateLimitBase: time.Duration(cfg.Retry.RateLimitBaseMS) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
	}
	for _, gwCfg := range cfg.EnabledGateways() {
		factory, err := b.venues.Lookup(gwCfg.Kind)
		if err != nil {
			return fail(fmt.Errorf("gateway %s: %w", gwCfg.Name, err))
		}
		adapter, err := me.AddGateway(gwCfg.Name, func(name string, bus event.Publisher) gateway.Adapter {
			return gateway.New(name, bus, factory,
				gateway.WithRetryPolicy(policy),
				gateway.WithBreaker(cfg.Breaker.Threshold, cfg.Breaker.Cooldown()))
		})
		if err != nil {
			return fail(fmt.Errorf("gateway %s: %w", gwCfg.Name, err))
		}
		if reg != nil {
			if err := reg.Bind(gwCfg.Name, adapter.SettingsSchema()); err != nil {
				return fail(err)
			}
		}
		subs, err := parseSubscriptions(gwCfg.Subscribe)
		if err != nil {
			return fail(fmt.Errorf("gateway %s: %w", gwCfg.Name, err))
		}
		a.targets = append(a.targets, connectTarget{name: gwCfg.Name, kind: gwCfg.Kind, subs: subs})
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fail(fmt.Errorf("open journal: %w", err))
		}
		a.journal = store
		a.recorder = journal.NewRecorder(store, me.Bus(), cfg.Journal.BatchSize,
			journal.WithOrderState(me.GetOrder))
	}

	if b.httpEnabled {
		srvCfg := livehttp.ServerConfig{Addr: cfg.App.HTTPAddr, Engine: me, Events: me.Bus()}
		if a.journal != nil {
			srvCfg.Journal = a.journal
		}
		srv, err := livehttp.NewServer(srvCfg)
		if err != nil {
			return fail(err)
		}
		a.http = srv
	}

	a.Summary = buildSummary(cfg, a.targets, b.venues.Kinds())
	return a, nil
}

// loadSettings 文件不存在时返回 nil，网关以空参数连接。
func (b *AppBuilder) loadSettings(path string) (*settings.Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("gateway settings file %s not found, connecting with empty settings", path)
		return nil, nil
	}
	reg, err := settings.NewRegistry(path, b.watchSettings)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func parseSubscriptions(vtSymbols []string) ([]types.SubscribeRequest, error) {
	out := make([]types.SubscribeRequest, 0, len(vtSymbols))
	for _, vt := range vtSymbols {
		symbol, ex, err := types.ParseVTSymbol(strings.TrimSpace(vt))
		if err != nil {
			return nil, err
		}
		out = append(out, types.SubscribeRequest{Symbol: symbol, Exchange: ex})
	}
	return out, nil
}
