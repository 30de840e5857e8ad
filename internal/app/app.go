// Package app 根据配置装配主引擎、网关、落盘与 HTTP 服务，并管理其生命周期。
package app

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradehub/internal/config"
	"tradehub/internal/engine"
	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/settings"
	"tradehub/internal/store/journal"
	livehttp "tradehub/internal/transport/http/live"
	"tradehub/internal/types"
)

type connectTarget struct {
	name string
	kind string
	subs []types.SubscribeRequest
}

// App 负责应用级编排：连接网关、订阅合约、启动 HTTP 与落盘。
type App struct {
	cfg      *config.Config
	engine   *engine.MainEngine
	settings *settings.Registry
	journal  *journal.Store
	recorder *journal.Recorder
	http     *livehttp.Server
	targets  []connectTarget
	Summary  *StartupSummary

	closeOnce sync.Once
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	return NewAppBuilder(cfg).Build(context.Background())
}

func (a *App) Engine() *engine.MainEngine { return a.engine }

// Run 阻塞直到 ctx 取消或 HTTP 服务出错，返回前关闭所有网关。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.shutdown()
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.settings != nil {
		a.settings.OnChange(a.onSettingsChange)
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.recorder != nil {
		group.Go(func() error { return a.recorder.Run(ctx) })
	}
	if a.http != nil {
		group.Go(func() error {
			logger.Infof("http listening on %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	for _, target := range a.targets {
		target := target
		group.Go(func() error {
			a.connect(ctx, target)
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

// connect 连接失败只记录日志，不影响其它网关。
func (a *App) connect(ctx context.Context, target connectTarget) {
	var s gateway.Settings
	if a.settings != nil {
		s, _ = a.settings.Get(target.name)
	}
	if s == nil {
		s = gateway.Settings{}
	}
	if err := a.engine.Connect(ctx, s, target.name); err != nil {
		logger.Errorf("gateway %s (%s) connect failed: %v", target.name, target.kind, err)
		a.engine.WriteLog(fmt.Sprintf("connect failed: %v", err), target.name)
		return
	}
	for _, req := range target.subs {
		if err := a.engine.Subscribe(ctx, req, target.name); err != nil {
			logger.Warnf("gateway %s subscribe %s failed: %v", target.name, req.VTSymbol(), err)
		}
	}
}

// onSettingsChange 新参数在下次连接时生效。
func (a *App) onSettingsChange(snap settings.Snapshot) {
	for _, name := range snap.Names() {
		gw, err := a.engine.GetGateway(name)
		if err != nil {
			continue
		}
		a.engine.WriteLog(fmt.Sprintf("settings reloaded (v%d), applied on next connect; state=%s", snap.Version, gw.State()), name)
	}
}

func (a *App) shutdown() {
	a.closeOnce.Do(func() {
		if a.settings != nil {
			a.settings.Close()
		}
		if err := a.engine.Close(); err != nil {
			logger.Warnf("engine close: %v", err)
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				logger.Warnf("journal close: %v", err)
			}
		}
	})
}
