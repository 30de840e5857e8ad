package gateway

import (
	"context"
	"fmt"
	"time"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/metrics"
	"tradehub/internal/pkg/retry"
	"tradehub/internal/types"
)

type reconnectRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// OnDisconnect 由场所在连接意外中断时调用。只有 CONNECTED 状态下的断线会触发重连。
func (g *Gateway) OnDisconnect(cause error) {
	if !g.state.CompareAndSwap(int32(types.ConnConnected), int32(types.ConnDisconnected)) {
		return
	}
	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	g.announce(types.ConnConnected, types.ConnDisconnected, reason)
	g.OnLog(fmt.Sprintf("connection lost: %s", reason))

	g.mu.Lock()
	if !g.wanted || g.reconnect != nil {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &reconnectRun{cancel: cancel, done: make(chan struct{})}
	g.reconnect = run
	settings := g.settings
	g.mu.Unlock()

	go g.reconnectLoop(ctx, run, settings, cause)
}

// Reconnecting 报告是否有重连 goroutine 在运行。
func (g *Gateway) Reconnecting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reconnect != nil
}

func (g *Gateway) stillWanted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wanted
}

func (g *Gateway) stopReconnect() {
	g.mu.Lock()
	run := g.reconnect
	g.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

// reconnectLoop 在每次尝试前检查 wanted，尝试次数受策略约束。
// 成功后重放初始加载（其中包含一次挂单查询），并对每个订阅重订一次。
func (g *Gateway) reconnectLoop(ctx context.Context, run *reconnectRun, settings Settings, cause error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Gateway %s: reconnect panic: %v", g.name, r)
		}
		g.mu.Lock()
		if g.reconnect == run {
			g.reconnect = nil
		}
		g.mu.Unlock()
		run.cancel()
		close(run.done)
	}()

	lastErr := cause
	attempts := g.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		cat := Classify(lastErr)
		if cat == CategoryUnknown {
			// 断线本身没有分类信息时按网络错误处理
			cat = CategoryNetwork
		}
		delay, ok := g.policy.Delay(cat, attempt)
		if !ok {
			g.OnLog(fmt.Sprintf("reconnect aborted: %s error is not retryable: %v", cat, lastErr))
			metrics.ReconnectAttempts.WithLabelValues(g.name, "aborted").Inc()
			g.releaseVenue()
			return
		}
		g.OnLog(fmt.Sprintf("reconnecting in %v (attempt %d/%d)", delay, attempt+1, attempts))
		if err := retry.Sleep(ctx, delay); err != nil || !g.stillWanted() {
			g.OnLog("reconnect cancelled")
			return
		}
		done, err := g.reconnectOnce(ctx, settings)
		if done {
			return
		}
		metrics.ReconnectAttempts.WithLabelValues(g.name, "failed").Inc()
		lastErr = err
		g.OnLog(fmt.Sprintf("reconnect attempt %d failed (%s): %v", attempt+1, Classify(err), err))
	}
	g.OnLog(fmt.Sprintf("reconnect gave up after %d attempts: %v", attempts, lastErr))
	g.releaseVenue()
}

// releaseVenue 在放弃重连后关闭场所残留的连接与流。
func (g *Gateway) releaseVenue() {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.State() != types.ConnDisconnected {
		return
	}
	if err := g.venue.Close(); err != nil {
		logger.Debugf("Gateway %s: release venue: %v", g.name, err)
	}
}

// reconnectOnce 返回 done=true 表示已重连成功或已被取消。
func (g *Gateway) reconnectOnce(ctx context.Context, settings Settings) (bool, error) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if !g.stillWanted() || ctx.Err() != nil {
		return true, nil
	}
	if g.State() != types.ConnDisconnected {
		return true, nil
	}
	if err := g.venue.Close(); err != nil {
		logger.Debugf("Gateway %s: close stale connection: %v", g.name, err)
	}

	g.setState(types.ConnConnecting, "reconnect")
	if err := g.venue.Dial(ctx, settings); err != nil {
		g.setState(types.ConnDisconnected, err.Error())
		return false, err
	}
	snap, err := g.client.load(ctx)
	if err != nil {
		_ = g.venue.Close()
		g.setState(types.ConnDisconnected, err.Error())
		return false, err
	}
	g.client.publishSnapshot(snap)
	g.setState(types.ConnConnected, "reconnected")
	resubscribed := g.client.MarketData().resubscribe(ctx)
	metrics.ReconnectAttempts.WithLabelValues(g.name, "success").Inc()
	g.OnLog(fmt.Sprintf("reconnected: %d open orders reloaded, %d subscriptions restored",
		len(snap.orders), resubscribed))
	return true, nil
}

func (g *Gateway) announce(from, to types.ConnState, reason string) {
	metrics.GatewayState.WithLabelValues(g.name).Set(float64(to))
	logger.Infof("Gateway %s: %s -> %s", g.name, from, to)
	g.publish(event.EventGateway, g.name, types.GatewayStatus{
		GatewayName: g.name,
		State:       to,
		Reason:      reason,
		Time:        time.Now(),
	})
}
