package app

import (
	"fmt"
	"sort"
	"strings"

	"tradehub/internal/config"
	"tradehub/internal/logger"
)

type StartupSummary struct {
	Env        string
	HTTPAddr   string
	QueueSize  int
	Retry      config.RetryConfig
	Journal    string
	VenueKinds []string
	Gateways   []GatewaySummary
}

type GatewaySummary struct {
	Name      string
	Kind      string
	Subscribe []string
}

func buildSummary(cfg *config.Config, targets []connectTarget, kinds []string) *StartupSummary {
	s := &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		QueueSize:  cfg.Engine.QueueSize,
		Retry:      cfg.Retry,
		Journal:    "disabled",
		VenueKinds: kinds,
	}
	if cfg.Journal.Enabled {
		s.Journal = cfg.Journal.Path
	}
	for _, t := range targets {
		g := GatewaySummary{Name: t.name, Kind: t.kind}
		for _, sub := range t.subs {
			g.Subscribe = append(g.Subscribe, sub.VTSymbol())
		}
		s.Gateways = append(s.Gateways, g)
	}
	sort.Slice(s.Gateways, func(i, j int) bool { return s.Gateways[i].Name < s.Gateways[j].Name })
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	fmt.Fprintf(&b, "  环境: %s   HTTP: %s   队列: %d\n", s.Env, s.HTTPAddr, s.QueueSize)
	fmt.Fprintf(&b, "  重试: max=%d network=%dms rate_limit=%dms cap=%dms\n",
		s.Retry.MaxAttempts, s.Retry.NetworkBaseMS, s.Retry.RateLimitBaseMS, s.Retry.MaxDelayMS)
	fmt.Fprintf(&b, "  落盘: %s\n", s.Journal)
	fmt.Fprintf(&b, "  可用场所: %s\n", formatList(s.VenueKinds))
	b.WriteString("\n[网关 (GATEWAYS)]\n")
	if len(s.Gateways) == 0 {
		b.WriteString("  (无启用网关)\n")
	}
	for _, g := range s.Gateways {
		fmt.Fprintf(&b, "  > %s (%s)  订阅: %s\n", g.Name, g.Kind, formatList(g.Subscribe))
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
