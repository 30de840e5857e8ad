package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradehub/internal/config"
	"tradehub/internal/types"
)

func testConfig(t *testing.T, settingsBody string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "gateways.yaml")
	if settingsBody != "" {
		require.NoError(t, os.WriteFile(settingsPath, []byte(settingsBody), 0o600))
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
app:
  http_addr: "127.0.0.1:0"
engine:
  timer_interval_ms: 3600000
retry:
  network_base_ms: 1
  max_delay_ms: 5
journal:
  enabled: true
  path: ` + filepath.Join(dir, "journal.db") + `
  batch_size: 1
settings_path: ` + settingsPath + `
gateways:
  - name: SIM
    kind: sim
    enabled: true
    subscribe: ["BTCUSDT.BINANCE"]
  - name: OFF
    kind: binance
    enabled: false
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Gateways[0].Kind = "ftx"
	_, err := NewAppBuilder(cfg, WithoutHTTP()).Build(context.Background())
	assert.Error(t, err)
}

func TestBuildRejectsInvalidSettings(t *testing.T) {
	cfg := testConfig(t, "gateways:\n  SIM:\n    balance: -1\n")
	_, err := NewAppBuilder(cfg, WithoutHTTP(), WithSettingsWatch(false)).Build(context.Background())
	assert.Error(t, err)
}

func TestRunConnectsAndSubscribes(t *testing.T) {
	cfg := testConfig(t, "gateways:\n  SIM:\n    account_id: acc-9\n")
	a, err := NewAppBuilder(cfg, WithoutHTTP(), WithSettingsWatch(false)).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM"}, a.Engine().GetAllGatewayNames())
	require.Len(t, a.Summary.Gateways, 1)
	assert.Contains(t, a.Summary.String(), "BTCUSDT.BINANCE")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := a.Engine().GetAccount("SIM.acc-9")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	gw, err := a.Engine().GetGateway("SIM")
	require.NoError(t, err)
	assert.Equal(t, types.ConnConnected, gw.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, types.ConnDisconnected, gw.State())
}
