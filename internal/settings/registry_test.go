package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simSchema = `{
  "type": "object",
  "properties": {"balance": {"type": "number", "minimum": 0}},
  "additionalProperties": true
}`

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestRegistryLoadsGateways(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	writeSettings(t, path, `
gateways:
  SIM:
    account_id: acc-1
    balance: 1000
  BINANCE:
    api_key: k
    api_secret: s
`)
	r, err := NewRegistry(path, false)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"BINANCE", "SIM"}, r.Snapshot().Names())
	s, ok := r.Get("SIM")
	require.True(t, ok)
	assert.Equal(t, "acc-1", s.String("account_id"))

	s["account_id"] = "mutated"
	again, _ := r.Get("SIM")
	assert.Equal(t, "acc-1", again.String("account_id"))

	_, ok = r.Get("NOPE")
	assert.False(t, ok)
}

func TestRegistryRejectsUnknownTopLevelField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	writeSettings(t, path, "gateway:\n  SIM: {}\n")
	_, err := NewRegistry(path, false)
	assert.Error(t, err)
}

func TestRegistryBindValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	writeSettings(t, path, "gateways:\n  SIM:\n    balance: -1\n")
	r, err := NewRegistry(path, false)
	require.NoError(t, err)
	assert.Error(t, r.Bind("SIM", simSchema))
	assert.Error(t, r.Bind("SIM", "{not json"))
}

func TestRegistryReloadKeepsOldSnapshotOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	writeSettings(t, path, "gateways:\n  SIM:\n    balance: 10\n")
	r, err := NewRegistry(path, false)
	require.NoError(t, err)
	require.NoError(t, r.Bind("SIM", simSchema))

	var mu sync.Mutex
	var got []Snapshot
	r.OnChange(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	writeSettings(t, path, "gateways:\n  SIM:\n    balance: -5\n")
	assert.Error(t, r.Reload())
	s, _ := r.Get("SIM")
	assert.Equal(t, "10", s.String("balance"))

	writeSettings(t, path, "gateways:\n  SIM:\n    balance: 20\n")
	require.NoError(t, r.Reload())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Version == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	writeSettings(t, path, "gateways:\n  SIM:\n    account_id: a\n")
	r, err := NewRegistry(path, true)
	require.NoError(t, err)
	defer r.Close()

	changed := make(chan Snapshot, 16)
	r.OnChange(func(s Snapshot) { changed <- s })

	writeSettings(t, path, "gateways:\n  SIM:\n    account_id: b\n")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-changed:
			if snap.Gateways["SIM"].String("account_id") == "b" {
				return
			}
		case <-deadline:
			t.Fatal("no reload after write")
		}
	}
}
