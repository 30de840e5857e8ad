package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("info")
		SetOutput(os.Stdout)
	})
}

func TestLevelFiltersDebug(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	SetOutput(&buf)

	SetLevel("info")
	Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetLevel("DEBUG")
	Debugf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestJSONFormatWithAttrs(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	SetFormat("json")
	SetOutput(&buf)

	With("gateway", "SIM").Warn("order rejected")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "SIM", rec["gateway"])
	assert.Equal(t, "order rejected", rec["msg"])
}

func TestInfoBlockSplitsLines(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	SetOutput(&buf)

	InfoBlock("\nfirst\nsecond\n")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("loud").String())
}
