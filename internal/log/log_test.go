package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		_ = SetLevel("info")
		_ = SetFormat("text")
	})
	return &buf
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetLevel("warning"))

	Infoln("hidden %d", 1)
	Warnln("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "|WARN| shown 2")
}

func TestSetLevel_Unknown(t *testing.T) {
	assert.Error(t, SetLevel("verbose"))
	assert.Error(t, SetFormat("xml"))
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetFormat("json"))

	WithFields(map[string]any{"status": 200}).Info("access")

	line := strings.TrimSpace(buf.String())
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &doc))
	assert.Equal(t, "access", doc["msg"])
	assert.Equal(t, float64(200), doc["status"])
}
