package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, LevelDebug, lvl)
	lvl, err = ParseLevel("TRACE")
	require.NoError(t, err)
	require.Equal(t, LevelTrace, lvl)
	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLogger(JSONHandlerWithLevel(&buf, LevelTrace)))

	Debug(Sampling, "hidden")
	require.Empty(t, buf.String())

	EnableModules("sampling, store")
	defer DisableModule(Sampling)
	defer DisableModule(Store)

	Debug(Sampling, "visible", "index", 5)
	require.Contains(t, buf.String(), "visible")
	require.Contains(t, buf.String(), `"module":"sampling"`)

	buf.Reset()
	Info(DA, "always")
	require.Contains(t, buf.String(), "always")
}

func TestStructuredLogFieldOrder(t *testing.T) {
	l, err := NewStructuredLog("3", "node-1", map[string]int{"index": 7})
	require.NoError(t, err)
	b, err := json.Marshal(l)
	require.NoError(t, err)
	s := string(b)
	require.True(t, strings.Index(s, "time") < strings.Index(s, "sender_id"))
	require.True(t, strings.Index(s, "msg_type") < strings.Index(s, "json_encoded"))
	require.NotContains(t, s, "metadata")
}

func TestModuleLogger(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	m := NewModule(Binding, "component", "checker")
	var buf bytes.Buffer
	SetDefault(NewLogger(JSONHandlerWithLevel(&buf, LevelTrace)))

	m.Debug("hidden")
	require.Empty(t, buf.String())

	m.Warn("mismatch", "tx", 2)
	line := buf.String()
	require.Contains(t, line, `"module":"binding"`)
	require.Contains(t, line, `"component":"checker"`)
	require.Contains(t, line, `"tx":2`)

	EnableModule(Binding)
	defer DisableModule(Binding)
	buf.Reset()
	m.With("output", 1).Trace("checked")
	require.Contains(t, buf.String(), `"output":1`)
	require.Equal(t, Binding, m.Name())
}

func TestEnableAllModules(t *testing.T) {
	EnableModules(" all ")
	defer func() {
		for _, m := range Modules {
			DisableModule(m)
		}
	}()
	for _, m := range Modules {
		require.True(t, isModuleEnabled(m), m)
	}
	DisableModule(Net)
	require.False(t, isModuleEnabled(Net))
}
