package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"SCRIPT_ROOT":        "game/scripts",
		"SCRIPT_LANGUAGES":   " tengo , ",
		"HOT_RELOAD_SCRIPTS": "false",
		"RELOAD_DEBOUNCE":    "250ms",
		"LOG_FORMAT":         "JSON",
		"LOG_LEVEL":          "debug",
		"INSPECT_ADDR":       "127.0.0.1:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "game/scripts", cfg.ScriptRoot)
	assert.Equal(t, []string{"tengo"}, cfg.Languages)
	assert.False(t, cfg.HotReload)
	assert.Equal(t, 250*time.Millisecond, cfg.ReloadDebounce)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.InspectAddr)
}

func TestFromEnv_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"empty root", map[string]string{"SCRIPT_ROOT": ""}},
		{"unknown language", map[string]string{"SCRIPT_LANGUAGES": "go,lua"}},
		{"no languages", map[string]string{"SCRIPT_LANGUAGES": ","}},
		{"bad bool", map[string]string{"HOT_RELOAD_SCRIPTS": "sometimes"}},
		{"bad duration", map[string]string{"RELOAD_DEBOUNCE": "soon"}},
		{"negative duration", map[string]string{"RELOAD_DEBOUNCE": "-1s"}},
		{"bad format", map[string]string{"LOG_FORMAT": "xml"}},
		{"bad level", map[string]string{"LOG_LEVEL": "trace"}},
		{"bad addr", map[string]string{"INSPECT_ADDR": "nowhere"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(tc.env))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_EmptyInspectAddrDisablesInspector(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{"INSPECT_ADDR": ""}))
	require.NoError(t, err)
	assert.Empty(t, cfg.InspectAddr)
}
