package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_ServerDefaults(t *testing.T) {
	var cfg Server
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestParseEnv_ServerOverrides(t *testing.T) {
	t.Setenv("CHAT_HTTP_ADDR", ":9000")
	t.Setenv("CHAT_HISTORY_LIMIT", "25")
	t.Setenv("CHAT_ORIGIN_PATTERNS", "example.com,*.example.org")
	t.Setenv("LOG_DEV", "true")

	var cfg Server
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.OriginPatterns)
	assert.True(t, cfg.Log.Dev)
}

func TestParseEnv_InvalidValue(t *testing.T) {
	t.Setenv("CHAT_TYPING_DEBOUNCE", "soon")
	var cfg Client
	err := ParseEnv(&cfg)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"))
}

func TestServerValidate(t *testing.T) {
	cfg := Server{HTTPAddr: ":8080", HistoryLimit: 0}
	assert.Error(t, cfg.Validate())
	cfg.HistoryLimit = 10
	cfg.FramesPerSecond = -1
	assert.Error(t, cfg.Validate())
}

func TestClientDurations(t *testing.T) {
	t.Setenv("CHAT_TYPING_DEBOUNCE", "300ms")
	t.Setenv("CHAT_RECONNECT_MAX", "5s")
	var cfg Client
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, 300*time.Millisecond, cfg.TypingDebounce)
	assert.Equal(t, 3*time.Second, cfg.TypingTTL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectMax)
	assert.NoError(t, cfg.Validate())
}

func TestClientURLs(t *testing.T) {
	tests := []struct {
		server string
		ws     string
		http   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", "http://localhost:8080"},
		{"https://chat.example.com/", "wss://chat.example.com/ws", "https://chat.example.com"},
		{"wss://chat.example.com/base", "wss://chat.example.com/base/ws", "https://chat.example.com/base"},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			c := Client{ServerURL: tt.server}
			got, err := c.WebSocketURL()
			require.NoError(t, err)
			assert.Equal(t, tt.ws, got)
			assert.Equal(t, tt.http, c.HTTPURL())
		})
	}

	_, err := Client{ServerURL: "ftp://x"}.WebSocketURL()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_ROOM_TEST_ONLY=lobby\n"), 0o600))
	t.Setenv("CHAT_ROOM_TEST_ONLY", "")
	require.NoError(t, os.Unsetenv("CHAT_ROOM_TEST_ONLY"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "lobby", os.Getenv("CHAT_ROOM_TEST_ONLY"))
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(Log{Level: "debug", Dev: true})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(Log{Level: "loud"})
	assert.Error(t, err)
}
