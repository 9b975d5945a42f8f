// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Log selects the zap logger a command builds.
type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Dev   bool   `env:"LOG_DEV" envDefault:"false"`
}

// Server configures cmd/server.
type Server struct {
	HTTPAddr        string   `env:"CHAT_HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN     string   `env:"CHAT_DATABASE_DSN" envDefault:"chat.db"`
	DatabaseDebug   bool     `env:"CHAT_DATABASE_DEBUG" envDefault:"false"`
	HistoryLimit    int      `env:"CHAT_HISTORY_LIMIT" envDefault:"100"`
	FramesPerSecond float64  `env:"CHAT_FRAMES_PER_SECOND" envDefault:"20"`
	TokenSecret     string   `env:"CHAT_TOKEN_SECRET"`
	OriginPatterns  []string `env:"CHAT_ORIGIN_PATTERNS" envSeparator:","`
	AllowAnyOrigin  bool     `env:"CHAT_ALLOW_ANY_ORIGIN" envDefault:"false"`
	Log             Log
}

// Client configures cmd/chatctl. Flags override these values.
type Client struct {
	ServerURL      string        `env:"CHAT_SERVER_URL" envDefault:"http://localhost:8080"`
	Token          string        `env:"CHAT_TOKEN"`
	Room           string        `env:"CHAT_ROOM" envDefault:"general"`
	TypingDebounce time.Duration `env:"CHAT_TYPING_DEBOUNCE" envDefault:"1s"`
	TypingTTL      time.Duration `env:"CHAT_TYPING_TTL" envDefault:"3s"`
	ReconnectMin   time.Duration `env:"CHAT_RECONNECT_MIN" envDefault:"500ms"`
	ReconnectMax   time.Duration `env:"CHAT_RECONNECT_MAX" envDefault:"30s"`
	TokenSecret    string        `env:"CHAT_TOKEN_SECRET" envDefault:"dev"`
	Log            Log
}

// ParseEnv fills target from environment variables using its env tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv exports the given .env files (default ".env") into the process
// environment. A missing file is not an error; existing variables win.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Server) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("CHAT_HTTP_ADDR is required")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.FramesPerSecond < 0 {
		return fmt.Errorf("CHAT_FRAMES_PER_SECOND must not be negative, got %v", c.FramesPerSecond)
	}
	return nil
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := LoadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the client settings after flags have been applied.
func (c Client) Validate() error {
	if _, err := c.WebSocketURL(); err != nil {
		return err
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("invalid reconnect window %v..%v", c.ReconnectMin, c.ReconnectMax)
	}
	return nil
}

// WebSocketURL derives the relay socket endpoint from ServerURL.
func (c Client) WebSocketURL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// HTTPURL is ServerURL with a websocket scheme mapped back to http(s).
func (c Client) HTTPURL() string {
	s := strings.TrimSuffix(strings.TrimSpace(c.ServerURL), "/")
	switch {
	case strings.HasPrefix(s, "ws://"):
		return "http://" + strings.TrimPrefix(s, "ws://")
	case strings.HasPrefix(s, "wss://"):
		return "https://" + strings.TrimPrefix(s, "wss://")
	}
	return s
}

// NewLogger builds a production JSON logger, or a console logger when Dev
// is set.
func NewLogger(l Log) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l.Dev {
		cfg = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		lvl, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
