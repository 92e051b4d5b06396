package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/campusguess/battle-client/internal/transport"
)

type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8090"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080/api"`
	// SocketBaseURL defaults to APIBaseURL.
	SocketBaseURL string `env:"SOCKET_BASE_URL"`
	Username      string `env:"BATTLE_USERNAME"`
	Token         string `env:"API_TOKEN"`

	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"2500ms"`
	Heartbeat      time.Duration `env:"HEARTBEAT" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	EventLogSize   int           `env:"EVENT_LOG_SIZE" envDefault:"80"`
	Transports     []string      `env:"TRANSPORTS" envDefault:"websocket,xhr-polling" envSeparator:","`

	LogLevel       zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool          `env:"LOG_DEVELOPMENT"`
}

// Load reads .env files (missing ones are skipped) and then the process
// environment. Variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.SocketBaseURL == "" {
		cfg.SocketBaseURL = cfg.APIBaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var err error
	err = multierr.Append(err, absoluteURL("API_BASE_URL", c.APIBaseURL))
	err = multierr.Append(err, absoluteURL("SOCKET_BASE_URL", c.SocketBaseURL))
	if c.ReconnectDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("RECONNECT_DELAY must be positive, got %v", c.ReconnectDelay))
	}
	if c.Heartbeat < 0 {
		err = multierr.Append(err, fmt.Errorf("HEARTBEAT must not be negative, got %v", c.Heartbeat))
	}
	if c.ConnectTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("CONNECT_TIMEOUT must be positive, got %v", c.ConnectTimeout))
	}
	if c.EventLogSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("EVENT_LOG_SIZE must be positive, got %d", c.EventLogSize))
	}
	if len(c.Transports) == 0 {
		err = multierr.Append(err, errors.New("TRANSPORTS must name at least one transport"))
	}
	for _, t := range c.Transports {
		switch t {
		case transport.TransportWebSocket, transport.TransportXHRPolling:
		default:
			err = multierr.Append(err, fmt.Errorf("TRANSPORTS: unknown transport %q", t))
		}
	}
	return err
}

func absoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", name, raw)
	}
	return nil
}
