package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Admin server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"5310"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// OpenTelemetry tracing
	Otel OtelConfig

	// Signalling source (websocket endpoint delivering session events)
	Signalling SignallingConfig

	// Local participant identity
	Session SessionConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// SignallingConfig holds the connection settings for the upstream signalling
// stack the session manager subscribes to.
type SignallingConfig struct {
	// URL is the websocket endpoint (e.g. ws://localhost:8090/events).
	// Leave empty to run without a listener (events can still be published
	// on the in-process bus, which is what the tests do).
	URL string `env:"SIGNALLING_WS_URL" envDefault:""`

	// AuthToken is sent as a bearer token on the upgrade request when set.
	AuthToken string `env:"SIGNALLING_AUTH_TOKEN" envDefault:""`

	// ReconnectInterval is the delay between reconnect attempts.
	ReconnectInterval time.Duration `env:"SIGNALLING_RECONNECT_INTERVAL" envDefault:"5s"`

	// ReadLimit caps the size of a single signalling frame in bytes.
	ReadLimit int64 `env:"SIGNALLING_READ_LIMIT" envDefault:"1048576"`
}

// Enabled returns true when a signalling endpoint is configured.
func (s SignallingConfig) Enabled() bool {
	return s.URL != ""
}

// SessionConfig identifies the local participant whose group-call membership
// is being traced.
type SessionConfig struct {
	ConferenceID string `env:"SESSION_CONFERENCE_ID" envDefault:""`
	UserID       string `env:"SESSION_USER_ID" envDefault:""`
	DeviceID     string `env:"SESSION_DEVICE_ID" envDefault:""`
	DisplayName  string `env:"SESSION_DISPLAY_NAME" envDefault:""`
}

// Address returns the host:port the admin server binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.ServerAddress, c.ServerPort)
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("signalling_url", cfg.Signalling.URL),
		slog.String("conference_id", cfg.Session.ConferenceID),
	)

	return cfg, nil
}
