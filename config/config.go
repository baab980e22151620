// Package config centralises runtime configuration helpers for stratwatch services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where stratwatch operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Credentials captures the bearer token used for authenticated backend requests.
type Credentials struct {
	Token string `yaml:"token"`
}

// BackendSettings aggregates transport configuration for the trading backend.
type BackendSettings struct {
	BaseURL          string        `yaml:"baseUrl"`
	StreamURL        string        `yaml:"streamUrl"`
	Credentials      Credentials   `yaml:"credentials"`
	HTTPTimeout      time.Duration `yaml:"httpTimeout"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
}

// MonitorSettings tunes the per-session synchronisation behaviour.
type MonitorSettings struct {
	// PollInterval is the cadence of authoritative snapshot fetches.
	PollInterval time.Duration `yaml:"pollInterval"`
	// HeartbeatTimeout marks the stream disconnected when no pulse arrives within it.
	HeartbeatTimeout time.Duration `yaml:"heartbeatTimeout"`
	// ReconnectMinDelay floors the delay between stream reconnect attempts.
	ReconnectMinDelay time.Duration `yaml:"reconnectMinDelay"`
	// ReconnectMaxDelay caps the exponential reconnect backoff.
	ReconnectMaxDelay time.Duration `yaml:"reconnectMaxDelay"`
	// ActivityLogCap bounds the per-session activity log length.
	ActivityLogCap int `yaml:"activityLogCap"`
	// CommandThrottle is the maximum rate of strategy actions per second.
	CommandThrottle float64 `yaml:"commandThrottle"`
	// CommandBurst is the action rate limiter burst size.
	CommandBurst int `yaml:"commandBurst"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// APIServerConfig governs the local view/command HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// Settings contains the stratwatch configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Backend     BackendSettings `yaml:"backend"`
	Monitor     MonitorSettings `yaml:"monitor"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	APIServer   APIServerConfig `yaml:"apiServer"`
}

// Default returns the default stratwatch configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Backend: BackendSettings{
			BaseURL:          "https://api.tradehost.io",
			StreamURL:        "wss://stream.tradehost.io/subscriptions",
			Credentials:      Credentials{Token: ""},
			HTTPTimeout:      10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Monitor: MonitorSettings{
			PollInterval:      10 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
			ReconnectMinDelay: time.Second,
			ReconnectMaxDelay: 30 * time.Second,
			ActivityLogCap:    200,
			CommandThrottle:   2,
			CommandBurst:      1,
		},
		Telemetry: TelemetryConfig{OTLPEndpoint: "", ServiceName: "stratwatch"},
		APIServer: APIServerConfig{Addr: ":8880"},
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("STRATWATCH_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_BACKEND_BASE_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_STREAM_URL")); v != "" {
		cfg.Backend.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_BACKEND_TOKEN")); v != "" {
		cfg.Backend.Credentials.Token = v
	}
	if dur, ok := envDuration("STRATWATCH_HTTP_TIMEOUT"); ok {
		cfg.Backend.HTTPTimeout = dur
	}
	if dur, ok := envDuration("STRATWATCH_WS_HANDSHAKE_TIMEOUT"); ok {
		cfg.Backend.HandshakeTimeout = dur
	}
	if dur, ok := envDuration("STRATWATCH_POLL_INTERVAL"); ok {
		cfg.Monitor.PollInterval = dur
	}
	if dur, ok := envDuration("STRATWATCH_HEARTBEAT_TIMEOUT"); ok {
		cfg.Monitor.HeartbeatTimeout = dur
	}
	if dur, ok := envDuration("STRATWATCH_RECONNECT_MIN_DELAY"); ok {
		cfg.Monitor.ReconnectMinDelay = dur
	}
	if dur, ok := envDuration("STRATWATCH_RECONNECT_MAX_DELAY"); ok {
		cfg.Monitor.ReconnectMaxDelay = dur
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_ACTIVITY_LOG_CAP")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.ActivityLogCap = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("STRATWATCH_API_ADDR")); v != "" {
		cfg.APIServer.Addr = v
	}
	return cfg
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return dur, true
}

// Normalise clamps tunables back to their defaults when unset or invalid.
func (s *Settings) Normalise() {
	def := Default()
	if s.Backend.HTTPTimeout <= 0 {
		s.Backend.HTTPTimeout = def.Backend.HTTPTimeout
	}
	if s.Backend.HandshakeTimeout <= 0 {
		s.Backend.HandshakeTimeout = def.Backend.HandshakeTimeout
	}
	if s.Monitor.PollInterval <= 0 {
		s.Monitor.PollInterval = def.Monitor.PollInterval
	}
	if s.Monitor.HeartbeatTimeout <= 0 {
		s.Monitor.HeartbeatTimeout = def.Monitor.HeartbeatTimeout
	}
	if s.Monitor.ReconnectMinDelay <= 0 {
		s.Monitor.ReconnectMinDelay = def.Monitor.ReconnectMinDelay
	}
	if s.Monitor.ReconnectMaxDelay < s.Monitor.ReconnectMinDelay {
		s.Monitor.ReconnectMaxDelay = def.Monitor.ReconnectMaxDelay
	}
	if s.Monitor.ActivityLogCap <= 0 {
		s.Monitor.ActivityLogCap = def.Monitor.ActivityLogCap
	}
	if s.Monitor.CommandThrottle <= 0 {
		s.Monitor.CommandThrottle = def.Monitor.CommandThrottle
	}
	if s.Monitor.CommandBurst <= 0 {
		s.Monitor.CommandBurst = def.Monitor.CommandBurst
	}
	if strings.TrimSpace(s.APIServer.Addr) == "" {
		s.APIServer.Addr = def.APIServer.Addr
	}
}

// Validate performs semantic validation on the configuration tree.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Backend.BaseURL) == "" {
		return errMissing("backend.baseUrl")
	}
	if strings.TrimSpace(s.Backend.StreamURL) == "" {
		return errMissing("backend.streamUrl")
	}
	return nil
}
