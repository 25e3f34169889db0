package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxCaptureDuration is the longest recording, in seconds, whose message
// stays under the broker client's 1 MB payload limit. At libopus' default
// 64 kbit/s for mono, 90 s of WebM base64-encodes to roughly 980 KB.
const MaxCaptureDuration = 90

// Config is the root configuration structure for SpeechLink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Capture   CaptureConfig   `yaml:"capture"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClientConfig identifies this push-to-talk client.
type ClientConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topic     string              `yaml:"topic"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	// Scheme is the transport: "tcp", "ssl", "ws" or "wss".
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	// Path is the HTTP path for websocket transports (e.g. "/mqtt").
	Path     string `yaml:"path"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	// MaxAttempts caps consecutive reconnect attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// CaptureConfig contains audio capture device and session settings.
type CaptureConfig struct {
	// FFmpeg is the path to the ffmpeg binary used for microphone capture.
	FFmpeg string `yaml:"ffmpeg"`

	// InputFormat is the ffmpeg input device format ("pulse", "alsa", "avfoundation").
	InputFormat string `yaml:"input_format"`

	// InputDevice is the ffmpeg input device name.
	// Point this at an echo-cancelling source (e.g. PulseAudio "echo-cancel-source")
	// to satisfy the echo cancellation part of the capture profile.
	InputDevice string `yaml:"input_device"`

	SampleRate       int  `yaml:"sample_rate"`
	Channels         int  `yaml:"channels"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`

	// MaxDuration bounds a single recording (seconds). The session is
	// released automatically when it elapses. At most MaxCaptureDuration.
	MaxDuration int `yaml:"max_duration"`

	// StopTimeout is how long to wait for the device to acknowledge a stop
	// before finalizing with the fragments received so far (seconds).
	StopTimeout int `yaml:"stop_timeout"`

	// GestureWindow is the time after a release during which an engage from a
	// different input source is treated as the same gesture (milliseconds).
	GestureWindow int `yaml:"gesture_window_ms"`
}

// DatabaseConfig contains SQLite settings for the utterance journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes journal entries older than this at startup.
	// 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// APIConfig contains HTTP trigger/diagnostics server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig limits trigger requests per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SPEECHLINK_SECTION_KEY
// For example: SPEECHLINK_MQTT_HOST, SPEECHLINK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus environment
// overrides) when the file does not exist. Used by the CLI so that a bare
// `speechlink send` works without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Default returns a Config with sensible defaults.
// The broker defaults to the public EMQX endpoint over secure websockets.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			ID:   "ptt-client-001",
			Name: "SpeechLink",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Scheme:   "wss",
				Host:     "broker.emqx.io",
				Port:     8084,
				Path:     "/mqtt",
				ClientID: "speechlink-ptt",
			},
			QoS:   0,
			Topic: "peopleconnect/speech",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Capture: CaptureConfig{
			FFmpeg:           "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			MaxDuration:      60,
			StopTimeout:      3,
			GestureWindow:    400,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/speechlink.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Enabled: false,
			URL:     "http://localhost:8086",
			Org:     "speechlink",
			Bucket:  "speechlink",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SPEECHLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPEECHLINK_CLIENT_ID"); v != "" {
		cfg.Client.ID = v
	}

	// MQTT
	if v := os.Getenv("SPEECHLINK_MQTT_SCHEME"); v != "" {
		cfg.MQTT.Broker.Scheme = v
	}
	if v := os.Getenv("SPEECHLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SPEECHLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SPEECHLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("SPEECHLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SPEECHLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Capture
	if v := os.Getenv("SPEECHLINK_CAPTURE_INPUT_DEVICE"); v != "" {
		cfg.Capture.InputDevice = v
	}
	if v := os.Getenv("SPEECHLINK_CAPTURE_FFMPEG"); v != "" {
		cfg.Capture.FFmpeg = v
	}

	// Database
	if v := os.Getenv("SPEECHLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("SPEECHLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SPEECHLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

var validSchemes = map[string]bool{"tcp": true, "ssl": true, "ws": true, "wss": true}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Client.ID == "" {
		errs = append(errs, "client.id is required")
	}

	// MQTT validation
	if !validSchemes[strings.ToLower(c.MQTT.Broker.Scheme)] {
		errs = append(errs, "mqtt.broker.scheme must be tcp, ssl, ws or wss")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts cannot be negative")
	}

	// Capture validation
	if c.Capture.SampleRate <= 0 {
		errs = append(errs, "capture.sample_rate must be positive")
	}
	if c.Capture.Channels < 1 {
		errs = append(errs, "capture.channels must be at least 1")
	}
	if c.Capture.MaxDuration <= 0 {
		errs = append(errs, "capture.max_duration must be positive")
	} else if c.Capture.MaxDuration > MaxCaptureDuration {
		errs = append(errs, fmt.Sprintf("capture.max_duration must be at most %d seconds", MaxCaptureDuration))
	}
	if c.Capture.StopTimeout <= 0 {
		errs = append(errs, "capture.stop_timeout must be positive")
	}
	if c.Capture.GestureWindow < 0 {
		errs = append(errs, "capture.gesture_window_ms cannot be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days cannot be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit.Enabled {
		if c.API.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, "api.rate_limit.requests_per_second must be positive")
		}
		if c.API.RateLimit.Burst < 1 {
			errs = append(errs, "api.rate_limit.burst must be at least 1")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the broker address in the form paho expects,
// e.g. "wss://broker.emqx.io:8084/mqtt".
func (m MQTTConfig) BrokerURL() string {
	scheme := strings.ToLower(m.Broker.Scheme)
	url := fmt.Sprintf("%s://%s:%d", scheme, m.Broker.Host, m.Broker.Port)
	if (scheme == "ws" || scheme == "wss") && m.Broker.Path != "" {
		if !strings.HasPrefix(m.Broker.Path, "/") {
			url += "/"
		}
		url += m.Broker.Path
	}
	return url
}

// Secure reports whether the broker transport is encrypted.
func (m MQTTConfig) Secure() bool {
	scheme := strings.ToLower(m.Broker.Scheme)
	return scheme == "ssl" || scheme == "wss"
}

// GetMaxDuration returns the maximum recording length as a Duration.
func (c CaptureConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}

// GetStopTimeout returns the stop acknowledgement timeout as a Duration.
func (c CaptureConfig) GetStopTimeout() time.Duration {
	return time.Duration(c.StopTimeout) * time.Second
}

// GetGestureWindow returns the cross-source gesture window as a Duration.
func (c CaptureConfig) GetGestureWindow() time.Duration {
	return time.Duration(c.GestureWindow) * time.Millisecond
}

// GetRetention returns the journal retention period, 0 meaning forever.
func (d DatabaseConfig) GetRetention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
