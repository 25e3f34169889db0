package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
client:
  id: "kitchen-panel"
mqtt:
  broker:
    scheme: "tcp"
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic: "peopleconnect/speech"
capture:
  input_device: "echo-cancel-source"
  max_duration: 30
database:
  path: "/tmp/test.db"
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Client.ID != "kitchen-panel" {
		t.Errorf("Client.ID = %q, want %q", cfg.Client.ID, "kitchen-panel")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if cfg.Capture.InputDevice != "echo-cancel-source" {
		t.Errorf("Capture.InputDevice = %q, want %q", cfg.Capture.InputDevice, "echo-cancel-source")
	}
	if cfg.Capture.MaxDuration != 30 {
		t.Errorf("Capture.MaxDuration = %d, want 30", cfg.Capture.MaxDuration)
	}
	// Unset fields keep their defaults
	if cfg.Capture.SampleRate != 16000 {
		t.Errorf("Capture.SampleRate = %d, want 16000", cfg.Capture.SampleRate)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
client:
  id: ""
mqtt:
  qos: 5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "client.id") || !strings.Contains(err.Error(), "mqtt.qos") {
		t.Errorf("Load() error = %v, want both client.id and mqtt.qos reported", err)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("SPEECHLINK_MQTT_HOST", "broker.local")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override applied", cfg.MQTT.Broker.Host)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing client ID", mutate: func(c *Config) { c.Client.ID = "" }, wantErr: true},
		{name: "unknown scheme", mutate: func(c *Config) { c.MQTT.Broker.Scheme = "http" }, wantErr: true},
		{name: "upper case scheme accepted", mutate: func(c *Config) { c.MQTT.Broker.Scheme = "WSS" }},
		{name: "missing host", mutate: func(c *Config) { c.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "empty topic", mutate: func(c *Config) { c.MQTT.Topic = "" }, wantErr: true},
		{name: "negative reconnect attempts", mutate: func(c *Config) { c.MQTT.Reconnect.MaxAttempts = -1 }, wantErr: true},
		{name: "zero sample rate", mutate: func(c *Config) { c.Capture.SampleRate = 0 }, wantErr: true},
		{name: "zero max duration", mutate: func(c *Config) { c.Capture.MaxDuration = 0 }, wantErr: true},
		{name: "max duration at ceiling", mutate: func(c *Config) { c.Capture.MaxDuration = MaxCaptureDuration }},
		{name: "max duration past payload ceiling", mutate: func(c *Config) { c.Capture.MaxDuration = MaxCaptureDuration + 1 }, wantErr: true},
		{name: "zero stop timeout", mutate: func(c *Config) { c.Capture.StopTimeout = 0 }, wantErr: true},
		{name: "journal without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "journal disabled without path", mutate: func(c *Config) {
			c.Database.Enabled = false
			c.Database.Path = ""
		}},
		{name: "api port out of range", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "influxdb enabled without url", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = ""
		}, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Database.RetentionDays = -1 }, wantErr: true},
		{name: "rate limit without rate", mutate: func(c *Config) { c.API.RateLimit.RequestsPerSecond = 0 }, wantErr: true},
		{name: "rate limit without burst", mutate: func(c *Config) { c.API.RateLimit.Burst = 0 }, wantErr: true},
		{name: "rate limit disabled", mutate: func(c *Config) {
			c.API.RateLimit.Enabled = false
			c.API.RateLimit.RequestsPerSecond = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTConfig_BrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		broker MQTTBrokerConfig
		want   string
		secure bool
	}{
		{
			name:   "secure websocket with path",
			broker: MQTTBrokerConfig{Scheme: "wss", Host: "broker.emqx.io", Port: 8084, Path: "/mqtt"},
			want:   "wss://broker.emqx.io:8084/mqtt",
			secure: true,
		},
		{
			name:   "websocket path without slash",
			broker: MQTTBrokerConfig{Scheme: "ws", Host: "localhost", Port: 8083, Path: "mqtt"},
			want:   "ws://localhost:8083/mqtt",
		},
		{
			name:   "tcp ignores path",
			broker: MQTTBrokerConfig{Scheme: "tcp", Host: "localhost", Port: 1883, Path: "/mqtt"},
			want:   "tcp://localhost:1883",
		},
		{
			name:   "ssl",
			broker: MQTTBrokerConfig{Scheme: "SSL", Host: "broker", Port: 8883},
			want:   "ssl://broker:8883",
			secure: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MQTTConfig{Broker: tt.broker}
			if got := m.BrokerURL(); got != tt.want {
				t.Errorf("BrokerURL() = %q, want %q", got, tt.want)
			}
			if got := m.Secure(); got != tt.secure {
				t.Errorf("Secure() = %v, want %v", got, tt.secure)
			}
		})
	}
}

func TestCaptureConfig_Durations(t *testing.T) {
	c := CaptureConfig{MaxDuration: 45, StopTimeout: 2, GestureWindow: 350}

	if got := c.GetMaxDuration(); got != 45*time.Second {
		t.Errorf("GetMaxDuration() = %v, want 45s", got)
	}
	if got := c.GetStopTimeout(); got != 2*time.Second {
		t.Errorf("GetStopTimeout() = %v, want 2s", got)
	}
	if got := c.GetGestureWindow(); got != 350*time.Millisecond {
		t.Errorf("GetGestureWindow() = %v, want 350ms", got)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("SPEECHLINK_CLIENT_ID", "hall-panel")
	t.Setenv("SPEECHLINK_MQTT_SCHEME", "tcp")
	t.Setenv("SPEECHLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SPEECHLINK_MQTT_PORT", "1883")
	t.Setenv("SPEECHLINK_MQTT_USERNAME", "testuser")
	t.Setenv("SPEECHLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("SPEECHLINK_CAPTURE_INPUT_DEVICE", "hw:1,0")
	t.Setenv("SPEECHLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SPEECHLINK_API_HOST", "192.168.1.1")
	t.Setenv("SPEECHLINK_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Client.ID != "hall-panel" {
		t.Errorf("Client.ID = %q, want %q", cfg.Client.ID, "hall-panel")
	}
	if cfg.MQTT.Broker.Scheme != "tcp" {
		t.Errorf("MQTT.Broker.Scheme = %q, want %q", cfg.MQTT.Broker.Scheme, "tcp")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.Capture.InputDevice != "hw:1,0" {
		t.Errorf("Capture.InputDevice = %q, want %q", cfg.Capture.InputDevice, "hw:1,0")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("SPEECHLINK_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 8084 {
		t.Errorf("MQTT.Broker.Port = %d, want default 8084", cfg.MQTT.Broker.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Topic != "peopleconnect/speech" {
		t.Errorf("default MQTT.Topic = %q, want peopleconnect/speech", cfg.MQTT.Topic)
	}
	if cfg.MQTT.BrokerURL() != "wss://broker.emqx.io:8084/mqtt" {
		t.Errorf("default BrokerURL() = %q", cfg.MQTT.BrokerURL())
	}
	if cfg.Capture.Channels != 1 || cfg.Capture.SampleRate != 16000 {
		t.Errorf("default capture profile = %d ch @ %d Hz, want mono 16 kHz", cfg.Capture.Channels, cfg.Capture.SampleRate)
	}
	if !cfg.Capture.EchoCancellation || !cfg.Capture.NoiseSuppression {
		t.Error("default capture profile should enable echo cancellation and noise suppression")
	}
	if got := cfg.Database.GetRetention(); got != 30*24*time.Hour {
		t.Errorf("default retention = %v, want 30 days", got)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("default API.Host = %q, want loopback", cfg.API.Host)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("InfluxDB should be disabled by default")
	}
}
