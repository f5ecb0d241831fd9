package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thinkrelay/reasoning-gateway/internal/providers"
)

// Config is the process-wide immutable configuration. It is loaded once at
// startup and shared read-only across requests.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Endpoints  EndpointConfig   `yaml:"endpoints"`
	Stream     StreamConfig     `yaml:"stream"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Compat     CompatConfig     `yaml:"compat"`
	LogLevel   string           `yaml:"log_level"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EndpointConfig holds the default base URL per provider. Per-request
// endpoint-override headers still take precedence.
type EndpointConfig struct {
	DeepSeek  string `yaml:"deepseek"`
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
}

// StreamConfig tunes the streaming relay.
type StreamConfig struct {
	ChannelCapacity int `yaml:"channel_capacity"`
}

// MonitoringConfig controls the telemetry tracker.
type MonitoringConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TelemetryPath string `yaml:"telemetry_path"`
}

// CompatConfig backs the OpenAI-compatible entry point: caller API keys are
// mapped to upstream token sets, and requested model names to a two-leg route.
type CompatConfig struct {
	APIKeys  map[string]TokenSet   `yaml:"api_keys"`
	ModelMap map[string]ModelRoute `yaml:"model_map"`
}

// TokenSet is the upstream credentials one caller key resolves to.
type TokenSet struct {
	DeepSeek  string `yaml:"deepseek"`
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
}

// ModelRoute maps one public model name onto a reasoning model, a target
// provider/model pair, and an optional parameter overlay applied to both legs.
type ModelRoute struct {
	ReasoningModel string         `yaml:"reasoning_model"`
	Target         string         `yaml:"target"`
	TargetModel    string         `yaml:"target_model"`
	Params         map[string]any `yaml:"params"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  Duration(DefaultReadTimeout),
			WriteTimeout: Duration(DefaultWriteTimeout),
		},
		Endpoints: EndpointConfig{
			DeepSeek:  providers.DefaultDeepSeekURL,
			OpenAI:    providers.DefaultOpenAIURL,
			Anthropic: providers.DefaultAnthropicURL,
		},
		Stream:     StreamConfig{ChannelCapacity: DefaultChannelCapacity},
		Monitoring: MonitoringConfig{Enabled: true, TelemetryPath: DefaultTelemetryPath},
		LogLevel:   "info",
	}
}

// Load reads path as YAML over the defaults, then applies environment
// overrides. A missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env overrides
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, cfg.validate()
}

// applyEnv lets deploy environments override the file without editing it.
func (c *Config) applyEnv() {
	if v := os.Getenv("RELAY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RELAY_TELEMETRY_PATH"); v != "" {
		c.Monitoring.TelemetryPath = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Stream.ChannelCapacity <= 0 {
		c.Stream.ChannelCapacity = DefaultChannelCapacity
	}
	return nil
}
