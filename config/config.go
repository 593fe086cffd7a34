// Package config loads the settings shared by the store daemon and its
// command line clients.
//
// The configuration is organized into sections:
//   - Store: socket, shared memory directory, capacity, notifications, metrics
//   - Client: socket, timeouts and codec settings
//   - Flight: Arrow Flight listener
//   - Log: zap logger settings
//
// Example usage:
//
//	cfg, err := config.Load("tablestore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/TableStore-Engine/codec"
	"github.com/VanDung-dev/TableStore-Engine/flight"
	"github.com/VanDung-dev/TableStore-Engine/internal/logger"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Config is the complete configuration.
type Config struct {
	Store  StoreConfig   `yaml:"store" json:"store"`
	Client ClientConfig  `yaml:"client" json:"client"`
	Flight FlightConfig  `yaml:"flight" json:"flight"`
	Log    logger.Config `yaml:"log" json:"log"`
}

// StoreConfig configures the store daemon.
type StoreConfig struct {
	store.Config `yaml:",inline"`

	// NotifyEndpoint is the zmq PUB endpoint for object events, empty disables it
	NotifyEndpoint string `yaml:"notify_endpoint" json:"notify_endpoint"`
	// MetricsAddr serves /metrics when set
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ClientConfig configures store clients.
type ClientConfig struct {
	SocketPath  string        `yaml:"socket_path" json:"socket_path"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	OpTimeout   time.Duration `yaml:"op_timeout" json:"op_timeout"`
	BatchRows   int           `yaml:"batch_rows" json:"batch_rows"`
	Compression string        `yaml:"compression" json:"compression"`
}

// FlightConfig configures the Flight front-end.
type FlightConfig struct {
	flight.Config `yaml:",inline"`

	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the default configuration.
func Default() Config {
	st := store.DefaultConfig()
	return Config{
		Store: StoreConfig{Config: st},
		Client: ClientConfig{
			SocketPath:  st.SocketPath,
			DialTimeout: 5 * time.Second,
			OpTimeout:   10 * time.Second,
			BatchRows:   codec.DefaultBatchRows,
			Compression: "none",
		},
		Flight: FlightConfig{Config: flight.DefaultConfig()},
		Log:    logger.DefaultConfig(),
	}
}

// Validate checks every section and joins the failures.
func (c Config) Validate() error {
	var problems []error
	if err := c.Store.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("store: %w", err))
	}
	if err := c.Client.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("client: %w", err))
	}
	if c.Flight.Enabled && c.Flight.Addr == "" {
		problems = append(problems, errors.New("flight: address is required"))
	}
	if c.Flight.ReadTimeout < 0 {
		problems = append(problems, errors.New("flight: read timeout must not be negative"))
	}
	return errors.Join(problems...)
}

// Validate checks the client section.
func (c ClientConfig) Validate() error {
	if c.SocketPath == "" {
		return errors.New("socket path is required")
	}
	if c.DialTimeout <= 0 || c.OpTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.BatchRows <= 0 {
		return fmt.Errorf("batch rows must be positive, got %d", c.BatchRows)
	}
	if _, err := codec.ParseCompression(c.Compression); err != nil {
		return err
	}
	return nil
}

// Codec builds the codec described by the client section.
func (c ClientConfig) Codec() (*codec.Codec, error) {
	comp, err := codec.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	return codec.New(codec.WithBatchRows(c.BatchRows), codec.WithCompression(comp)), nil
}

// Load reads a YAML file over the defaults. ${VAR} references are replaced
// with environment values before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML into cfg after environment substitution.
func Parse(raw []byte, cfg *Config) error {
	content := substituteEnvVars(string(raw))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted text is not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start
		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
