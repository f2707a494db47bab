package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/durastep/pkg/stores"
	"github.com/openfroyo/durastep/pkg/telemetry"
	"github.com/openfroyo/durastep/pkg/washing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DURASTEP_"

// DefaultYAML is written by `durastep config init`.
const DefaultYAML = `# durastep configuration
server:
  address: localhost:9000
  shutdown_timeout: 10s

# kind: sqlite or memory
storage:
  kind: sqlite
  path: durastep.db

# Simulated washing cycle. Delays and failure_rate are reloaded while
# the server runs; timeouts apply on the next start.
simulation:
  fill_delay: 1s
  wash_delay: 2s
  rinse_delay: 1500ms
  spin_delay: 1s
  failure_rate: 0
  step_timeout: 1m
  cycle_timeout: 2m

telemetry:
  logging:
    level: info
    format: console
`

// Config is the root durastep configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Simulation SimulationConfig `yaml:"simulation"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Kind string `yaml:"kind" validate:"oneof=sqlite memory"`
	Path string `yaml:"path" validate:"required_if=Kind sqlite"`
}

// SimulationConfig mirrors washing.Settings in file form.
type SimulationConfig struct {
	FillDelay    time.Duration `yaml:"fill_delay" validate:"gte=0"`
	WashDelay    time.Duration `yaml:"wash_delay" validate:"gte=0"`
	RinseDelay   time.Duration `yaml:"rinse_delay" validate:"gte=0"`
	SpinDelay    time.Duration `yaml:"spin_delay" validate:"gte=0"`
	FailureRate  float64       `yaml:"failure_rate" validate:"gte=0,lte=1"`
	StepTimeout  time.Duration `yaml:"step_timeout" validate:"gt=0"`
	CycleTimeout time.Duration `yaml:"cycle_timeout" validate:"gt=0"`
}

// Settings converts the section into washing settings.
func (s SimulationConfig) Settings() washing.Settings {
	return washing.Settings{
		FillDelay:    s.FillDelay,
		WashDelay:    s.WashDelay,
		RinseDelay:   s.RinseDelay,
		SpinDelay:    s.SpinDelay,
		FailureRate:  s.FailureRate,
		StepTimeout:  s.StepTimeout,
		CycleTimeout: s.CycleTimeout,
	}
}

// StoreKind returns the storage kind understood by stores.Open.
func (s StorageConfig) StoreKind() stores.Kind {
	return stores.Kind(s.Kind)
}

// StoreConfig returns the stores configuration for this section.
func (s StorageConfig) StoreConfig() stores.Config {
	return stores.Config{Path: s.Path}
}

// Default returns the built-in configuration.
func Default() *Config {
	sim := washing.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			Address:         "localhost:9000",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Kind: string(stores.KindSQLite),
			Path: "durastep.db",
		},
		Simulation: SimulationConfig{
			FillDelay:    sim.FillDelay,
			WashDelay:    sim.WashDelay,
			RinseDelay:   sim.RinseDelay,
			SpinDelay:    sim.SpinDelay,
			FailureRate:  sim.FailureRate,
			StepTimeout:  sim.StepTimeout,
			CycleTimeout: sim.CycleTimeout,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %s", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode checks data against the configuration schema and merges it into cfg.
func Decode(data []byte, cfg *Config) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := defaultRegistry.ValidateAgainstSchema(ConfigSchema, doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from DURASTEP_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "LISTEN_ADDR"); ok {
		c.Server.Address = v
	}
	if v, ok := lookup(EnvPrefix + "STORAGE"); ok {
		c.Storage.Kind = v
	}
	if v, ok := lookup(EnvPrefix + "DB_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.Telemetry.Logging.Level = v
	}
	if v, ok := lookup(EnvPrefix + "FAILURE_RATE"); ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sFAILURE_RATE %q: %w", EnvPrefix, v, err)
		}
		c.Simulation.FailureRate = rate
	}
	return nil
}

// WriteDefault writes DefaultYAML to path unless a file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(DefaultYAML), 0o644)
}
