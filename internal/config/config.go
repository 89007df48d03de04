package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither PORT nor the configuration file names a port.
const DefaultPort = 8000

// DevModeEnv selects the runtime environment; unset or "development" means dev mode.
const DevModeEnv = "SERVICES_ENV"

var ErrInvalidPort = errors.New("invalid port")

// Config is the process configuration consumed by the server bootstrap.
type Config struct {
	Services Services `yaml:"services"`

	// EnvPort holds the PORT environment value, it takes priority over Services.Listen.Port.
	EnvPort string `yaml:"-"`
}

type Services struct {
	Listen          Listen        `yaml:"listen"`
	HTTPS           HTTPS         `yaml:"https"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Listen struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type HTTPS struct {
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"privateKey"`
}

// Load reads a YAML configuration file. An empty path returns an empty config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Port resolves the listen port: PORT env, then services.listen.port, then DefaultPort.
func (c *Config) Port() (int, error) {
	if c.EnvPort != "" {
		port, err := strconv.Atoi(c.EnvPort)
		if err != nil || port < 0 || port > 65535 {
			return 0, fmt.Errorf("%w: PORT=%q", ErrInvalidPort, c.EnvPort)
		}
		return port, nil
	}

	if c.Services.Listen.Port != 0 {
		if c.Services.Listen.Port < 0 || c.Services.Listen.Port > 65535 {
			return 0, fmt.Errorf("%w: services.listen.port=%d", ErrInvalidPort, c.Services.Listen.Port)
		}
		return c.Services.Listen.Port, nil
	}

	return DefaultPort, nil
}

// TLSEnabled reports whether both a certificate and a private key are configured.
func (c *Config) TLSEnabled() bool {
	return c.Services.HTTPS.Certificate != "" && c.Services.HTTPS.PrivateKey != ""
}

// IsDevMode reports whether the process runs in development mode.
func IsDevMode(getenv func(string) string) bool {
	env := getenv(DevModeEnv)
	return env == "" || env == "development"
}
