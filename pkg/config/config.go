// Package config loads the observatory device configuration from a YAML
// file: serial line parameters per device, the mount command table and the
// telemetry broker settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"obsctl/pkg/serialport"
)

type Config struct {
	Mount     MountConfig     `yaml:"mount"`
	Focuser   FocuserConfig   `yaml:"focuser"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SerialConfig is the YAML form of a serial line configuration.
type SerialConfig struct {
	Port          string `yaml:"port"`
	BaudRate      int    `yaml:"baud_rate"`
	DataBits      int    `yaml:"data_bits"`
	Parity        string `yaml:"parity"`    // none, odd, even
	StopBits      int    `yaml:"stop_bits"` // 1 or 2
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

type MountConfig struct {
	Serial SerialConfig `yaml:"serial"`

	// Commands overrides tokens of the mount command table, keyed by
	// logical command name.
	Commands map[string]string `yaml:"commands"`
}

type FocuserConfig struct {
	Serial          SerialConfig `yaml:"serial"`
	Number          int          `yaml:"number"`
	MinPosition     int          `yaml:"min_position"`
	MaxPosition     int          `yaml:"max_position"`
	InitialPosition *int         `yaml:"initial_position"`
}

type TelemetryConfig struct {
	Host      string `yaml:"host"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
}

// Load reads and validates the configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Mount.Serial.validate("mount"); err != nil {
		return err
	}
	return c.Focuser.Serial.validate("focuser")
}

// validate checks a declared serial section. A device with no port is
// simply undeclared and skipped by the commands that would need it.
func (s SerialConfig) validate(device string) error {
	if s.Port == "" {
		return nil
	}
	switch s.Parity {
	case "", "none", "odd", "even":
	default:
		return fmt.Errorf("%s: invalid parity %q (want none, odd or even)", device, s.Parity)
	}
	switch s.StopBits {
	case 0, 1, 2:
	default:
		return fmt.Errorf("%s: invalid stop_bits %d (want 1 or 2)", device, s.StopBits)
	}
	return nil
}

// Declared reports whether the serial section names a port.
func (s SerialConfig) Declared() bool {
	return s.Port != ""
}

// ToPort converts the YAML form into the transport configuration.
func (s SerialConfig) ToPort() serialport.Config {
	cfg := serialport.Config{
		Port:        s.Port,
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		ReadTimeout: time.Duration(s.ReadTimeoutMs) * time.Millisecond,
	}

	switch s.Parity {
	case "odd":
		cfg.Parity = serialport.ParityOdd
	case "even":
		cfg.Parity = serialport.ParityEven
	}
	if s.StopBits == 2 {
		cfg.StopBits = serialport.TwoStopBits
	}

	return cfg.Normalize()
}
