// Package watch is the configuration, logging and output plumbing of the
// udevwatch example.
package watch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elemecca/go-udev/devinfo"
)

// Config is the root configuration of udevwatch.
type Config struct {
	// Source is "udev" for processed events or "kernel" for raw ones.
	Source    string         `yaml:"source"`
	Filters   []FilterConfig `yaml:"filters"`
	Enumerate bool           `yaml:"enumerate"`
	Output    OutputConfig   `yaml:"output"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// FilterConfig is one monitor filter: either a subsystem with an optional
// devtype, or a tag.
type FilterConfig struct {
	Subsystem string `yaml:"subsystem"`
	Devtype   string `yaml:"devtype"`
	Tag       string `yaml:"tag"`
}

// OutputConfig controls what is written to stdout.
type OutputConfig struct {
	Format     string `yaml:"format"`
	Attributes bool   `yaml:"attributes"`
}

// MQTTConfig controls event forwarding to a broker.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	// Payload is "json" or "cbor".
	Payload string `yaml:"payload"`
	// Timeout bounds connect and publish, in seconds.
	Timeout int `yaml:"timeout"`
}

// WaitTimeout returns Timeout as a duration.
func (m MQTTConfig) WaitTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Source:    "udev",
		Enumerate: false,
		Output: OutputConfig{
			Format: string(devinfo.FormatText),
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "udevwatch",
			TopicPrefix: "udev",
			QoS:         1,
			Payload:     string(devinfo.FormatJSON),
			Timeout:     10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Overrides are settings from the command line. They win over both the
// file and the environment; zero values leave a setting alone.
type Overrides struct {
	Source  string
	Filters []FilterConfig
	Format  string
	// Enumerate and Attributes are set only when the flag was given.
	Enumerate  *bool
	Attributes *bool
	// MQTTBroker also enables forwarding.
	MQTTBroker string
	LogLevel   string
}

func (o Overrides) apply(cfg *Config) {
	if o.Source != "" {
		cfg.Source = o.Source
	}
	cfg.Filters = append(cfg.Filters, o.Filters...)
	if o.Format != "" {
		cfg.Output.Format = o.Format
	}
	if o.Enumerate != nil {
		cfg.Enumerate = *o.Enumerate
	}
	if o.Attributes != nil {
		cfg.Output.Attributes = *o.Attributes
	}
	if o.MQTTBroker != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = o.MQTTBroker
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and then o, and validates the result once everything is merged. An empty
// path skips the file.
func Load(path string, o Overrides) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	o.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides keeps broker credentials out of config files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UDEVWATCH_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("UDEVWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("UDEVWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("UDEVWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Source != "udev" && c.Source != "kernel" {
		errs = append(errs, `source must be "udev" or "kernel"`)
	}
	for i, f := range c.Filters {
		switch {
		case f.Tag != "" && f.Subsystem != "":
			errs = append(errs, fmt.Sprintf("filters[%d]: set either subsystem or tag, not both", i))
		case f.Tag == "" && f.Subsystem == "":
			errs = append(errs, fmt.Sprintf("filters[%d]: subsystem or tag is required", i))
		case f.Devtype != "" && f.Subsystem == "":
			errs = append(errs, fmt.Sprintf("filters[%d]: devtype requires subsystem", i))
		}
	}
	if _, err := devinfo.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, "output.format must be json, yaml, cbor or text")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Payload != string(devinfo.FormatJSON) && c.MQTT.Payload != string(devinfo.FormatCBOR) {
			errs = append(errs, "mqtt.payload must be json or cbor")
		}
		if c.MQTT.Timeout < 1 {
			errs = append(errs, "mqtt.timeout must be at least 1 second")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseFilter reads the command line form of a filter: "tag:NAME",
// "SUBSYSTEM" or "SUBSYSTEM/DEVTYPE".
func ParseFilter(s string) (FilterConfig, error) {
	if tag, ok := strings.CutPrefix(s, "tag:"); ok {
		if tag == "" {
			return FilterConfig{}, fmt.Errorf("empty tag in filter %q", s)
		}
		return FilterConfig{Tag: tag}, nil
	}
	subsystem, devtype, _ := strings.Cut(s, "/")
	if subsystem == "" {
		return FilterConfig{}, fmt.Errorf("empty subsystem in filter %q", s)
	}
	return FilterConfig{Subsystem: subsystem, Devtype: devtype}, nil
}
