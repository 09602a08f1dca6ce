package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string     `yaml:"env"`
	DebugEvents *bool      `yaml:"debug_events"`
	AMI         AMIConfig  `yaml:"ami"`
	HTTP        HTTPConfig `yaml:"http"`
	Log         LogConfig  `yaml:"log"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

type AMIConfig struct {
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	Username    string          `yaml:"username"`
	Secret      string          `yaml:"secret"`
	DialTimeout time.Duration   `yaml:"dial_timeout"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

type HTTPConfig struct {
	Port        int      `yaml:"port"`
	StaticDir   string   `yaml:"static_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func (c *AMIConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Addr is the HTTP listen address.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Debug reports whether raw events are mirrored to dashboards.
func (c *Config) Debug() bool {
	if c.DebugEvents != nil {
		return *c.DebugEvents
	}
	return !c.Production()
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{
		Env: EnvDevelopment,
		AMI: AMIConfig{
			Host:        "127.0.0.1",
			Port:        5038,
			DialTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				Initial: time.Second,
				Max:     30 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			Port: 3000,
		},
		Log: LogConfig{
			Format: "console",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "asterisk-dashboard",
			TopicPrefix: "asterisk",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
		if cfg.Production() {
			cfg.Log.Level = "info"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", key, v)
		}
		*dst = n
		return nil
	}

	str("APP_ENV", &c.Env)
	str("AMI_HOST", &c.AMI.Host)
	if err := num("AMI_PORT", &c.AMI.Port); err != nil {
		return err
	}
	str("AMI_USER", &c.AMI.Username)
	str("AMI_PASS", &c.AMI.Secret)
	if err := num("PORT", &c.HTTP.Port); err != nil {
		return err
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STATIC_DIR", &c.HTTP.StaticDir)

	if v, ok := lookup("DEBUG_EVENTS"); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG_EVENTS must be a boolean, got %q", v)
		}
		c.DebugEvents = &on
	}
	if v, ok := lookup("MQTT_BROKER"); ok && v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	return nil
}

func (c *Config) validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.AMI.Host == "" {
		return fmt.Errorf("ami.host is required")
	}
	if c.AMI.Port < 1 || c.AMI.Port > 65535 {
		return fmt.Errorf("ami.port must be between 1 and 65535, got %d", c.AMI.Port)
	}
	if c.AMI.Username == "" {
		return fmt.Errorf("ami.username is required")
	}
	if c.AMI.Secret == "" {
		return fmt.Errorf("ami.secret is required")
	}
	if c.AMI.Reconnect.Initial <= 0 || c.AMI.Reconnect.Max < c.AMI.Reconnect.Initial {
		return fmt.Errorf("ami.reconnect must satisfy 0 < initial <= max, got %s..%s", c.AMI.Reconnect.Initial, c.AMI.Reconnect.Max)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required")
		}
	}
	return nil
}
