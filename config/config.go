package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

/* Config is read from relay.yaml and RELAY_ prefixed environment variables
 * Environment wins over the file, nested keys use "_" (RELAY_REMOTE_BASE_URL)
 */
type Config struct {
	Port             string        `mapstructure:"port" validate:"required,numeric"`
	LogLevel         string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	WebhookKey       string        `mapstructure:"webhook_key"`
	DestinationsFile string        `mapstructure:"destinations_file" validate:"required"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"min=0"`
	AutoPauseTimeout time.Duration `mapstructure:"auto_pause_timeout" validate:"min=0"`
	Remote           Remote        `mapstructure:"remote"`
	Push             Push          `mapstructure:"push"`
	Redis            Redis         `mapstructure:"redis"`
	Observability    Observability `mapstructure:"observability"`
}

// Remote selects the source of truth for events and requests
type Remote struct {
	Mode    string `mapstructure:"mode" validate:"oneof=rest postgres"`
	BaseURL string `mapstructure:"base_url" validate:"required_if=Mode rest,omitempty,url"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Mode postgres"`
	Token   string `mapstructure:"token"`
}

// Push selects the realtime transport, none runs on polling alone
type Push struct {
	Mode string `mapstructure:"mode" validate:"oneof=ws pgnotify none"`
	URL  string `mapstructure:"url" validate:"required_if=Mode ws,omitempty,url"`
}

// Redis configures the origin payload cache, disabled when Addr is empty
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// Observability configures tracing, disabled when TracingURL is empty
type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url"`
}

var keys = []string{
	"port", "log_level", "webhook_key", "destinations_file", "poll_interval", "auto_pause_timeout",
	"remote.mode", "remote.base_url", "remote.dsn", "remote.token",
	"push.mode", "push.url",
	"redis.addr", "redis.password", "redis.db", "redis.ttl",
	"observability.service_name", "observability.tracing_url",
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("destinations_file", "destinations.yaml")
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("auto_pause_timeout", 10*time.Minute)
	v.SetDefault("remote.mode", "rest")
	v.SetDefault("push.mode", "none")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("observability.service_name", "webhook-relay")
}

/* GetConfig loads the configuration
 * path points at a YAML file, empty means relay.yaml in the working directory when present
 */
func GetConfig(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("binding %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and the rules that span sections
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Push.Mode == "pgnotify" && c.Remote.DSN == "" {
		return errors.New("invalid configuration: push mode pgnotify requires remote.dsn")
	}
	return nil
}
