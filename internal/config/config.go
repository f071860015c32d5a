package config

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string         `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Events   EventsConfig   `yaml:"events"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN" env-default:""`
}

type AuthConfig struct {
	Secret string `yaml:"secret" env:"AUTH_SECRET" env-default:""`
}

type RealtimeConfig struct {
	CallRingTimeout time.Duration `yaml:"call_ring_timeout" env:"CALL_RING_TIMEOUT" env-default:"30s"`
	CollabDebounce  time.Duration `yaml:"collab_debounce" env:"COLLAB_DEBOUNCE" env-default:"5s"`
}

type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AMQP_URL" env-default:""`
	Exchange string `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"kestrel.events"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Realtime.CallRingTimeout <= 0 {
		c.Realtime.CallRingTimeout = 30 * time.Second
	}
	if c.Realtime.CollabDebounce <= 0 {
		c.Realtime.CollabDebounce = 5 * time.Second
	}
	if c.Env == "local" && c.Auth.Secret == "" {
		c.Auth.Secret = "local-secret-change-me"
	}
}

// Validate rejects configurations that would silently break token
// verification outside the local environment.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required")
	}
	if c.Env != "local" && c.Auth.Secret == "local-secret-change-me" {
		return errors.New("default auth secret is not allowed outside local env")
	}
	return nil
}
