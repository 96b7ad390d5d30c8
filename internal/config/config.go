package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration for the support console.
type Config struct {
	APIURL              string `validate:"required,url"`
	StreamURL           string `validate:"omitempty,url"`
	WebURL              string `validate:"omitempty,url"`
	StreamPath          string `validate:"required,startswith=/"`
	StreamEnabled       bool
	Dir                 string        `validate:"required"`
	HTTPTimeout         time.Duration `validate:"gt=0"`
	RoomsInterval       time.Duration `validate:"gt=0"`
	MessagesInterval    time.Duration `validate:"gt=0"`
	PresenceInterval    time.Duration `validate:"gt=0"`
	PresenceConcurrency int           `validate:"gte=1,lte=64"`
	LogLevel            string        `validate:"oneof=trace debug info warn error disabled"`
	LogFile             string
}

// EventStreamURL returns the base URL of the Socket.IO endpoint.
func (c Config) EventStreamURL() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	return c.APIURL
}

// DefaultDir returns ~/.supportdesk.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".supportdesk"), nil
}

// Load reads configuration from SUPPORTDESK_* environment variables, an
// optional .env file in the working directory and an optional config.yaml in
// the config directory. Environment wins over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SUPPORTDESK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("api.url", "http://localhost:5000")
	v.SetDefault("stream.url", "")
	v.SetDefault("web.url", "http://localhost:3000")
	v.SetDefault("stream.path", "/socket.io/")
	v.SetDefault("stream.enabled", true)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("poll.rooms", "30s")
	v.SetDefault("poll.messages", "15s")
	v.SetDefault("poll.presence", "5s")
	v.SetDefault("presence.concurrency", 8)
	v.SetDefault("log.level", "info")

	dir := v.GetString("dir")
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: %w", err)
		}
		dir = d
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config.Load: read config file: %w", err)
		}
	}

	logFile := v.GetString("log.file")
	if logFile == "" {
		logFile = filepath.Join(dir, "supportdesk.log")
	}

	cfg := Config{
		APIURL:              strings.TrimRight(v.GetString("api.url"), "/"),
		StreamURL:           strings.TrimRight(v.GetString("stream.url"), "/"),
		WebURL:              strings.TrimRight(v.GetString("web.url"), "/"),
		StreamPath:          v.GetString("stream.path"),
		StreamEnabled:       v.GetBool("stream.enabled"),
		Dir:                 dir,
		HTTPTimeout:         v.GetDuration("http.timeout"),
		RoomsInterval:       v.GetDuration("poll.rooms"),
		MessagesInterval:    v.GetDuration("poll.messages"),
		PresenceInterval:    v.GetDuration("poll.presence"),
		PresenceConcurrency: v.GetInt("presence.concurrency"),
		LogLevel:            strings.ToLower(v.GetString("log.level")),
		LogFile:             logFile,
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: invalid configuration: %w", err)
	}
	return cfg, nil
}
