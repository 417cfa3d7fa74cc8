package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the collaboration service settings.
type Config struct {
	Port            string
	RedisAddr       string
	PresenceChannel string
	AllowedOrigins  []string
	EventBuffer     int
	SendBuffer      int
	MaxMessageBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration
	StatsSchedule   string
	LogLevel        string
}

// fileConfig mirrors Config for the optional YAML file; durations are strings.
type fileConfig struct {
	Port            string   `yaml:"port"`
	RedisAddr       string   `yaml:"redis_addr"`
	PresenceChannel string   `yaml:"presence_channel"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	EventBuffer     int      `yaml:"event_buffer"`
	SendBuffer      int      `yaml:"send_buffer"`
	MaxMessageBytes *int64   `yaml:"max_message_bytes"`
	WriteWait       string   `yaml:"write_wait"`
	PongWait        string   `yaml:"pong_wait"`
	StatsSchedule   *string  `yaml:"stats_schedule"`
	LogLevel        string   `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Port:            "8080",
		PresenceChannel: "script_presence",
		AllowedOrigins:  []string{"*"},
		EventBuffer:     1024,
		SendBuffer:      256,
		MaxMessageBytes: 4 << 20,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		StatsSchedule:   "@every 1m",
		LogLevel:        "info",
	}
}

// LoadConfig reads defaults, then the YAML file named by COLLAB_CONFIG (if set), then
// environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("COLLAB_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.PresenceChannel, fc.PresenceChannel)
	setString(&c.LogLevel, fc.LogLevel)
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.EventBuffer != 0 {
		c.EventBuffer = fc.EventBuffer
	}
	if fc.SendBuffer != 0 {
		c.SendBuffer = fc.SendBuffer
	}
	if fc.MaxMessageBytes != nil {
		c.MaxMessageBytes = *fc.MaxMessageBytes
	}
	if fc.StatsSchedule != nil {
		c.StatsSchedule = *fc.StatsSchedule
	}
	if err := setDuration(&c.WriteWait, "write_wait", fc.WriteWait); err != nil {
		return err
	}
	return setDuration(&c.PongWait, "pong_wait", fc.PongWait)
}

func (c *Config) loadEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&c.PresenceChannel, os.Getenv("PRESENCE_CHANNEL"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	if v, ok := os.LookupEnv("STATS_SCHEDULE"); ok {
		c.StatsSchedule = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	var err error
	if c.EventBuffer, err = getEnvInt("EVENT_BUFFER", c.EventBuffer); err != nil {
		return err
	}
	if c.SendBuffer, err = getEnvInt("SEND_BUFFER", c.SendBuffer); err != nil {
		return err
	}
	maxBytes, err := getEnvInt("MAX_MESSAGE_BYTES", int(c.MaxMessageBytes))
	if err != nil {
		return err
	}
	c.MaxMessageBytes = int64(maxBytes)
	if err := setDuration(&c.WriteWait, "WRITE_WAIT", os.Getenv("WRITE_WAIT")); err != nil {
		return err
	}
	return setDuration(&c.PongWait, "PONG_WAIT", os.Getenv("PONG_WAIT"))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must be set"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event buffer must be positive, got %d", c.EventBuffer))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	if c.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("max message bytes must not be negative, got %d", c.MaxMessageBytes))
	}
	if c.WriteWait <= 0 {
		errs = append(errs, fmt.Errorf("write wait must be positive, got %s", c.WriteWait))
	}
	if c.PongWait <= 0 {
		errs = append(errs, fmt.Errorf("pong wait must be positive, got %s", c.PongWait))
	}
	if c.RedisAddr != "" && c.PresenceChannel == "" {
		errs = append(errs, errors.New("presence channel must be set when redis is configured"))
	}
	return errors.Join(errs...)
}

// OriginAllowed reports whether a websocket Origin header is acceptable.
func (c *Config) OriginAllowed(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return origin == ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return i, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
