// Package config loads service settings from the environment. An optional
// .env file in the working directory is read first; real environment
// variables always take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable of the session service.
type Config struct {
	ListenAddr string

	SessionTTL    time.Duration
	SingleUse     bool
	SweepInterval time.Duration // memory backend only, 0 disables

	RedisURL         string // empty selects the in-memory backend
	RedisDialTimeout time.Duration

	AllowedOrigins  []string // empty means any origin
	TrustedProxies  []string // proxies whose X-Forwarded-For is honoured
	MaxPayloadBytes int64
	CreateRateLimit int // per client IP per minute, 0 disables

	NATSURL string // empty disables lifecycle events
	GinMode string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":5000")
	v.SetDefault("SESSION_TTL_SECONDS", 600)
	v.SetDefault("SESSION_SINGLE_USE", true)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "0s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "2s")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("MAX_PAYLOAD_BYTES", 1<<20)
	v.SetDefault("RATE_LIMIT_CREATE", 30)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("GIN_MODE", "release")
}

// Load reads the configuration. envFiles are optional dotenv files; missing
// files are ignored.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	sweep, err := duration(v, "SESSION_SWEEP_INTERVAL")
	if err != nil {
		return Config{}, err
	}
	dial, err := duration(v, "REDIS_DIAL_TIMEOUT")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		SessionTTL:       time.Duration(v.GetInt("SESSION_TTL_SECONDS")) * time.Second,
		SingleUse:        v.GetBool("SESSION_SINGLE_USE"),
		SweepInterval:    sweep,
		RedisURL:         strings.TrimSpace(v.GetString("REDIS_URL")),
		RedisDialTimeout: dial,
		AllowedOrigins:   splitList(v.GetString("ALLOWED_ORIGINS")),
		TrustedProxies:   splitList(v.GetString("TRUSTED_PROXIES")),
		MaxPayloadBytes:  v.GetInt64("MAX_PAYLOAD_BYTES"),
		CreateRateLimit:  v.GetInt("RATE_LIMIT_CREATE"),
		NATSURL:          strings.TrimSpace(v.GetString("NATS_URL")),
		GinMode:          v.GetString("GIN_MODE"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL_SECONDS must be positive")
	}
	if c.SweepInterval < 0 {
		return errors.New("SESSION_SWEEP_INTERVAL must not be negative")
	}
	if c.SweepInterval > 0 && c.SweepInterval < minDuration {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be 0 or at least %s", minDuration)
	}
	if c.RedisDialTimeout < minDuration {
		return fmt.Errorf("REDIS_DIAL_TIMEOUT must be at least %s", minDuration)
	}
	if c.MaxPayloadBytes <= 0 {
		return errors.New("MAX_PAYLOAD_BYTES must be positive")
	}
	if c.CreateRateLimit < 0 {
		return errors.New("RATE_LIMIT_CREATE must not be negative")
	}
	for _, o := range c.AllowedOrigins {
		if !validOrigin(o) {
			return fmt.Errorf("ALLOWED_ORIGINS: invalid origin %q", o)
		}
	}
	return nil
}

var originSchemes = []string{
	"http://", "https://",
	"chrome-extension://", "moz-extension://", "safari-extension://", "ms-browser-extension://",
}

func validOrigin(o string) bool {
	if o == "*" {
		return true
	}
	for _, scheme := range originSchemes {
		if strings.HasPrefix(o, scheme) && len(o) > len(scheme) {
			return true
		}
	}
	return false
}

// minDuration is the smallest accepted value for the interval settings.
const minDuration = time.Second

// duration reads key as either a Go duration ("30s", "1m") or a plain
// number of seconds ("30").
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q", key, raw)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
