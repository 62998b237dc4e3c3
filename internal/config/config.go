// Package config loads the gateway's environment knobs, following the same
// getEnv/getEnvAsInt-with-defaults shape the rest of the pack uses, plus
// godotenv for local .env loading.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds every environment-derived setting §6 names.
type Config struct {
	Redis    RedisConfig
	Upstream UpstreamConfig
	Bank     BankConfig
	Timezone string
	HTTPAddr string
	MenuDir  string
}

// RedisConfig configures the KV adapter.
type RedisConfig struct {
	Host          string
	Port          string
	Password      string
	TTL           time.Duration
	SessionPrefix string
}

// Addr returns host:port for go-redis.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// UpstreamConfig configures the core-banking HTTP client.
type UpstreamConfig struct {
	APIURL         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// BankConfig carries the identifiers every outbound request needs.
type BankConfig struct {
	ID        string
	Name      string
	Shortcode string
	Country   string
	TrxSource string
}

// Load reads a local .env (if present, silently skipped otherwise) then the
// process environment, applying the defaults §6 documents.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnv("REDIS_PORT", "6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			TTL:           time.Duration(getEnvAsInt("REDIS_TTL", 300)) * time.Second,
			SessionPrefix: getEnv("REDIS_SESSION_PREFIX", "ussd:session"),
		},
		Upstream: UpstreamConfig{
			APIURL:         getEnv("ELMA_API_URL", ""),
			Timeout:        time.Duration(getEnvAsInt("API_TIMEOUT", 25000)) * time.Millisecond,
			ConnectTimeout: time.Duration(getEnvAsInt("API_CONNECT_TIMEOUT", 15000)) * time.Millisecond,
		},
		Bank: BankConfig{
			ID:        getEnv("BANK_ID", ""),
			Name:      getEnv("BANK_NAME", ""),
			Shortcode: getEnv("ELMA_SHORTCODE", ""),
			Country:   getEnv("COUNTRY", "KE"),
			TrxSource: getEnv("TRX_SOURCE", "USSD"),
		},
		Timezone: getEnv("TIMEZONE", "Africa/Nairobi"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		MenuDir:  getEnv("MENU_DIR", "config/menus"),
	}
	if cfg.Upstream.APIURL == "" {
		return nil, errors.New("config: ELMA_API_URL is required")
	}
	return cfg, nil
}

// Location resolves Timezone to a *time.Location, falling back to UTC with
// an error the caller should log rather than treat as fatal.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, errors.Wrapf(err, "load timezone %s", c.Timezone)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
