// Package config handles loading and validation of service configuration.
// Supports both development (env vars, local files) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"order-splitter/internal/model"
)

// DefaultShipStationBaseURL is used when neither the deployment nor a store overrides it.
const DefaultShipStationBaseURL = "https://ssapi.shipstation.com"

// Config holds all service configuration.
// Environment determines whether the store list loads from STORES_FILE (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject   string
	StoresSecret string

	// Development store list path (.json, .yaml or .yml)
	StoresFile string

	Upstream UpstreamConfig
	Store    StoreBackendConfig
	Queue    QueueConfig
	Notify   NotifyConfig

	// Stores is the validated store list backing the Registry.
	Stores []model.StoreConfig
}

// UpstreamConfig controls the ShipStation client.
type UpstreamConfig struct {
	BaseURL       string
	Transport     string // "default" or "chrome"
	Timeout       time.Duration
	RatePerMinute int
}

// StoreBackendConfig selects the record store.
type StoreBackendConfig struct {
	Backend     string // "memory", "postgres" or "sqlite"
	DatabaseURL string
}

// QueueConfig selects the reconciliation scheduler.
type QueueConfig struct {
	Backend          string // "inprocess" or "redis"
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	Workers          int
	OrderConcurrency int
}

// NotifyConfig selects how special-order notices are delivered.
type NotifyConfig struct {
	Backend  string `json:"backend"` // "log" or "smtp"
	SMTPAddr string `json:"smtp_addr"`
	Username string `json:"smtp_username"`
	Password string `json:"smtp_password"`
	From     string `json:"smtp_from"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars + STORES_FILE / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:         envOrDefault("PORT", "8080"),
		Environment:  envOrDefault("ENVIRONMENT", "development"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		GCPProject:   os.Getenv("GCP_PROJECT"),
		StoresSecret: envOrDefault("STORES_SECRET", "shipstation-stores"),
		StoresFile:   os.Getenv("STORES_FILE"),
		Upstream: UpstreamConfig{
			BaseURL:   envOrDefault("SHIPSTATION_BASE_URL", DefaultShipStationBaseURL),
			Transport: envOrDefault("UPSTREAM_TRANSPORT", "default"),
		},
		Store: StoreBackendConfig{
			Backend:     envOrDefault("STORE_BACKEND", "memory"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Queue: QueueConfig{
			Backend:       envOrDefault("QUEUE_BACKEND", "inprocess"),
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
		},
		Notify: NotifyConfig{
			Backend:  envOrDefault("NOTIFY_BACKEND", "log"),
			SMTPAddr: os.Getenv("SMTP_ADDR"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}

	var err error
	if cfg.Upstream.Timeout, err = envDuration("UPSTREAM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Upstream.RatePerMinute, err = envInt("UPSTREAM_RATE_PER_MINUTE", 40); err != nil {
		return nil, err
	}
	if cfg.Queue.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Queue.Workers, err = envInt("QUEUE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Queue.OrderConcurrency, err = envInt("ORDER_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	// Load the store list based on environment
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadStoresFromSecretManager(ctx)
	} else {
		err = cfg.loadStoresFromFile()
	}
	if err != nil {
		return nil, fmt.Errorf("loading store list: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port             string        `json:"port"`
		Environment      string        `json:"environment"`
		LogLevel         string        `json:"log_level"`
		BaseURL          string        `json:"shipstation_base_url"`
		Transport        string        `json:"upstream_transport"`
		Timeout          string        `json:"upstream_timeout"`
		RatePerMinute    int           `json:"upstream_rate_per_minute"`
		StoreBackend     string        `json:"store_backend"`
		DatabaseURL      string        `json:"database_url"`
		QueueBackend     string        `json:"queue_backend"`
		RedisAddr        string        `json:"redis_addr"`
		RedisPassword    string        `json:"redis_password"`
		RedisDB          int           `json:"redis_db"`
		Workers          int           `json:"queue_workers"`
		OrderConcurrency int           `json:"order_concurrency"`
		Notify           NotifyConfig  `json:"notify"`
		Stores           StoreDocument `json:"stores"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	timeout := 30 * time.Second
	if fileConfig.Timeout != "" {
		if timeout, err = time.ParseDuration(fileConfig.Timeout); err != nil {
			return nil, fmt.Errorf("invalid upstream_timeout: %w", err)
		}
	}

	stores, err := fileConfig.Stores.StoreConfigs()
	if err != nil {
		return nil, err
	}

	notify := fileConfig.Notify
	notify.Backend = withDefault(notify.Backend, "log")

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, "8080"),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		Upstream: UpstreamConfig{
			BaseURL:       withDefault(fileConfig.BaseURL, DefaultShipStationBaseURL),
			Transport:     withDefault(fileConfig.Transport, "default"),
			Timeout:       timeout,
			RatePerMinute: intWithDefault(fileConfig.RatePerMinute, 40),
		},
		Store: StoreBackendConfig{
			Backend:     withDefault(fileConfig.StoreBackend, "memory"),
			DatabaseURL: fileConfig.DatabaseURL,
		},
		Queue: QueueConfig{
			Backend:          withDefault(fileConfig.QueueBackend, "inprocess"),
			RedisAddr:        fileConfig.RedisAddr,
			RedisPassword:    fileConfig.RedisPassword,
			RedisDB:          fileConfig.RedisDB,
			Workers:          intWithDefault(fileConfig.Workers, 4),
			OrderConcurrency: intWithDefault(fileConfig.OrderConcurrency, 4),
		},
		Notify: notify,
		Stores: stores,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadStoresFromSecretManager fetches the store list from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{stores_secret}/versions/latest
func (c *Config) loadStoresFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoresSecret)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	c.Stores, err = ParseStores(result.Payload.Data, FormatJSON)
	return err
}

// loadStoresFromFile reads the store list named by STORES_FILE.
// An unset STORES_FILE leaves the registry empty; every webhook then resolves to an unknown store.
func (c *Config) loadStoresFromFile() error {
	if c.StoresFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.StoresFile)
	if err != nil {
		return fmt.Errorf("reading stores file: %w", err)
	}

	c.Stores, err = ParseStores(data, FormatFromPath(c.StoresFile))
	return err
}

// validate checks backend selections and the settings each backend requires.
func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("invalid shipstation base URL: %w", err)
	}
	if c.Upstream.RatePerMinute < 0 {
		return fmt.Errorf("upstream rate per minute must not be negative")
	}

	switch c.Upstream.Transport {
	case "default", "chrome":
	default:
		return fmt.Errorf("unknown upstream transport %q (default or chrome)", c.Upstream.Transport)
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for %s store backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q (memory, postgres or sqlite)", c.Store.Backend)
	}

	switch c.Queue.Backend {
	case "inprocess":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q (inprocess or redis)", c.Queue.Backend)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be at least 1")
	}
	if c.Queue.OrderConcurrency < 1 {
		return fmt.Errorf("order concurrency must be at least 1")
	}

	switch c.Notify.Backend {
	case "log":
	case "smtp":
		if c.Notify.SMTPAddr == "" || c.Notify.From == "" {
			return fmt.Errorf("SMTP_ADDR and SMTP_FROM are required for smtp notify backend")
		}
	default:
		return fmt.Errorf("unknown notify backend %q (log or smtp)", c.Notify.Backend)
	}

	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func intWithDefault(val, defaultVal int) int {
	if val != 0 {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
