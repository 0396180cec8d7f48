package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"order-splitter/internal/model"
)

// clearEnv unsets every variable Load reads so tests don't see the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT", "STORES_SECRET", "STORES_FILE",
		"SHIPSTATION_BASE_URL", "UPSTREAM_TRANSPORT", "UPSTREAM_TIMEOUT", "UPSTREAM_RATE_PER_MINUTE",
		"STORE_BACKEND", "DATABASE_URL", "QUEUE_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"QUEUE_WORKERS", "ORDER_CONCURRENCY", "NOTIFY_BACKEND", "SMTP_ADDR", "SMTP_USERNAME",
		"SMTP_PASSWORD", "SMTP_FROM",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const storesJSON = `{
	"version": "v1.2.0",
	"stores": [
		{"store_id": "123456", "api_key": "key", "api_secret": "secret",
		 "sku_patterns": "DOD|XYZ", "notification_email": "ops@example.com", "store_name": "Main Store"},
		{"store_id": "777", "api_key": "k2", "api_secret": "s2", "sku_patterns": ""}
	]
}`

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")
	t.Setenv("UPSTREAM_RATE_PER_MINUTE", "120")
	t.Setenv("QUEUE_WORKERS", "2")
	t.Setenv("STORES_FILE", writeFile(t, "stores.json", storesJSON))

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Upstream.BaseURL != DefaultShipStationBaseURL {
		t.Errorf("BaseURL = %s, want %s", cfg.Upstream.BaseURL, DefaultShipStationBaseURL)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Upstream.Timeout)
	}
	if cfg.Upstream.RatePerMinute != 120 {
		t.Errorf("RatePerMinute = %d, want 120", cfg.Upstream.RatePerMinute)
	}
	if cfg.Queue.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Queue.Workers)
	}
	if cfg.Queue.OrderConcurrency != 4 {
		t.Errorf("OrderConcurrency = %d, want 4", cfg.Queue.OrderConcurrency)
	}
	if cfg.Store.Backend != "memory" || cfg.Queue.Backend != "inprocess" || cfg.Notify.Backend != "log" {
		t.Errorf("backends = %s/%s/%s, want memory/inprocess/log",
			cfg.Store.Backend, cfg.Queue.Backend, cfg.Notify.Backend)
	}

	if len(cfg.Stores) != 2 {
		t.Fatalf("Stores len = %d, want 2", len(cfg.Stores))
	}
	first := cfg.Stores[0]
	if first.StoreName != "Main Store" || first.NotificationEmail != "ops@example.com" {
		t.Errorf("store = %+v", first)
	}
	if strings.Join(first.SKUPatterns, ",") != "DOD,XYZ" {
		t.Errorf("SKUPatterns = %v, want [DOD XYZ]", first.SKUPatterns)
	}
	if len(cfg.Stores[1].SKUPatterns) != 0 {
		t.Errorf("empty sku_patterns should yield no patterns, got %v", cfg.Stores[1].SKUPatterns)
	}
}

func TestLoadWithoutStoresFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Stores) != 0 {
		t.Errorf("Stores len = %d, want 0", len(cfg.Stores))
	}
}

func TestLoadProductionRequiresProject(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "GCP_PROJECT") {
		t.Errorf("error = %v, want GCP_PROJECT error", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without DATABASE_URL",
			env:     map[string]string{"STORE_BACKEND": "postgres"},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "unknown store backend",
			env:     map[string]string{"STORE_BACKEND": "mongo"},
			wantErr: "unknown store backend",
		},
		{
			name:    "redis without REDIS_ADDR",
			env:     map[string]string{"QUEUE_BACKEND": "redis"},
			wantErr: "REDIS_ADDR is required",
		},
		{
			name:    "smtp without from",
			env:     map[string]string{"NOTIFY_BACKEND": "smtp", "SMTP_ADDR": "localhost:25"},
			wantErr: "SMTP_FROM are required",
		},
		{
			name:    "unknown transport",
			env:     map[string]string{"UPSTREAM_TRANSPORT": "firefox"},
			wantErr: "unknown upstream transport",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"UPSTREAM_TIMEOUT": "soon"},
			wantErr: "parsing UPSTREAM_TIMEOUT",
		},
		{
			name:    "zero workers",
			env:     map[string]string{"QUEUE_WORKERS": "0"},
			wantErr: "queue workers must be at least 1",
		},
		{
			name:    "relative base URL",
			env:     map[string]string{"SHIPSTATION_BASE_URL": "ssapi"},
			wantErr: "invalid shipstation base URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeFile(t, "config.json", `{
		"port": "7070",
		"store_backend": "sqlite",
		"database_url": "file:ledger.db",
		"upstream_timeout": "10s",
		"notify": {"backend": "smtp", "smtp_addr": "mail:25", "smtp_from": "noreply@example.com"},
		"stores": `+storesJSON+`
	}`))

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Port)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.DatabaseURL != "file:ledger.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Upstream.Timeout)
	}
	if cfg.Upstream.RatePerMinute != 40 {
		t.Errorf("RatePerMinute = %d, want default 40", cfg.Upstream.RatePerMinute)
	}
	if cfg.Notify.SMTPAddr != "mail:25" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if len(cfg.Stores) != 2 {
		t.Errorf("Stores len = %d, want 2", len(cfg.Stores))
	}
}

func TestParseStoresYAML(t *testing.T) {
	doc := `
version: v1.0.3
stores:
  - store_id: "123456"
    api_key: key
    api_secret: secret
    sku_patterns: " DOD | XYZ |"
    notification_email: ops@example.com
    store_name: Main Store
    api_base_url: https://ssapi.example.test/
`
	stores, err := ParseStores([]byte(doc), FormatFromPath("stores.yml"))
	if err != nil {
		t.Fatalf("ParseStores() error: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("stores = %d, want 1", len(stores))
	}
	s := stores[0]
	if strings.Join(s.SKUPatterns, ",") != "DOD,XYZ" {
		t.Errorf("SKUPatterns = %q, want [DOD XYZ]", s.SKUPatterns)
	}
	if s.APIBaseURL != "https://ssapi.example.test" {
		t.Errorf("APIBaseURL = %s, want trailing slash trimmed", s.APIBaseURL)
	}
}

func TestParseStoresErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"bad json", `{`, "parsing store list JSON"},
		{"invalid version", `{"version": "1.0"}`, "not a valid semantic version"},
		{"future major", `{"version": "v2.0.0"}`, "not supported"},
		{"missing store_id", `{"stores": [{"api_key": "k", "api_secret": "s"}]}`, "store_id is required"},
		{"missing api_key", `{"stores": [{"store_id": "1", "api_secret": "s"}]}`, "api_key is required"},
		{"missing api_secret", `{"stores": [{"store_id": "1", "api_key": "k"}]}`, "api_secret is required"},
		{
			"duplicate",
			`{"stores": [{"store_id": "1", "api_key": "k", "api_secret": "s"},
			             {"store_id": "1", "api_key": "k", "api_secret": "s"}]}`,
			"duplicate store_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStores([]byte(tt.doc), FormatJSON)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSplitPatterns(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"DOD|XYZ", "DOD,XYZ"},
		{"DOD", "DOD"},
		{"", ""},
		{"|", ""},
		{" A | | B ", "A,B"},
		{"B|A", "B,A"},
	}

	for _, tt := range tests {
		if got := strings.Join(SplitPatterns(tt.raw), ","); got != tt.want {
			t.Errorf("SplitPatterns(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]model.StoreConfig{
		{StoreID: "1", StoreName: "One"},
		{StoreID: "2", StoreName: "Two"},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	got, err := reg.Get("2")
	if err != nil {
		t.Fatalf("Get(2) error: %v", err)
	}
	if got.StoreName != "Two" {
		t.Errorf("StoreName = %s, want Two", got.StoreName)
	}

	_, err = reg.Get("3")
	if !errors.Is(err, model.ErrConfigNotFound) {
		t.Errorf("Get(3) error = %v, want ErrConfigNotFound", err)
	}

	all := reg.All()
	delete(all, "1")
	if _, err := reg.Get("1"); err != nil {
		t.Error("All() must return a copy")
	}

	if ids := strings.Join(reg.IDs(), ","); ids != "1,2" {
		t.Errorf("IDs() = %s, want 1,2", ids)
	}

	if _, err := NewRegistry([]model.StoreConfig{{StoreID: "1"}, {StoreID: "1"}}); err == nil {
		t.Error("expected duplicate store error")
	}
}
