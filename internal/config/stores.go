package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"order-splitter/internal/model"
)

// Format identifies how a store list document is encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension.
// Anything other than .yaml/.yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// StoreDocument is the externally maintained store list.
//
//	{"version": "v1.0.0", "stores": [{"store_id": "123456", "api_key": "...", "api_secret": "...",
//	  "sku_patterns": "DOD|XYZ", "notification_email": "ops@example.com", "store_name": "Main"}]}
type StoreDocument struct {
	Version string       `json:"version" yaml:"version"`
	Stores  []StoreEntry `json:"stores" yaml:"stores"`
}

// StoreEntry is one store as persisted by the settings UI.
// SKUPatterns is the raw pipe-delimited string.
type StoreEntry struct {
	StoreID           string `json:"store_id" yaml:"store_id"`
	APIKey            string `json:"api_key" yaml:"api_key"`
	APISecret         string `json:"api_secret" yaml:"api_secret"`
	SKUPatterns       string `json:"sku_patterns" yaml:"sku_patterns"`
	NotificationEmail string `json:"notification_email" yaml:"notification_email"`
	StoreName         string `json:"store_name" yaml:"store_name"`
	APIBaseURL        string `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty"`
}

// supportedMajor is the only document major version this build reads.
const supportedMajor = "v1"

// ParseStores decodes and validates a store list document.
func ParseStores(data []byte, format Format) ([]model.StoreConfig, error) {
	var doc StoreDocument

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing store list YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing store list JSON: %w", err)
		}
	}

	return doc.StoreConfigs()
}

// StoreConfigs validates the document and converts each entry.
// An empty document (no version, no stores) yields an empty list.
func (d StoreDocument) StoreConfigs() ([]model.StoreConfig, error) {
	version := d.Version
	if version == "" {
		version = "v1.0.0"
	}
	if !semver.IsValid(version) {
		return nil, fmt.Errorf("store list version %q is not a valid semantic version", d.Version)
	}
	if semver.Major(version) != supportedMajor {
		return nil, fmt.Errorf("store list version %s not supported (want %s.x.y)", version, supportedMajor)
	}

	stores := make([]model.StoreConfig, 0, len(d.Stores))
	seen := make(map[string]bool, len(d.Stores))

	for i, e := range d.Stores {
		id := strings.TrimSpace(e.StoreID)
		switch {
		case id == "":
			return nil, fmt.Errorf("store %d: store_id is required", i)
		case e.APIKey == "":
			return nil, fmt.Errorf("store %s: api_key is required", id)
		case e.APISecret == "":
			return nil, fmt.Errorf("store %s: api_secret is required", id)
		case seen[id]:
			return nil, fmt.Errorf("store %s: duplicate store_id", id)
		}
		seen[id] = true

		stores = append(stores, model.StoreConfig{
			StoreID:           id,
			APIKey:            e.APIKey,
			APISecret:         e.APISecret,
			SKUPatterns:       SplitPatterns(e.SKUPatterns),
			NotificationEmail: strings.TrimSpace(e.NotificationEmail),
			StoreName:         e.StoreName,
			APIBaseURL:        strings.TrimSuffix(e.APIBaseURL, "/"),
		})
	}

	return stores, nil
}

// SplitPatterns turns "DOD| XYZ||" into ["DOD", "XYZ"], keeping order.
func SplitPatterns(raw string) []string {
	var patterns []string
	for _, p := range strings.Split(raw, "|") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// Registry resolves store identifiers to their configuration.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	stores map[string]model.StoreConfig
}

// NewRegistry indexes stores by ID. Later duplicates are rejected.
func NewRegistry(stores []model.StoreConfig) (*Registry, error) {
	r := &Registry{stores: make(map[string]model.StoreConfig, len(stores))}
	for _, s := range stores {
		if _, ok := r.stores[s.StoreID]; ok {
			return nil, fmt.Errorf("duplicate store_id %s", s.StoreID)
		}
		r.stores[s.StoreID] = s
	}
	return r, nil
}

// Get returns the store's configuration or a ConfigNotFound error.
func (r *Registry) Get(storeID string) (model.StoreConfig, error) {
	s, ok := r.stores[storeID]
	if !ok {
		return model.StoreConfig{}, model.NewConfigNotFoundError(storeID)
	}
	return s, nil
}

// All returns a copy of the store mapping.
func (r *Registry) All() map[string]model.StoreConfig {
	out := make(map[string]model.StoreConfig, len(r.stores))
	for id, s := range r.stores {
		out[id] = s
	}
	return out
}

// IDs returns the configured store IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
