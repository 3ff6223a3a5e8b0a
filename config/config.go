// Package config loads the platform configuration: layered JSON files merged
// over defaults, then environment overrides. Secrets (NATS password, device
// shared secrets) are never logged; String redacts them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/BIGmindz/chainbridge/device"
	"github.com/BIGmindz/chainbridge/geofence"
)

// Config is the complete application configuration.
type Config struct {
	Platform  PlatformConfig  `json:"platform"`
	NATS      NATSConfig      `json:"nats"`
	Ingestion IngestionConfig `json:"ingestion"`
	Router    RouterConfig    `json:"router"`
	Gateway   GatewayConfig   `json:"gateway"`
	Metrics   MetricsConfig   `json:"metrics"`

	Geofences []geofence.Definition `json:"geofences,omitempty"`
	Devices   []device.Profile      `json:"devices,omitempty"`
}

// PlatformConfig identifies the deployment.
type PlatformConfig struct {
	Org         string `json:"org"`
	ID          string `json:"id"`
	Environment string `json:"environment,omitempty"`
}

// NATSConfig defines the dashboard broker connection.
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// IngestionConfig tunes the ChainSense pipeline.
type IngestionConfig struct {
	// BaselineEnter makes a device's first inside reading emit ENTER instead
	// of silently establishing a baseline.
	BaselineEnter bool `json:"baseline_enter"`
	// MaxSpeedMPS is the implied-speed anomaly ceiling; 0 selects the default.
	MaxSpeedMPS float64 `json:"max_speed_mps,omitempty"`
}

// RouterConfig tunes event routing.
type RouterConfig struct {
	DedupTTL            time.Duration `json:"dedup_ttl,omitempty"`
	DedupMaxSize        int           `json:"dedup_max_size,omitempty"`
	CollaboratorTimeout time.Duration `json:"collaborator_timeout,omitempty"`
	DeadLetterMaxSize   int           `json:"dead_letter_max_size,omitempty"`
}

// GatewayConfig defines the HTTP listener.
type GatewayConfig struct {
	Addr string `json:"addr,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"`
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if c.Ingestion.MaxSpeedMPS < 0 {
		return fmt.Errorf("ingestion.max_speed_mps must be non-negative, got %v", c.Ingestion.MaxSpeedMPS)
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for _, profile := range c.Devices {
		if profile.DeviceID == "" {
			return errors.New("device profile missing device_id")
		}
		if profile.SharedSecret == "" {
			return fmt.Errorf("device %s missing shared_secret", profile.DeviceID)
		}
		if _, dup := seen[profile.DeviceID]; dup {
			return fmt.Errorf("duplicate device profile %s", profile.DeviceID)
		}
		seen[profile.DeviceID] = struct{}{}
	}

	for _, def := range c.Geofences {
		if def.ID == "" {
			return errors.New("geofence definition missing geofence_id")
		}
		if len(def.Polygons) == 0 {
			return fmt.Errorf("geofence %s has no polygons", def.ID)
		}
	}
	return nil
}

// String returns the configuration as indented JSON with secrets redacted.
func (c *Config) String() string {
	clone := *c
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[REDACTED]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[REDACTED]"
	}
	clone.Devices = make([]device.Profile, len(c.Devices))
	for i, profile := range c.Devices {
		profile.SharedSecret = "[REDACTED]"
		clone.Devices[i] = profile
	}

	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Loader loads configuration layers and applies environment overrides.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the CHAINBRIDGE env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "CHAINBRIDGE"}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads a single configuration file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over the defaults, applies environment overrides,
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Platform: PlatformConfig{
			Org:         "chainbridge",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Ingestion: IngestionConfig{
			BaselineEnter: false,
		},
		Router: RouterConfig{
			DedupTTL:            10 * time.Minute,
			DedupMaxSize:        100_000,
			CollaboratorTimeout: 5 * time.Second,
			DeadLetterMaxSize:   1000,
		},
		Gateway: GatewayConfig{Addr: ":8080"},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	parseDurations(raw)
	return raw, nil
}

// parseDurations converts duration strings in known fields to nanoseconds so
// they unmarshal into time.Duration.
func parseDurations(raw map[string]any) {
	if nats, ok := raw["nats"].(map[string]any); ok {
		parseDurationField(nats, "reconnect_wait")
	}
	if rt, ok := raw["router"].(map[string]any); ok {
		parseDurationField(rt, "dedup_ttl")
		parseDurationField(rt, "collaborator_timeout")
	}
}

func parseDurationField(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// mergeFromMap merges a raw override map into the base config. Only keys
// present in the map override; absent keys keep the base value.
func mergeFromMap(base *Config, override map[string]any) *Config {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	merged := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return base
	}
	var cfg Config
	if err := json.Unmarshal(mergedJSON, &cfg); err != nil {
		return base
	}
	return &cfg
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := os.Getenv(l.envPrefix + "_PLATFORM_ENV"); val != "" {
		cfg.Platform.Environment = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_GATEWAY_ADDR"); val != "" {
		cfg.Gateway.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
