package gamify

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/health"
	"github.com/GoCodeAlone/gamify/metrics"
	"github.com/GoCodeAlone/gamify/rules"
	"github.com/GoCodeAlone/gamify/storage"
	"github.com/GoCodeAlone/gamify/webhooks"
)

// Storage engine names accepted by StorageConfig.Type.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// StorageConfig selects and configures the storage engine.
type StorageConfig struct {
	Type   string               `json:"type" yaml:"type" env:"GAMIFY_STORAGE_TYPE"`
	Memory storage.MemoryConfig `json:"memory" yaml:"memory"`
	Redis  storage.RedisConfig  `json:"redis" yaml:"redis"`
}

// RulesConfig configures the rule engine and optional rule file loading.
type RulesConfig struct {
	rules.Config `yaml:",inline"`
	// File is an optional YAML rule file loaded at startup.
	File string `json:"file" yaml:"file" env:"GAMIFY_RULES_FILE"`
	// Watch reloads File on change.
	Watch bool `json:"watch" yaml:"watch"`
}

// WebhooksConfig enables the delivery pipeline.
type WebhooksConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	webhooks.Config `yaml:",inline"`
}

// MetricsConfig enables the collector.
type MetricsConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	metrics.Config `yaml:",inline"`
}

// HealthConfig enables the periodic checker.
type HealthConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	health.Config `yaml:",inline"`
}

// HTTPConfig configures the REST surface.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" env:"GAMIFY_HTTP_ADDR"`
	// Prefix is the route prefix all endpoints are mounted under.
	Prefix string `json:"prefix" yaml:"prefix"`
	// APIKey protects mutating and admin endpoints when set.
	APIKey string `json:"apiKey" yaml:"apiKey" env:"GAMIFY_API_KEY"`
	// RateLimit is the per-client token refill rate in requests per second;
	// zero disables limiting.
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit"`
	// RateBurst is the per-client burst size.
	RateBurst int `json:"rateBurst" yaml:"rateBurst"`
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `json:"corsOrigins" yaml:"corsOrigins"`
}

// WebSocketConfig configures the real-time event feed.
type WebSocketConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	PingInterval time.Duration `json:"pingInterval" yaml:"pingInterval"`
}

// LoggerConfig configures the default slog-backed logger built by cmd.
type LoggerConfig struct {
	Level  string `json:"level" yaml:"level" env:"GAMIFY_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"GAMIFY_LOG_FORMAT"`
}

// SecurityConfig holds deployment-posture switches.
type SecurityConfig struct {
	// Production makes missing secrets a startup error instead of a warning.
	Production bool `json:"production" yaml:"production" env:"GAMIFY_PRODUCTION"`
}

// Config is the engine's full configuration tree.
type Config struct {
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	EventBus  eventbus.Config `json:"eventBus" yaml:"eventBus"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`
	Webhooks  WebhooksConfig  `json:"webhooks" yaml:"webhooks"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Health    HealthConfig    `json:"health" yaml:"health"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	WebSocket WebSocketConfig `json:"webSocket" yaml:"webSocket"`
	Logger    LoggerConfig    `json:"logger" yaml:"logger"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	// Modules carries per-module configuration subtrees keyed by module
	// name, passed through ModuleContext.Config.
	Modules map[string]map[string]any `json:"modules" yaml:"modules"`
	// ShutdownTimeout bounds the whole Shutdown sequence.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// DefaultConfig returns the baseline configuration a file is merged over.
func DefaultConfig() Config {
	return Config{
		Storage:  StorageConfig{Type: StorageMemory},
		EventBus: eventbus.Config{HistoryLimit: 100, MaxEventTypes: 1000},
		Rules:    RulesConfig{Config: rules.Config{CacheExpiry: 5 * time.Second}},
		Webhooks: WebhooksConfig{
			Config: webhooks.Config{
				MaxQueueSize: 1000,
				RetryDelay:   time.Second,
				Timeout:      5 * time.Second,
				Retries:      3,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Config:  metrics.Config{MaxEventTypes: 1000, MaxModules: 100, CollectInterval: 30 * time.Second},
		},
		Health: HealthConfig{
			Enabled: true,
			Config:  health.Config{Interval: 15 * time.Second},
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			Prefix:      "/gamification",
			RateLimit:   50,
			RateBurst:   100,
			CORSOrigins: []string{"*"},
		},
		WebSocket:       WebSocketConfig{PingInterval: 30 * time.Second},
		Logger:          LoggerConfig{Level: "info", Format: "text"},
		Modules:         map[string]map[string]any{},
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig reads a YAML or TOML file over the defaults and applies
// environment overrides. An empty path returns defaults plus environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case ".toml":
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		default:
			return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
		}
	}
	if err := applyEnvOverrides(reflect.ValueOf(&cfg).Elem()); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Type != StorageMemory && cfg.Storage.Type != StorageRedis {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownStorageType, cfg.Storage.Type)
	}
	return cfg, nil
}

// applyEnvOverrides walks the config tree and overrides fields tagged with
// `env` from the environment.
func applyEnvOverrides(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.CanAddr() {
			if err := applyEnvOverrides(field); err != nil {
				return err
			}
		}
		envName := t.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}
		strValue := os.Getenv(envName)
		if strValue == "" {
			continue
		}
		converted, err := cast.FromType(strValue, field.Type())
		if err != nil {
			return fmt.Errorf("config: env %s: cannot convert to %v: %w", envName, field.Type(), err)
		}
		if !field.CanSet() {
			continue
		}
		field.Set(reflect.ValueOf(converted))
	}
	return nil
}

// DeepMerge merges override into base: when both sides hold plain maps the
// merge recurses, otherwise the override wins. Arrays replace. Neither input
// is mutated.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range override {
		baseMap, okBase := out[key].(map[string]any)
		overrideMap, okOverride := value.(map[string]any)
		if okBase && okOverride {
			out[key] = DeepMerge(baseMap, overrideMap)
			continue
		}
		out[key] = value
	}
	return out
}
