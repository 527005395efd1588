// Package config loads cartctl settings from an optional TOML file, an
// optional .env file and STORECACHE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
)

// EnvPrefix namespaces the environment overrides, e.g. STORECACHE_CACHE_PROVIDER.
const EnvPrefix = "STORECACHE_"

type Config struct {
	BaseURL     string            `mapstructure:"base_url" validate:"required,url"`
	Log         LogConfig         `mapstructure:"log"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Events      EventsConfig      `mapstructure:"events"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=pretty json text"`
}

type CacheConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	Provider  string `mapstructure:"provider" validate:"oneof=memory bigcache ristretto redis"`
	Namespace string `mapstructure:"namespace"`
	// Codec for cached cart snapshots. Response bodies are always stored raw.
	Codec         string        `mapstructure:"codec" validate:"oneof=json cbor msgpack"`
	QuotaBytes    int           `mapstructure:"quota_bytes" validate:"gte=0"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl" validate:"gte=0"`
	StaleAfter    time.Duration `mapstructure:"stale_after" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes" validate:"gte=0"`

	RedisAddr        string `mapstructure:"redis_addr" validate:"required_if=Provider redis"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db" validate:"gte=0"`
	RistrettoMaxCost int64  `mapstructure:"ristretto_max_cost" validate:"gte=0"`
}

type CoordinatorConfig struct {
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout" validate:"gt=0"`
	Sections       []string      `mapstructure:"sections" validate:"dive,required"`
	FailureMessage string        `mapstructure:"failure_message"`
}

type EventsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// keys lists every setting that can be overridden from the environment.
var keys = []string{
	"base_url",
	"log.level", "log.format",
	"cache.disabled", "cache.provider", "cache.namespace", "cache.codec",
	"cache.quota_bytes", "cache.default_ttl", "cache.stale_after", "cache.sweep_interval",
	"cache.max_body_bytes", "cache.redis_addr", "cache.redis_password", "cache.redis_db",
	"cache.ristretto_max_cost",
	"coordinator.submit_timeout", "coordinator.sections", "coordinator.failure_message",
	"events.enabled", "events.topic_prefix",
}

func defaults() map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":  "info",
			"format": "pretty",
		},
		"cache": map[string]any{
			"provider":           "memory",
			"namespace":          "storecache",
			"codec":              "json",
			"quota_bytes":        5 << 20,
			"default_ttl":        "5m",
			"stale_after":        "10m",
			"sweep_interval":     "5m",
			"max_body_bytes":     1 << 20,
			"ristretto_max_cost": 64 << 20,
		},
		"coordinator": map[string]any{
			"submit_timeout": "15s",
			"sections":       []string{"cart-drawer", "cart-icon-bubble"},
		},
		"events": map[string]any{
			"topic_prefix": "storefront.coordinator",
		},
	}
}

var validate = validator.New()

// Load builds the configuration. path may be empty; a missing file at path is
// an error, a missing env file is not.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	merged := defaults()
	if path != "" {
		var file map[string]any
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		merge(merged, file)
	}
	merge(merged, fromEnv(os.LookupEnv))

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(merged); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// fromEnv turns STORECACHE_CACHE_PROVIDER=redis into {"cache":{"provider":"redis"}}.
func fromEnv(lookup func(string) (string, bool)) map[string]any {
	out := map[string]any{}
	for _, k := range keys {
		name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		v, ok := lookup(name)
		if !ok {
			continue
		}
		parts := strings.Split(k, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}

// merge copies src into dst, descending into nested tables.
func merge(dst, src map[string]any) {
	for k, v := range src {
		sm, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dm = map[string]any{}
			dst[k] = dm
		}
		merge(dm, sm)
	}
}
