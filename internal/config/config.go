// Package config loads and validates the daemon configuration. The
// encryption passphrase is deliberately absent: it comes from the external
// secret provider at runtime and is never written to disk.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"
)

// Config holds the daemon settings.
type Config struct {
	UserID     string `mapstructure:"user_id"`
	DeviceName string `mapstructure:"device_name"`
	DeviceType string `mapstructure:"device_type"`

	StoreDSN     string `mapstructure:"store_dsn"`
	BlobLocation string `mapstructure:"blob_location"`
	BlobRegion   string `mapstructure:"blob_region"`
	FeedURL      string `mapstructure:"feed_url"`
	FeedToken    string `mapstructure:"feed_token"`

	// ControlListen enables the local control API when set, e.g.
	// "127.0.0.1:7850". ControlToken guards it.
	ControlListen string `mapstructure:"control_listen"`
	ControlToken  string `mapstructure:"control_token"`

	HistoryLimit      int `mapstructure:"history_limit"`
	ContentCacheSize  int `mapstructure:"content_cache_size"`
	ParseOffloadItems int `mapstructure:"parse_offload_items"`

	EncryptionEnabled   bool `mapstructure:"encryption_enabled"`
	KdfIterations       int  `mapstructure:"kdf_iterations"`
	EncryptOffloadBytes int  `mapstructure:"encrypt_offload_bytes"`
	DecryptOffloadBytes int  `mapstructure:"decrypt_offload_bytes"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`
}

// schemaDoc guards against malformed config files before any component
// sees the values.
const schemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"user_id": {"type": "string", "minLength": 1},
		"device_name": {"type": "string", "maxLength": 255},
		"device_type": {"enum": ["windows", "macos", "linux", "android", "ios", "web"]},
		"store_dsn": {"type": "string"},
		"blob_location": {"type": "string"},
		"blob_region": {"type": "string"},
		"feed_url": {"type": "string"},
		"feed_token": {"type": "string"},
		"control_listen": {"type": "string"},
		"control_token": {"type": "string"},
		"history_limit": {"type": "integer", "minimum": 1, "maximum": 1000},
		"content_cache_size": {"type": "integer", "minimum": 1},
		"parse_offload_items": {"type": "integer", "minimum": 1},
		"encryption_enabled": {"type": "boolean"},
		"kdf_iterations": {"type": "integer", "minimum": 10000},
		"encrypt_offload_bytes": {"type": "integer", "minimum": 0},
		"decrypt_offload_bytes": {"type": "integer", "minimum": 0},
		"log_format": {"enum": ["auto", "text", "json"]},
		"log_level": {"type": "string"}
	},
	"required": ["user_id", "device_type"]
}`

func setDefaults(v *viper.Viper) {
	// user_id has no usable default, but the key must be registered or
	// viper's AutomaticEnv never surfaces GHOSTCOPY_USER_ID. The schema's
	// minLength still rejects the empty placeholder.
	v.SetDefault("user_id", "")
	v.SetDefault("device_name", "")
	v.SetDefault("device_type", "linux")
	v.SetDefault("store_dsn", "")
	v.SetDefault("blob_location", "")
	v.SetDefault("blob_region", "")
	v.SetDefault("feed_url", "")
	v.SetDefault("feed_token", "")
	v.SetDefault("control_listen", "")
	v.SetDefault("control_token", "")
	v.SetDefault("history_limit", 50)
	v.SetDefault("content_cache_size", 20)
	v.SetDefault("parse_offload_items", 20)
	v.SetDefault("encryption_enabled", false)
	v.SetDefault("kdf_iterations", 100000)
	v.SetDefault("encrypt_offload_bytes", 5120)
	v.SetDefault("decrypt_offload_bytes", 7168)
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_level", "info")
}

// Load reads the config file at path (yaml), applies defaults and
// GHOSTCOPY_-prefixed environment overrides, validates against the schema,
// and unmarshals.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GHOSTCOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if err := validateSettings(v.AllSettings()); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func validateSettings(settings map[string]any) error {
	// Round-trip through JSON so numbers and maps carry the shapes the
	// validator expects.
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	schemaValue, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
	if err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", schemaValue); err != nil {
		return fmt.Errorf("register schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
