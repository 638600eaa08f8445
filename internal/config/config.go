// Package config handles application configuration loading from a YAML file
// with environment variable overrides.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "prepapp/internal/utils"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Redis configuration (optional mastery snapshot cache)
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Engine tuning knobs
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Worker configuration
	Worker WorkerConfig `json:"worker" yaml:"worker"`

	// OpenTelemetry Configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	WorkerPort      string `json:"worker_port" yaml:"worker_port"`
	Debug           bool   `json:"debug" yaml:"debug"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	MaxHistory      int    `json:"max_history" yaml:"max_history"`
	MaxActivityLogs int    `json:"max_activity_logs" yaml:"max_activity_logs"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`       // Maximum number of open connections to the database
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`       // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // Maximum amount of time a connection may be reused
}

// RedisConfig represents the optional redis cache configuration
type RedisConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"` // TTL for cached mastery snapshots
}

// EngineConfig holds the tuning knobs for session generation
type EngineConfig struct {
	QuestionsPerSubject int `json:"questions_per_subject" yaml:"questions_per_subject"` // Default session size per subject
	RecencyWindowDays   int `json:"recency_window_days" yaml:"recency_window_days"`     // Exclude questions attempted within this window
	WeakMasteryMax      int `json:"weak_mastery_max" yaml:"weak_mastery_max"`           // masteryLevel at or below this marks a weak topic
	WeakStrengthMax     int `json:"weak_strength_max" yaml:"weak_strength_max"`         // strengthIndex at or below this marks a weak topic
	WeakTopicCap        int `json:"weak_topic_cap" yaml:"weak_topic_cap"`               // Max weak topics considered per subject
	MinRevisionTopics   int `json:"min_revision_topics" yaml:"min_revision_topics"`     // Pad due revision topics up to this many
	LevelOverfetch      int `json:"level_overfetch" yaml:"level_overfetch"`             // Per-difficulty candidate fetch multiplier
	BackfillOverfetch   int `json:"backfill_overfetch" yaml:"backfill_overfetch"`       // Shortfall pass fetch multiplier
	RecentTestWindow    int `json:"recent_test_window" yaml:"recent_test_window"`       // Number of recent completed tests averaged for grading
	// DurationPadding is the multiplier applied to the summed per-question
	// time estimates before rounding up to whole minutes. Example: 1.1
	// adds a 10% buffer.
	DurationPadding float64 `json:"duration_padding" yaml:"duration_padding"`
}

// WorkerConfig represents background worker configuration
type WorkerConfig struct {
	Instance    string        `json:"instance" yaml:"instance"`
	RunInterval time.Duration `json:"run_interval" yaml:"run_interval"`
	BatchSize   int           `json:"batch_size" yaml:"batch_size"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "prep-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`   // Default: true
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`   // Default: true
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`   // Default: true
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"`     // Default: 1.0 (100%)
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	// Override with environment variables
	config.overrideFromEnv()

	config.applyEngineDefaults()

	return config, nil
}

// applyEngineDefaults fills unset engine knobs so a sparse config file still
// yields a working engine.
func (c *Config) applyEngineDefaults() {
	if c.Engine.QuestionsPerSubject <= 0 {
		c.Engine.QuestionsPerSubject = DefaultQuestionsPerSubject
	}
	if c.Engine.RecencyWindowDays <= 0 {
		c.Engine.RecencyWindowDays = DefaultRecencyWindowDays
	}
	if c.Engine.WeakMasteryMax <= 0 {
		c.Engine.WeakMasteryMax = DefaultWeakMasteryMax
	}
	if c.Engine.WeakStrengthMax <= 0 {
		c.Engine.WeakStrengthMax = DefaultWeakStrengthMax
	}
	if c.Engine.WeakTopicCap <= 0 {
		c.Engine.WeakTopicCap = DefaultWeakTopicCap
	}
	if c.Engine.MinRevisionTopics <= 0 {
		c.Engine.MinRevisionTopics = DefaultMinRevisionTopics
	}
	if c.Engine.LevelOverfetch <= 0 {
		c.Engine.LevelOverfetch = DefaultLevelOverfetch
	}
	if c.Engine.BackfillOverfetch <= 0 {
		c.Engine.BackfillOverfetch = DefaultBackfillOverfetch
	}
	if c.Engine.RecentTestWindow <= 0 {
		c.Engine.RecentTestWindow = DefaultRecentTestWindow
	}
	if c.Engine.DurationPadding <= 0 {
		c.Engine.DurationPadding = DefaultDurationPadding
	}
	if c.Worker.RunInterval <= 0 {
		c.Worker.RunInterval = WorkerRunInterval
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnv(c)
}

// overrideStructFromEnv recursively overrides struct fields with environment variables
func overrideStructFromEnv(v interface{}) {
	overrideStructFromEnvWithPrefix(v, "")
}

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Get the yaml tag for the field
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		// Convert yaml tag to environment variable name
		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if uintVal, err := strconv.ParseUint(envVal, 10, 64); err == nil {
					field.SetUint(uintVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				// Handle string slices
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			// Recursively process nested structs with the field name as prefix
			if field.CanAddr() {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), fieldPrefix)
			}
		case reflect.Ptr:
			// Handle pointer to struct
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Interface(), fieldPrefix)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file with potential local overrides
func loadConfigWithOverrides() (result0 *Config, err error) {
	// Try to load from environment variable first
	if envPath := os.Getenv("PREP_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	// If no environment variable is set, try default config.yaml
	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
