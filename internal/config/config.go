package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the watermark and storage sections.
const (
	WatermarkFile      = "file"
	WatermarkMemory    = "memory"
	WatermarkMemcached = "memcached"
	WatermarkPostgres  = "postgres"

	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	FeedBaseURL  string        `validate:"required,url"`
	FeedTimeout  time.Duration `validate:"gt=0"`
	MaxBodyBytes int64         `validate:"gt=0"`

	RetryAttempts           int `validate:"gte=1,lte=10"`
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	BreakerEnabled          bool
	BreakerFailureThreshold int `validate:"gte=1"`
	BreakerSuccessThreshold int `validate:"gte=1"`
	BreakerTimeout          time.Duration

	StrictBikeTypes bool
	GatePolicy      string `validate:"oneof=always_overwrite monotonic"`

	WatermarkBackend      string `validate:"oneof=file memory memcached postgres"`
	WatermarkFile         string `validate:"required_if=WatermarkBackend file"`
	MemcachedAddrs        string `validate:"required_if=WatermarkBackend memcached"`
	MemcachedKey          string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	DatabaseURL           string `validate:"required_if=WatermarkBackend postgres"`
	PostgresWatermarkName string

	StorageBackend string `validate:"oneof=s3 filesystem"`
	S3Bucket       string `validate:"required_if=StorageBackend s3"`
	S3Prefix       string
	S3Region       string
	S3Endpoint     string `validate:"omitempty,url"`
	S3UsePathStyle bool
	FilesystemRoot string `validate:"required_if=StorageBackend filesystem"`

	SnapshotSuffix   string `validate:"required"`
	SnapshotTimezone string

	// SchedulerInterval of zero runs once and exits.
	SchedulerInterval time.Duration `validate:"gte=0"`
	RunTimeout        time.Duration `validate:"gt=0"`
	RunOnStart        bool

	RateLimitRPS   int `validate:"gte=1"`
	RateLimitBurst int `validate:"gte=1"`

	ShutdownTimeout  time.Duration `validate:"gt=0"`
	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Feed struct {
		BaseURL      string `yaml:"base_url"`
		Timeout      string `yaml:"timeout"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"feed"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Schema struct {
		StrictBikeTypes *bool `yaml:"strict_bike_types"`
	} `yaml:"schema"`

	Gate struct {
		Policy string `yaml:"policy"`
	} `yaml:"gate"`

	Watermark struct {
		Backend string `yaml:"backend"`
		File    struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Key          string `yaml:"key"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Postgres struct {
			Name string `yaml:"name"`
		} `yaml:"postgres"`
	} `yaml:"watermark"`

	Storage struct {
		Backend string `yaml:"backend"`
		S3      struct {
			Bucket       string `yaml:"bucket"`
			Prefix       string `yaml:"prefix"`
			Region       string `yaml:"region"`
			Endpoint     string `yaml:"endpoint"`
			UsePathStyle bool   `yaml:"use_path_style"`
		} `yaml:"s3"`
		Filesystem struct {
			Root string `yaml:"root"`
		} `yaml:"filesystem"`
	} `yaml:"storage"`

	Snapshot struct {
		Suffix   string `yaml:"suffix"`
		Timezone string `yaml:"timezone"`
	} `yaml:"snapshot"`

	Scheduler struct {
		Interval   string `yaml:"interval"`
		RunTimeout string `yaml:"run_timeout"`
		RunOnStart *bool  `yaml:"run_on_start"`
	} `yaml:"scheduler"`

	API struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"api"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	DatabaseURL string `yaml:"database_url"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, then applies environment overrides. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(fc.Server.Port, "8080")

	cfg.FeedBaseURL = firstNonEmpty(os.Getenv("VELIB_API_URL"), fc.Feed.BaseURL, "https://velib-metropole-opendata.smoove.pro/opendata/Velib_Metropole")
	cfg.FeedTimeout = parseDurationOrZero(fc.Feed.Timeout, 10*time.Second)
	cfg.MaxBodyBytes = fc.Feed.MaxBodyBytes
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 20
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.BreakerEnabled = boolOr(fc.Reliability.CircuitBreaker.Enabled, true)
	cfg.BreakerFailureThreshold = intOr(fc.Reliability.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerSuccessThreshold = intOr(fc.Reliability.CircuitBreaker.SuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 2*time.Minute)

	cfg.StrictBikeTypes = boolOr(fc.Schema.StrictBikeTypes, true)
	cfg.GatePolicy = normalize(firstNonEmpty(fc.Gate.Policy, "always_overwrite"))

	cfg.WatermarkBackend = normalize(firstNonEmpty(os.Getenv("WATERMARK_BACKEND"), fc.Watermark.Backend, WatermarkFile))
	cfg.WatermarkFile = firstNonEmpty(fc.Watermark.File.Path, "app/results.txt")
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Watermark.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedKey = firstNonEmpty(fc.Watermark.Memcached.Key, "velib-harvester:watermark")
	cfg.MemcachedTimeout = parseDuration(fc.Watermark.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOr(fc.Watermark.Memcached.MaxIdleConns, 2)
	cfg.PostgresWatermarkName = firstNonEmpty(fc.Watermark.Postgres.Name, "velib_station_information")

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.DatabaseURL = strings.TrimSpace(sec.DatabaseURL)
		}
	}

	cfg.StorageBackend = normalize(firstNonEmpty(os.Getenv("STORAGE_BACKEND"), fc.Storage.Backend, StorageS3))
	cfg.S3Bucket = firstNonEmpty(os.Getenv("S3_BUCKET_NAME"), fc.Storage.S3.Bucket)
	cfg.S3Prefix = strings.Trim(strings.TrimSpace(fc.Storage.S3.Prefix), "/")
	cfg.S3Region = firstNonEmpty(fc.Storage.S3.Region, os.Getenv("AWS_REGION"))
	cfg.S3Endpoint = strings.TrimSpace(fc.Storage.S3.Endpoint)
	cfg.S3UsePathStyle = fc.Storage.S3.UsePathStyle
	cfg.FilesystemRoot = firstNonEmpty(fc.Storage.Filesystem.Root, "snapshots")

	cfg.SnapshotSuffix = firstNonEmpty(fc.Snapshot.Suffix, "velibstatus.json")
	cfg.SnapshotTimezone = firstNonEmpty(os.Getenv("SNAPSHOT_TIMEZONE"), fc.Snapshot.Timezone)

	cfg.SchedulerInterval = parseDurationOrZero(fc.Scheduler.Interval, time.Minute)
	cfg.RunTimeout = parseDuration(fc.Scheduler.RunTimeout, 2*time.Minute)
	cfg.RunOnStart = boolOr(fc.Scheduler.RunOnStart, true)

	cfg.RateLimitRPS = intOr(fc.API.RateLimitRPS, 1)
	cfg.RateLimitBurst = intOr(fc.API.RateLimitBurst, 3)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 30*time.Minute)
	cfg.DegradedErrorPct = intOr(fc.Lifecycle.DegradedErrorPct, 50)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// yamlKeys names each validated field the way it is spelled in the config file or env.
var yamlKeys = map[string]string{
	"ServerPort":              "server.port",
	"FeedBaseURL":             "feed.base_url (VELIB_API_URL)",
	"FeedTimeout":             "feed.timeout",
	"MaxBodyBytes":            "feed.max_body_bytes",
	"RetryAttempts":           "reliability.retry_max_attempts",
	"BreakerFailureThreshold": "reliability.circuit_breaker.failure_threshold",
	"BreakerSuccessThreshold": "reliability.circuit_breaker.success_threshold",
	"GatePolicy":              "gate.policy",
	"WatermarkBackend":        "watermark.backend (WATERMARK_BACKEND)",
	"WatermarkFile":           "watermark.file.path",
	"MemcachedAddrs":          "watermark.memcached.addrs (MEMCACHED_ADDRS)",
	"DatabaseURL":             "DATABASE_URL",
	"StorageBackend":          "storage.backend (STORAGE_BACKEND)",
	"S3Bucket":                "storage.s3.bucket (S3_BUCKET_NAME)",
	"S3Endpoint":              "storage.s3.endpoint",
	"FilesystemRoot":          "storage.filesystem.root",
	"SnapshotSuffix":          "snapshot.suffix",
	"SchedulerInterval":       "scheduler.interval",
	"RunTimeout":              "scheduler.run_timeout",
	"RateLimitRPS":            "api.rate_limit_rps",
	"RateLimitBurst":          "api.rate_limit_burst",
	"ShutdownTimeout":         "shutdown.timeout",
	"DegradedWindow":          "lifecycle.degraded_window",
	"DegradedErrorPct":        "lifecycle.degraded_error_pct",
}

var structValidator = validator.New()

// validate performs post-load validation of configuration values: struct tags first,
// then checks that span fields.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			key := yamlKeys[fe.Field()]
			if key == "" {
				key = fe.Field()
			}
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", key, fieldRule(fe), fe.Value()))
		}
		return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("config: reliability.retry_max_delay (%s) must be >= retry_base_delay (%s)", cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}
	if cfg.SnapshotTimezone != "" && cfg.SnapshotTimezone != "Local" {
		if _, err := time.LoadLocation(cfg.SnapshotTimezone); err != nil {
			return fmt.Errorf("config: snapshot.timezone (SNAPSHOT_TIMEZONE) %q: %w", cfg.SnapshotTimezone, err)
		}
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
