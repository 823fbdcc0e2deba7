package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Store     StoreConfig
	Analyser  AnalyserConfig
	Worker    WorkerConfig
	Cache     CacheConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string `validate:"required"`
	Env      string
	LogLevel string `validate:"oneof=debug info warn error"`
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int `validate:"gte=0"`
}

type StoreConfig struct {
	Driver         string `validate:"oneof=redis sqlite postgres"`
	DSN            string `validate:"required_unless=Driver redis"`
	RetentionHours int    `validate:"gte=0"`
}

// Retention is zero when terminal records are kept forever.
func (c StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// AnalyserConfig points at the remote analysis service. CallTimeout and
// PollTimeout are seconds; a zero PollTimeout waits forever.
type AnalyserConfig struct {
	Host           string `validate:"required"`
	Port           int    `validate:"gt=0,lte=65535"`
	CallTimeout    int    `validate:"gt=0"`
	PollIntervalMS int    `validate:"gt=0"`
	PollTimeout    int    `validate:"gte=0"`
	MaxMessageMB   int    `validate:"gt=0"`
}

func (c AnalyserConfig) Target() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c AnalyserConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c AnalyserConfig) PollWait() time.Duration {
	return time.Duration(c.PollTimeout) * time.Second
}

// WorkerConfig.TaskTimeout is seconds; zero lets a job run as long as its
// remote steps take.
type WorkerConfig struct {
	Concurrency int    `validate:"gt=0"`
	Queue       string `validate:"required"`
	TaskTimeout int    `validate:"gte=0"`
}

func (c WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TaskTimeout) * time.Second
}

type CacheConfig struct {
	Dir string `validate:"required"`
}

type StorageConfig struct {
	Driver          string `validate:"oneof=s3 disk"`
	DiskDir         string `validate:"required_if=Driver disk"`
	Endpoint        string
	Region          string
	Bucket          string `validate:"required_if=Driver s3"`
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

type RateLimitConfig struct {
	DispatchPerMin int `validate:"gte=0"`
}

var validate = validator.New()

// Load reads config.yaml (optional) plus environment overrides. An explicit path
// replaces the default search locations.
func Load(path string) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORE_DSN")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.dsn", "STORE_DSN")
	_ = v.BindEnv("store.retention_hours", "STORE_RETENTION_HOURS")
	_ = v.BindEnv("analyser.host", "ANALYSER_HOST")
	_ = v.BindEnv("analyser.port", "ANALYSER_PORT")
	_ = v.BindEnv("analyser.call_timeout", "ANALYSER_CALL_TIMEOUT")
	_ = v.BindEnv("analyser.poll_interval_ms", "ANALYSER_POLL_INTERVAL_MS")
	_ = v.BindEnv("analyser.poll_timeout", "ANALYSER_POLL_TIMEOUT")
	_ = v.BindEnv("analyser.max_message_mb", "ANALYSER_MAX_MESSAGE_MB")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.queue", "WORKER_QUEUE")
	_ = v.BindEnv("worker.task_timeout", "WORKER_TASK_TIMEOUT")
	_ = v.BindEnv("cache.dir", "CACHE_DIR")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.disk_dir", "STORAGE_DISK_DIR")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.region", "S3_REGION")
	_ = v.BindEnv("storage.bucket", "S3_BUCKET")
	_ = v.BindEnv("storage.access_key_id", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	_ = v.BindEnv("ratelimit.dispatch_per_min", "RATELIMIT_DISPATCH_PER_MIN")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.retention_hours", 24*30)

	// Analyser defaults
	v.SetDefault("analyser.host", "localhost")
	v.SetDefault("analyser.port", 50051)
	v.SetDefault("analyser.call_timeout", 30)
	v.SetDefault("analyser.poll_interval_ms", 1000)
	v.SetDefault("analyser.poll_timeout", 0)
	v.SetDefault("analyser.max_message_mb", 1024)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue", "analysis")
	v.SetDefault("worker.task_timeout", 0)
	v.SetDefault("cache.dir", os.TempDir())
	v.SetDefault("storage.driver", "disk")
	v.SetDefault("storage.disk_dir", "./data/artifacts")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("ratelimit.dispatch_per_min", 30)

	if err := v.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Driver:         v.GetString("store.driver"),
			DSN:            v.GetString("store.dsn"),
			RetentionHours: v.GetInt("store.retention_hours"),
		},
		Analyser: AnalyserConfig{
			Host:           v.GetString("analyser.host"),
			Port:           v.GetInt("analyser.port"),
			CallTimeout:    v.GetInt("analyser.call_timeout"),
			PollIntervalMS: v.GetInt("analyser.poll_interval_ms"),
			PollTimeout:    v.GetInt("analyser.poll_timeout"),
			MaxMessageMB:   v.GetInt("analyser.max_message_mb"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			Queue:       v.GetString("worker.queue"),
			TaskTimeout: v.GetInt("worker.task_timeout"),
		},
		Cache: CacheConfig{
			Dir: v.GetString("cache.dir"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			DiskDir:         v.GetString("storage.disk_dir"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		RateLimit: RateLimitConfig{
			DispatchPerMin: v.GetInt("ratelimit.dispatch_per_min"),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
