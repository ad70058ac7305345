package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. SWARM_SERVER_PORT or SWARM_TASK_STALE_AFTER.
const EnvPrefix = "SWARM"

// weightTolerance absorbs float rounding when checking the weight sum.
const weightTolerance = 1e-6

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit YAML file. When empty, config.yaml is
	// searched for in the working directory and ./config.
	ConfigFile string
	// EnvFiles are dotenv files loaded before reading the environment.
	// Missing files are ignored. Variables already set are not overridden.
	EnvFiles []string
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithOptions(Options{
		ConfigFile: os.Getenv(EnvPrefix + "_CONFIG_FILE"),
		EnvFiles:   []string{".env"},
	})
}

// LoadWithOptions is Load with explicit file locations.
func LoadWithOptions(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || opts.ConfigFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs field and cross-field validation on cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateConfig, Config{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validateConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.Store.Backend == "postgres" && cfg.Database.URL == "" {
		sl.ReportError(cfg.Database.URL, "Database.URL", "URL", "required_for_postgres", "")
	}
	if math.Abs(cfg.Priority.Weights.Sum()-1) > weightTolerance {
		sl.ReportError(cfg.Priority.Weights, "Priority.Weights", "Weights", "weightsum", "")
	}
}

var envOnlyKeys = []string{
	"database.url",
	"redis.url",
	"llm.gemini_api_key",
	"llm.catalog_path",
	"agent.server_url",
	"agent.worker_id",
	"agent.gpu_available",
	"agent.ram_gb",
	"agent.cpu_cores",
	"agent.models",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("store.backend", "postgres")
	v.SetDefault("redis.key", "swarm:priority")

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.coherence_model", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.stale_after", 30*time.Minute)
	v.SetDefault("task.max_components_per_task", 3)

	v.SetDefault("worker.active_window", 5*time.Minute)
	v.SetDefault("worker.offline_after", 30*time.Minute)

	v.SetDefault("dispatch.max_tasks_per_request", 5)
	v.SetDefault("dispatch.plan_window", 50)

	v.SetDefault("priority.weights.popularity", 0.4)
	v.SetDefault("priority.weights.value", 0.3)
	v.SetDefault("priority.weights.activity", 0.2)
	v.SetDefault("priority.weights.completion", 0.1)
	v.SetDefault("priority.rebuild_interval", 10*time.Minute)
	v.SetDefault("priority.high_priority_threshold", 0.7)
	v.SetDefault("priority.page_size", 500)

	v.SetDefault("coherence.min_confidence", 0.7)

	v.SetDefault("maintenance.reclaim_interval", time.Minute)
	v.SetDefault("maintenance.gauge_interval", 30*time.Second)

	v.SetDefault("agent.max_tasks", 1)
	v.SetDefault("agent.poll_interval", 10*time.Second)
	v.SetDefault("agent.max_backoff", 5*time.Minute)
	v.SetDefault("agent.heartbeat_interval", time.Minute)
	v.SetDefault("agent.request_timeout", 30*time.Second)
}
