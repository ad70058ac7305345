package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Store       StoreConfig       `mapstructure:"store" validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis"`
	LLM         LLMConfig         `mapstructure:"llm" validate:"required"`
	Task        TaskConfig        `mapstructure:"task" validate:"required"`
	Worker      WorkerConfig      `mapstructure:"worker" validate:"required"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch" validate:"required"`
	Priority    PriorityConfig    `mapstructure:"priority" validate:"required"`
	Coherence   CoherenceConfig   `mapstructure:"coherence" validate:"required"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" validate:"required"`
	Agent       AgentConfig       `mapstructure:"agent"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is required when the store backend is postgres.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres memory"`
}

// RedisConfig configures the optional Redis priority index. When URL is
// empty the in-memory index is used.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
	Key string `mapstructure:"key" validate:"required_with=URL"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// GeminiAPIKey is optional for the server: without it coherence checks
	// fall back to offline acceptance.
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	CoherenceModel    string `mapstructure:"coherence_model" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
	// CatalogPath points at a YAML generation catalog. Empty uses the
	// built-in catalog.
	CatalogPath string `mapstructure:"catalog_path"`
}

// TaskConfig contains task lifecycle settings.
type TaskConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts" validate:"required,gte=1"`
	StaleAfter           time.Duration `mapstructure:"stale_after" validate:"required,gt=0"`
	MaxComponentsPerTask int           `mapstructure:"max_components_per_task" validate:"required,gte=1,lte=3"`
}

// WorkerConfig contains the thresholds used to derive worker liveness.
type WorkerConfig struct {
	ActiveWindow time.Duration `mapstructure:"active_window" validate:"required,gt=0"`
	OfflineAfter time.Duration `mapstructure:"offline_after" validate:"required,gtfield=ActiveWindow"`
}

// DispatchConfig bounds work handed out per request.
type DispatchConfig struct {
	MaxTasksPerRequest int `mapstructure:"max_tasks_per_request" validate:"required,gte=1,lte=50"`
	PlanWindow         int `mapstructure:"plan_window" validate:"required,gte=1"`
}

// PriorityWeights are the blend weights of the priority score. They must
// sum to 1.
type PriorityWeights struct {
	Popularity float64 `mapstructure:"popularity" validate:"gte=0,lte=1"`
	Value      float64 `mapstructure:"value" validate:"gte=0,lte=1"`
	Activity   float64 `mapstructure:"activity" validate:"gte=0,lte=1"`
	Completion float64 `mapstructure:"completion" validate:"gte=0,lte=1"`
}

// Sum returns the total of all weights.
func (w PriorityWeights) Sum() float64 {
	return w.Popularity + w.Value + w.Activity + w.Completion
}

// PriorityConfig contains scoring and rebuild settings.
type PriorityConfig struct {
	Weights               PriorityWeights `mapstructure:"weights"`
	RebuildInterval       time.Duration   `mapstructure:"rebuild_interval" validate:"required,gt=0"`
	HighPriorityThreshold float64         `mapstructure:"high_priority_threshold" validate:"gte=0,lte=1"`
	PageSize              int             `mapstructure:"page_size" validate:"required,gte=1"`
}

// CoherenceConfig contains coherence validation settings.
type CoherenceConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
}

// MaintenanceConfig contains the background loop intervals.
type MaintenanceConfig struct {
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval" validate:"required,gt=0"`
	GaugeInterval   time.Duration `mapstructure:"gauge_interval" validate:"required,gt=0"`
}

// AgentConfig configures the reference worker process.
type AgentConfig struct {
	ServerURL         string        `mapstructure:"server_url" validate:"omitempty,url"`
	WorkerID          string        `mapstructure:"worker_id"`
	GPUAvailable      bool          `mapstructure:"gpu_available"`
	RAMGB             int           `mapstructure:"ram_gb" validate:"gte=0"`
	CPUCores          int           `mapstructure:"cpu_cores" validate:"gte=0"`
	Models            []string      `mapstructure:"models"`
	MaxTasks          int           `mapstructure:"max_tasks" validate:"gte=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
}
