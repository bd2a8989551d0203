// Package config loads the runtime configuration from defaults, a TOML
// file and ARLO_-prefixed environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every configuration section of the runtime.
type Config struct {
	Provider    ProviderConfig    `mapstructure:"provider"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	API         APIConfig         `mapstructure:"api"`
	Improvement ImprovementConfig `mapstructure:"improvement"`
	Autonomous  AutonomousConfig  `mapstructure:"autonomous"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProviderConfig selects and parameterises the LLM backend.
type ProviderConfig struct {
	Kind      string `mapstructure:"kind"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Model     string `mapstructure:"model"`
	// EmbedModel empty disables embeddings; semantic memory degrades
	// gracefully.
	EmbedModel string `mapstructure:"embed_model"`
}

// MemoryConfig holds the persistence settings.
type MemoryConfig struct {
	DBPath      string `mapstructure:"db_path"`
	RecentLimit int    `mapstructure:"recent_limit"`
	TopK        int    `mapstructure:"top_k"`
}

// WorkspaceConfig locates the default agent sandbox.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// AgentConfig bounds agent runs.
type AgentConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

// ExecutorConfig bounds plan execution.
type ExecutorConfig struct {
	MaxParallel int `mapstructure:"max_parallel"`
}

// APIConfig controls the HTTP/SSE facade.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ImprovementConfig gates the self-improvement loop.
type ImprovementConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	IntervalMinutes        int  `mapstructure:"interval_minutes"`
	MaxCyclesPerHour       int  `mapstructure:"max_cycles_per_hour"`
	TokenBudgetPerHour     int  `mapstructure:"token_budget_per_hour"`
	IdleMinutesBeforeRun   int  `mapstructure:"idle_minutes_before_run"`
	NoImprovementThreshold int  `mapstructure:"no_improvement_threshold"`
}

// AutonomousConfig gates the autonomous loop.
type AutonomousConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	TickMinutes int  `mapstructure:"tick_minutes"`
	DailyCap    int  `mapstructure:"daily_cap"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.kind", "openai")
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.embed_model", "text-embedding-3-small")

	v.SetDefault("memory.db_path", "data/memory.db")
	v.SetDefault("memory.recent_limit", 5)
	v.SetDefault("memory.top_k", 3)

	v.SetDefault("workspace.root", "workspace")

	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("executor.max_parallel", 5)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8765)

	v.SetDefault("improvement.enabled", true)
	v.SetDefault("improvement.interval_minutes", 360)
	v.SetDefault("improvement.max_cycles_per_hour", 1)
	v.SetDefault("improvement.token_budget_per_hour", 80000)
	v.SetDefault("improvement.idle_minutes_before_run", 5)
	v.SetDefault("improvement.no_improvement_threshold", 20)

	v.SetDefault("autonomous.enabled", true)
	v.SetDefault("autonomous.tick_minutes", 5)
	v.SetDefault("autonomous.daily_cap", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration with an explicit file path, or from
// config/ and the working directory when the path is empty. A missing
// file is fine; defaults and environment cover everything.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("toml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Provider.Model == "" {
		errs = append(errs, "provider.model must be set")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.db_path must be set")
	}
	if cfg.Agent.MaxIterations <= 0 {
		errs = append(errs, "agent.max_iterations must be positive")
	}
	if cfg.Executor.MaxParallel <= 0 {
		errs = append(errs, "executor.max_parallel must be positive")
	}
	if cfg.API.Enabled && (cfg.API.Port <= 0 || cfg.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if cfg.Autonomous.TickMinutes <= 0 {
		errs = append(errs, "autonomous.tick_minutes must be positive")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
