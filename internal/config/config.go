package config

// Config represents the main engine configuration.
type Config struct {
	// Telegram transport
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Model provider
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Dialog driver
	Dialog DialogConfig `json:"dialog" mapstructure:"dialog"`

	// Sandbox
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Tool dispatch
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// History persistence
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Housekeeping
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// System persona
	Persona PersonaConfig `json:"persona" mapstructure:"persona"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	BotToken string  `json:"bot_token" mapstructure:"bot_token"`
	AdminIDs []int64 `json:"admin_ids" mapstructure:"admin_ids"`
	// Allowlist restricts who may talk to the bot; empty allows everyone.
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// ProviderConfig holds model provider configuration.
type ProviderConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	// APIKeys are rotated on quota errors; at least one is required.
	APIKeys   []string    `json:"api_keys" mapstructure:"api_keys"`
	ProModel  string      `json:"pro_model" mapstructure:"pro_model"`
	LiteModel string      `json:"lite_model" mapstructure:"lite_model"`
	Retry     RetryConfig `json:"retry" mapstructure:"retry"`
}

// RetryConfig controls backoff for retryable provider errors.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS  int `json:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// DialogConfig holds step budgets per mode.
type DialogConfig struct {
	ProMaxSteps  int `json:"pro_max_steps" mapstructure:"pro_max_steps"`
	LiteMaxSteps int `json:"lite_max_steps" mapstructure:"lite_max_steps"`
}

// SandboxConfig holds per-conversation workspace settings.
type SandboxConfig struct {
	BaseDir       string `json:"base_dir" mapstructure:"base_dir"`
	MaxReadBytes  int64  `json:"max_read_bytes" mapstructure:"max_read_bytes"`
	MaxWriteBytes int64  `json:"max_write_bytes" mapstructure:"max_write_bytes"`
}

// ToolsConfig holds tool dispatch limits.
type ToolsConfig struct {
	// Timeouts by risk class, in seconds.
	ReadTimeoutSec     int `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	MutatingTimeoutSec int `json:"mutating_timeout_sec" mapstructure:"mutating_timeout_sec"`
	MaxOutputChars     int `json:"max_output_chars" mapstructure:"max_output_chars"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	DBPath      string `json:"db_path" mapstructure:"db_path"`
	RecentLimit int    `json:"recent_limit" mapstructure:"recent_limit"`
	// BudgetBytes caps the assembled context size.
	BudgetBytes int `json:"budget_bytes" mapstructure:"budget_bytes"`
}

// MaintenanceConfig holds housekeeping schedules.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Schedule is a cron expression.
	Schedule         string `json:"schedule" mapstructure:"schedule"`
	ArchiveAfterDays int    `json:"archive_after_days" mapstructure:"archive_after_days"`
	ActionLogKeep    int    `json:"action_log_keep" mapstructure:"action_log_keep"`
}

// PersonaConfig holds the system persona source.
type PersonaConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			ProModel:  "gemini-2.5-pro",
			LiteModel: "gemini-2.5-flash-lite",
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelayMS: 1000,
				MaxDelayMS:  30000,
			},
		},
		Dialog: DialogConfig{
			ProMaxSteps:  10,
			LiteMaxSteps: 1,
		},
		Sandbox: SandboxConfig{
			MaxReadBytes:  150 * 1024,
			MaxWriteBytes: 500 * 1024,
		},
		Tools: ToolsConfig{
			ReadTimeoutSec:     45,
			MutatingTimeoutSec: 75,
			MaxOutputChars:     6000,
		},
		History: HistoryConfig{
			RecentLimit: 50,
			BudgetBytes: 96 * 1024,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			Schedule:         "0 4 * * *",
			ArchiveAfterDays: 30,
			ActionLogKeep:    20,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
