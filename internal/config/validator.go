package config

import (
	"fmt"
	"regexp"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTelegramToken validates a Telegram bot token.
// Tokens have the form <bot_id>:<secret>.
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}
	return nil
}

// ValidateProvider validates the model provider section.
func (v *Validator) ValidateProvider(cfg ProviderConfig) error {
	if len(cfg.APIKeys) == 0 {
		return fmt.Errorf("provider requires at least one API key")
	}
	for i, key := range cfg.APIKeys {
		if key == "" {
			return fmt.Errorf("provider API key %d is empty", i)
		}
	}
	if cfg.ProModel == "" || cfg.LiteModel == "" {
		return fmt.Errorf("provider requires both pro and lite model names")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("provider retry max_attempts must be at least 1")
	}
	return nil
}

// ValidateDialog validates step budgets.
func (v *Validator) ValidateDialog(cfg DialogConfig) error {
	if cfg.ProMaxSteps < 1 || cfg.LiteMaxSteps < 1 {
		return fmt.Errorf("dialog step budgets must be at least 1")
	}
	return nil
}

// ValidateTools validates tool dispatch limits.
func (v *Validator) ValidateTools(cfg ToolsConfig) error {
	if cfg.ReadTimeoutSec <= 0 || cfg.MutatingTimeoutSec <= 0 {
		return fmt.Errorf("tool timeouts must be positive")
	}
	if cfg.MaxOutputChars <= 0 {
		return fmt.Errorf("tool max_output_chars must be positive")
	}
	return nil
}

// ValidateSandbox validates sandbox limits.
func (v *Validator) ValidateSandbox(cfg SandboxConfig) error {
	if cfg.MaxReadBytes <= 0 || cfg.MaxWriteBytes <= 0 {
		return fmt.Errorf("sandbox byte ceilings must be positive")
	}
	return nil
}

// ValidateConfig validates the whole configuration.
func (v *Validator) ValidateConfig(cfg *Config) error {
	if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if err := v.ValidateProvider(cfg.Provider); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := v.ValidateDialog(cfg.Dialog); err != nil {
		return fmt.Errorf("dialog: %w", err)
	}
	if err := v.ValidateTools(cfg.Tools); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := v.ValidateSandbox(cfg.Sandbox); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	return nil
}
