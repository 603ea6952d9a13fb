package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/harun/goose/pkg/coretools"
	"github.com/harun/goose/pkg/moderation"
)

// Validator validates configuration values
type Validator struct {
	toolkits []string
}

// NewValidator creates a new validator that accepts the built-in toolkits.
func NewValidator() *Validator {
	return &Validator{toolkits: coretools.Available()}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty (set %s_API_KEY)", provider, strings.ToUpper(provider))
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateToolkit checks that a toolkit name is known.
func (v *Validator) ValidateToolkit(name string) error {
	if slices.Contains(v.toolkits, name) {
		return nil
	}
	return fmt.Errorf("unknown toolkit: %s (available: %s)", name, strings.Join(v.toolkits, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateProfile checks the values Profile.Validate leaves alone.
func (v *Validator) ValidateProfile(name string, p Profile) []error {
	var errs []error

	if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
	}
	if err := v.ValidateModel(p.Processor); err != nil {
		errs = append(errs, fmt.Errorf("profile %s: processor: %w", name, err))
	}
	for _, tk := range p.Toolkits {
		if err := v.ValidateToolkit(tk.Name); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
		}
	}
	if _, err := moderation.New(p.Moderator, moderation.Options{}); err != nil {
		errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
	}
	if p.Temperature != 0 {
		if err := v.ValidateTemperature(p.Temperature); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
		}
	}
	if p.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, name := range cfg.ProfileNames() {
		errs = append(errs, v.ValidateProfile(name, cfg.Profiles[name])...)
	}
	if cfg.Runtime.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("runtime.max_tool_rounds must be >= 0"))
	}
	if cfg.Logging.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("logging.max_backups must be >= 0"))
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
