package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-test123", "anthropic", false},
		{"invalid anthropic key", "sk-test123", "anthropic", true},
		{"valid openai key", "sk-test123", "openai", false},
		{"invalid openai key", "test123", "openai", true},
		{"empty key", "", "anthropic", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateToolkit(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateToolkit("default"))
	assert.NoError(t, v.ValidateToolkit("web"))

	err := v.ValidateToolkit("github")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "unknown toolkit: github")
	}
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		temp    float64
		wantErr bool
	}{
		{"valid 0.0", 0.0, false},
		{"valid 0.7", 0.7, false},
		{"valid 2.0", 2.0, false},
		{"invalid negative", -0.1, true},
		{"invalid too high", 2.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTemperature(tt.temp)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		tokens  int
		wantErr bool
	}{
		{"valid 1000", 1000, false},
		{"valid 200000", 200000, false},
		{"invalid zero", 0, true},
		{"invalid negative", -1, true},
		{"invalid too large", 200001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateMaxTokens(tt.tokens)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Profiles["default"] = DefaultProfile()

		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("multiple errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Profiles["default"] = Profile{
			Provider:    "openai",
			Processor:   "gpt-4o",
			Moderator:   "summarize",
			Temperature: 3,
			Toolkits:    []ToolkitConfig{{Name: "github"}},
		}
		cfg.Logging.Level = "invalid"

		errs := v.ValidateConfig(cfg)
		assert.GreaterOrEqual(t, len(errs), 4)
		assert.Contains(t, fmt.Sprint(errs), `unknown moderator "summarize"`)
	})
}
