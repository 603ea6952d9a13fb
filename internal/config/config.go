package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/harun/goose/pkg/provider"
)

// Config represents the main goose configuration
type Config struct {
	// Directory holding one JSONL log per session.
	SessionsDir string `json:"sessions_dir" mapstructure:"sessions_dir" yaml:"sessions_dir"`

	// Directory for the process log and audit trail.
	LogDir string `json:"log_dir" mapstructure:"log_dir" yaml:"log_dir"`

	// SQLite database of completed session stats.
	StatsDB string `json:"stats_db" mapstructure:"stats_db" yaml:"stats_db"`

	DefaultProfile string             `json:"default_profile" mapstructure:"default_profile" yaml:"default_profile"`
	Profiles       map[string]Profile `json:"profiles" mapstructure:"profiles" yaml:"profiles"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime" yaml:"runtime"`

	// Address of the Prometheus endpoint. Empty disables it.
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Profile selects the model backend and the toolkits of a session.
type Profile struct {
	Provider    string          `json:"provider" mapstructure:"provider" yaml:"provider"`
	Processor   string          `json:"processor" mapstructure:"processor" yaml:"processor"`
	Accelerator string          `json:"accelerator" mapstructure:"accelerator" yaml:"accelerator"`
	Moderator   string          `json:"moderator" mapstructure:"moderator" yaml:"moderator"`
	MaxTokens   int             `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64         `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	Toolkits    []ToolkitConfig `json:"toolkits" mapstructure:"toolkits" yaml:"toolkits"`
}

// ToolkitConfig names a toolkit and the toolkits it depends on. Requires maps a
// dependency role to the name of another toolkit in the same profile.
type ToolkitConfig struct {
	Name     string            `json:"name" mapstructure:"name" yaml:"name"`
	Requires map[string]string `json:"requires,omitempty" mapstructure:"requires" yaml:"requires,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" yaml:"level"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	File       string `json:"file" mapstructure:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
}

// RuntimeConfig tunes the session loop.
type RuntimeConfig struct {
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout" yaml:"provider_timeout"`
	ToolTimeout     time.Duration `json:"tool_timeout" mapstructure:"tool_timeout" yaml:"tool_timeout"`
	InterruptPolicy string        `json:"interrupt_policy" mapstructure:"interrupt_policy" yaml:"interrupt_policy"` // cooperative, preemptive
	ToolConcurrency int           `json:"tool_concurrency" mapstructure:"tool_concurrency" yaml:"tool_concurrency"`
	MaxToolRounds   int           `json:"max_tool_rounds" mapstructure:"max_tool_rounds" yaml:"max_tool_rounds"`
	CostPerToken    float64       `json:"cost_per_token" mapstructure:"cost_per_token" yaml:"cost_per_token"`
}

// DefaultProfileName is used when neither the flag nor the config picks a profile.
const DefaultProfileName = "default"

// DefaultProfile returns the profile written when none is configured.
func DefaultProfile() Profile {
	return Profile{
		Provider:    "openai",
		Processor:   "gpt-4o",
		Accelerator: "gpt-4o-mini",
		Moderator:   "truncate",
		Toolkits:    []ToolkitConfig{{Name: "default"}},
	}
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile: DefaultProfileName,
		Profiles:       map[string]Profile{},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			Compress:   true,
			Redaction:  true,
		},
		Runtime: RuntimeConfig{
			ProviderTimeout: 5 * time.Minute,
			ToolTimeout:     2 * time.Minute,
			InterruptPolicy: "cooperative",
			ToolConcurrency: 1,
			MaxToolRounds:   50,
			CostPerToken:    0.0001,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Profile returns the named profile, or the default profile when name is empty.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	if !ok {
		// viper lowercases map keys
		p, ok = c.Profiles[strings.ToLower(name)]
	}
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return p, nil
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for _, name := range c.ProfileNames() {
		if err := c.Profiles[name].Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}

	switch c.Runtime.InterruptPolicy {
	case "", "cooperative", "preemptive":
	default:
		return fmt.Errorf("invalid interrupt policy: %s (must be: cooperative, preemptive)", c.Runtime.InterruptPolicy)
	}
	if c.Runtime.ProviderTimeout < 0 {
		return fmt.Errorf("runtime.provider_timeout must be >= 0")
	}
	if c.Runtime.ToolTimeout < 0 {
		return fmt.Errorf("runtime.tool_timeout must be >= 0")
	}
	if c.Runtime.ToolConcurrency < 0 {
		return fmt.Errorf("runtime.tool_concurrency must be >= 0")
	}
	if c.Runtime.CostPerToken < 0 {
		return fmt.Errorf("runtime.cost_per_token must be >= 0")
	}

	return nil
}

// ToolkitNames returns the toolkit names in profile order.
func (p Profile) ToolkitNames() []string {
	names := make([]string, 0, len(p.Toolkits))
	for _, tk := range p.Toolkits {
		names = append(names, tk.Name)
	}
	return names
}

// Validate checks the provider name and that every toolkit requirement is satisfied
// by a toolkit of the same profile.
func (p Profile) Validate() error {
	if p.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !slices.Contains(provider.Supported, p.Provider) {
		return fmt.Errorf("invalid provider %s (must be: %s)", p.Provider, strings.Join(provider.Supported, ", "))
	}
	if p.Processor == "" {
		return fmt.Errorf("processor is required")
	}

	present := p.ToolkitNames()
	for _, tk := range p.Toolkits {
		if tk.Name == "" {
			return fmt.Errorf("toolkit name is required")
		}
		for role, dep := range tk.Requires {
			if !slices.Contains(present, dep) {
				return fmt.Errorf("toolkit %s requires %s (%s) which is not in the profile", tk.Name, dep, role)
			}
		}
	}
	return nil
}

// Info renders a one-line description of the profile.
func (p Profile) Info() string {
	return fmt.Sprintf("provider:%s, processor:%s toolkits: %s", p.Provider, p.Processor, strings.Join(p.ToolkitNames(), ", "))
}
