package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GOOSE_RUNTIME_TOOL_TIMEOUT.
const EnvPrefix = "GOOSE"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. An empty path uses ~/.config/goose/config.yaml.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile changes the dotenv file read before the config. Empty disables it.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Path returns the config file path
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".goose", "config.yaml")
	}
	return filepath.Join(home, ".config", "goose", "config.yaml")
}

// Exists reports whether the config file is present.
func (l *Loader) Exists() bool {
	_, err := os.Stat(l.Path())
	return err == nil
}

func (l *Loader) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(l.Path())
	if filepath.Ext(l.Path()) == "" {
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment overrides only reach keys viper knows about.
	def := DefaultConfig()
	v.SetDefault("sessions_dir", def.SessionsDir)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("stats_db", def.StatsDB)
	v.SetDefault("default_profile", def.DefaultProfile)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.pretty", def.Logging.Pretty)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.redaction", def.Logging.Redaction)
	v.SetDefault("runtime.provider_timeout", def.Runtime.ProviderTimeout)
	v.SetDefault("runtime.tool_timeout", def.Runtime.ToolTimeout)
	v.SetDefault("runtime.interrupt_policy", def.Runtime.InterruptPolicy)
	v.SetDefault("runtime.tool_concurrency", def.Runtime.ToolConcurrency)
	v.SetDefault("runtime.max_tool_rounds", def.Runtime.MaxToolRounds)
	v.SetDefault("runtime.cost_per_token", def.Runtime.CostPerToken)
	return v
}

// Load loads the configuration from file. A missing file yields the defaults; a .env
// file in the working directory is loaded into the environment first.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := l.newViper()
	if l.Exists() {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}

	base := filepath.Dir(l.Path())
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = filepath.Join(base, "sessions")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(base, "logs")
	}
	if cfg.StatsDB == "" {
		cfg.StatsDB = filepath.Join(base, "stats.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.LogDir, "goose.log")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.Path()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("yaml")
	}

	v.Set("sessions_dir", cfg.SessionsDir)
	v.Set("log_dir", cfg.LogDir)
	v.Set("stats_db", cfg.StatsDB)
	v.Set("default_profile", cfg.DefaultProfile)
	v.Set("profiles", cfg.Profiles)
	v.Set("logging", cfg.Logging)
	v.Set("runtime", map[string]interface{}{
		"provider_timeout": cfg.Runtime.ProviderTimeout.String(),
		"tool_timeout":     cfg.Runtime.ToolTimeout.String(),
		"interrupt_policy": cfg.Runtime.InterruptPolicy,
		"tool_concurrency": cfg.Runtime.ToolConcurrency,
		"max_tool_rounds":  cfg.Runtime.MaxToolRounds,
		"cost_per_token":   cfg.Runtime.CostPerToken,
	})
	v.Set("metrics_addr", cfg.MetricsAddr)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnsureProfile returns the named profile, writing the default profile under that name
// when the config file or the profile is missing.
func (l *Loader) EnsureProfile(name string) (*Config, Profile, error) {
	cfg, err := l.Load()
	if err != nil {
		return nil, Profile{}, err
	}
	if name == "" {
		name = cfg.DefaultProfile
	}
	if name == "" {
		name = DefaultProfileName
	}

	if p, err := cfg.Profile(name); err == nil {
		return cfg, p, nil
	}

	p := DefaultProfile()
	cfg.Profiles[strings.ToLower(name)] = p
	if !l.Exists() {
		cfg.DefaultProfile = strings.ToLower(name)
	}
	if err := l.Save(cfg); err != nil {
		return nil, Profile{}, err
	}
	return cfg, p, nil
}

// APIKey returns the key for a provider from its conventional environment variable,
// e.g. OPENAI_API_KEY.
func APIKey(providerName string) string {
	return os.Getenv(strings.ToUpper(providerName) + "_API_KEY")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
