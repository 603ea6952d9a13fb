package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, name string) (*Loader, string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), name)
	return NewLoader(configPath).WithEnvFile(""), configPath
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.yaml", loader.configPath)
	assert.Equal(t, ".env", loader.envFile)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "nonexistent.yaml")

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "cooperative", cfg.Runtime.InterruptPolicy)
		assert.Equal(t, filepath.Join(filepath.Dir(configPath), "sessions"), cfg.SessionsDir)
		assert.Equal(t, filepath.Join(filepath.Dir(configPath), "stats.db"), cfg.StatsDB)
		assert.Equal(t, filepath.Join(cfg.LogDir, "goose.log"), cfg.Logging.File)
	})

	t.Run("load config from file", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "config.yaml")

		testConfig := `
default_profile: work
profiles:
  work:
    provider: anthropic
    processor: claude-sonnet-4
    toolkits:
      - name: default
      - name: web
        requires:
          shell: default
runtime:
  tool_timeout: 30s
  interrupt_policy: preemptive
  tool_concurrency: 4
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "work", cfg.DefaultProfile)
		p, err := cfg.Profile("")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Provider)
		assert.Equal(t, []string{"default", "web"}, p.ToolkitNames())
		assert.Equal(t, "default", p.Toolkits[1].Requires["shell"])
		assert.Equal(t, 30*time.Second, cfg.Runtime.ToolTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Runtime.ProviderTimeout)
		assert.Equal(t, "preemptive", cfg.Runtime.InterruptPolicy)
		assert.Equal(t, 4, cfg.Runtime.ToolConcurrency)
	})

	t.Run("environment overrides", func(t *testing.T) {
		loader, _ := newTestLoader(t, "config.yaml")
		t.Setenv("GOOSE_RUNTIME_MAX_TOOL_ROUNDS", "7")
		t.Setenv("GOOSE_METRICS_ADDR", ":9999")

		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Runtime.MaxToolRounds)
		assert.Equal(t, ":9999", cfg.MetricsAddr)
	})

	t.Run("dotenv file", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "config.yaml")
		envFile := filepath.Join(filepath.Dir(configPath), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("GOOSE_TEST_DOTENV_API_KEY=sk-from-dotenv\n"), 0600))
		t.Cleanup(func() { os.Unsetenv("GOOSE_TEST_DOTENV_API_KEY") })

		_, err := loader.WithEnvFile(envFile).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-from-dotenv", APIKey("goose_test_dotenv"))
	})

	t.Run("invalid YAML", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "invalid.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("profiles: [unclosed"), 0644))

		_, err := loader.Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "config.yaml")

		cfg := DefaultConfig()
		cfg.Profiles["work"] = Profile{
			Provider:    "anthropic",
			Processor:   "claude-sonnet-4",
			MaxTokens:   2048,
			Temperature: 0.2,
			Toolkits:    []ToolkitConfig{{Name: "default"}},
		}
		cfg.Runtime.ToolTimeout = 45 * time.Second

		require.NoError(t, loader.Save(cfg))
		_, err := os.Stat(configPath)
		require.NoError(t, err)

		loaded, err := loader.Load()
		require.NoError(t, err)
		p, err := loaded.Profile("work")
		require.NoError(t, err)
		assert.Equal(t, 2048, p.MaxTokens)
		assert.InDelta(t, 0.2, p.Temperature, 1e-9)
		assert.Equal(t, []string{"default"}, p.ToolkitNames())
		assert.Equal(t, 45*time.Second, loaded.Runtime.ToolTimeout)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		loader, configPath := newTestLoader(t, filepath.Join("subdir", "config.yaml"))

		require.NoError(t, loader.Save(DefaultConfig()))

		_, err := os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderEnsureProfile(t *testing.T) {
	t.Run("missing file writes default profile", func(t *testing.T) {
		loader, _ := newTestLoader(t, "config.yaml")

		cfg, p, err := loader.EnsureProfile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultProfile(), p)
		assert.True(t, loader.Exists())
		assert.Equal(t, "default", cfg.DefaultProfile)

		reloaded, err := loader.Load()
		require.NoError(t, err)
		stored, err := reloaded.Profile("default")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", stored.Processor)
		assert.Equal(t, "truncate", stored.Moderator)
	})

	t.Run("missing profile is added to existing file", func(t *testing.T) {
		loader, _ := newTestLoader(t, "config.yaml")
		cfg := DefaultConfig()
		cfg.Profiles["default"] = Profile{Provider: "anthropic", Processor: "claude-sonnet-4"}
		require.NoError(t, loader.Save(cfg))

		_, p, err := loader.EnsureProfile("extra")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Provider)

		reloaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"default", "extra"}, reloaded.ProfileNames())
		existing, err := reloaded.Profile("default")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", existing.Provider)
	})

	t.Run("existing profile is returned unchanged", func(t *testing.T) {
		loader, configPath := newTestLoader(t, "config.yaml")
		cfg := DefaultConfig()
		cfg.Profiles["default"] = Profile{Provider: "anthropic", Processor: "claude-sonnet-4"}
		require.NoError(t, loader.Save(cfg))
		before, err := os.Stat(configPath)
		require.NoError(t, err)

		_, p, err := loader.EnsureProfile("default")
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4", p.Processor)

		after, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.Equal(t, before.ModTime(), after.ModTime())
	})
}

func TestLoaderPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.yaml")
		assert.Equal(t, "/custom/path/config.yaml", loader.Path())
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.Path()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, "goose")
	})
}

func TestAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, "sk-test", APIKey("openai"))
}
