package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := executeCommand(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "goose version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := executeCommand(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Goose")
		assert.Contains(t, out, "session")
		assert.Contains(t, out, "toolkit")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)

		metricsFlag := cmd.PersistentFlags().Lookup("metrics-addr")
		require.NotNil(t, metricsFlag)
		assert.Equal(t, "", metricsFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"session", "run", "toolkit", "version"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "goose version "+GetVersion()+"\n", out)
}

func TestToolkitList(t *testing.T) {
	out, err := executeCommand(t, "", "toolkit", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"default: bash, text_editor, process_manager",
		"web: fetch_web_content",
	}, lines)
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

// executeCommand runs the root command with args and returns what it printed.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cfgFile, logLevel, metricsAddr = "", "info", ""
	sessionProfile, clearKeep, statsAll = "", 3, false
	runProfile, runResumeSession = "", false

	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}
