package coretools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/goose/pkg/toolexecutor"
	"mvdan.cc/sh/v3/syntax"
)

// maxShellOutput is the character limit for bash and process output.
const maxShellOutput = 30000

func bashTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "bash",
		Description: "Run commands in a bash shell. Operations run in order: " +
			"1. change the working directory (if provided) " +
			"2. source a file (if provided) " +
			"3. run a shell command (if provided). " +
			"At least one of the parameters must be provided.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "working_dir", Type: "string", Description: "The directory to change to."},
			{Name: "source_path", Type: "string", Description: "The file to source before running the command."},
			{Name: "command", Type: "string", Description: "The bash shell command to run."},
		},
		AtLeastOne: []string{"working_dir", "source_path", "command"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			shell := shellPath()
			script, err := composeScript(shell, params)
			if err != nil {
				return nil, err
			}

			cmd := exec.CommandContext(ctx, shell, "-c", script)
			cmd.Dir = baseDir(opts, toolexecutor.WorkingDirFromContext(ctx))
			killGroupOnCancel(cmd)
			cmd.WaitDelay = 5 * time.Second

			out, err := cmd.CombinedOutput()
			output := truncateChars(string(out), maxShellOutput)
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) && ctx.Err() == nil {
					return output, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
				}
				return output, err
			}
			return output, nil
		},
	}
}

// composeScript joins cd, source and the command with &&, quoting paths and rejecting
// commands that do not parse.
func composeScript(shell string, params map[string]interface{}) (string, error) {
	lang := syntax.LangBash
	sourceCmd := "source"
	if !strings.HasSuffix(shell, "bash") {
		lang = syntax.LangPOSIX
		sourceCmd = "."
	}

	var parts []string
	if dir, ok := stringParam(params, "working_dir"); ok && dir != "" {
		quoted, err := syntax.Quote(dir, lang)
		if err != nil {
			return "", fmt.Errorf("cannot quote working_dir: %w", err)
		}
		parts = append(parts, "cd "+quoted)
	}
	if src, ok := stringParam(params, "source_path"); ok && src != "" {
		quoted, err := syntax.Quote(src, lang)
		if err != nil {
			return "", fmt.Errorf("cannot quote source_path: %w", err)
		}
		parts = append(parts, sourceCmd+" "+quoted)
	}
	if command, ok := stringParam(params, "command"); ok && strings.TrimSpace(command) != "" {
		parser := syntax.NewParser(syntax.Variant(lang), syntax.KeepComments(false))
		if _, err := parser.Parse(strings.NewReader(command), ""); err != nil {
			return "", fmt.Errorf("failed to parse command: %w", err)
		}
		parts = append(parts, command)
	}

	if len(parts) == 0 {
		return "", errors.New("at least one of working_dir, source_path, command must be non-empty")
	}
	return strings.Join(parts, " && "), nil
}

func shellPath() string {
	if path, err := exec.LookPath("bash"); err == nil {
		return path
	}
	return "/bin/sh"
}

func truncateChars(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + fmt.Sprintf("\n... [truncated %d characters]", len(runes)-limit)
}
