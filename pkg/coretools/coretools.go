package coretools

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/goose/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// WorkingDir resolves relative paths and is the default shell directory. Empty means
	// the process working directory.
	WorkingDir string
	// FetchDir receives files written by fetch_web_content. Empty means a temp directory.
	FetchDir   string
	HTTPClient *http.Client
}

// Toolkit is a named group of tools plus the instructions that describe them to the model.
type Toolkit struct {
	Name   string
	System string
	Tools  []toolexecutor.ToolDefinition
	closer func() error
}

// Close releases resources held by the toolkit, such as background processes.
func (t *Toolkit) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer()
}

type toolkitFactory func(opts Options) *Toolkit

var factories = map[string]toolkitFactory{
	"default": defaultToolkit,
	"web":     webToolkit,
}

// Available returns the names of all known toolkits, sorted.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named toolkits in order.
func Build(names []string, opts Options) ([]*Toolkit, error) {
	toolkits := make([]*Toolkit, 0, len(names))
	for _, name := range names {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown toolkit %q (available: %s)", name, strings.Join(Available(), ", "))
		}
		toolkits = append(toolkits, factory(opts))
	}
	return toolkits, nil
}

// Register adds every tool of the toolkits to the registry. A tool offered by two
// toolkits is registered once.
func Register(registry *toolexecutor.Registry, toolkits ...*Toolkit) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}

	seen := make(map[string]bool)
	for _, tk := range toolkits {
		for _, tool := range tk.Tools {
			if seen[tool.Name] {
				continue
			}
			if err := registry.Register(tool); err != nil {
				return fmt.Errorf("failed to register tool %s from toolkit %s: %w", tool.Name, tk.Name, err)
			}
			seen[tool.Name] = true
		}
	}
	return nil
}

// SystemPrompt joins the toolkit instructions into one system prompt.
func SystemPrompt(toolkits []*Toolkit) string {
	parts := make([]string, 0, len(toolkits))
	for _, tk := range toolkits {
		if tk.System != "" {
			parts = append(parts, tk.System)
		}
	}
	return strings.Join(parts, "\n\n")
}

// CloseAll closes every toolkit and joins the errors.
func CloseAll(toolkits []*Toolkit) error {
	var errs []error
	for _, tk := range toolkits {
		if err := tk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("toolkit %s: %w", tk.Name, err))
		}
	}
	return errors.Join(errs...)
}

func defaultToolkit(opts Options) *Toolkit {
	editor := newTextEditor(opts)
	procs := newProcessManager(opts)

	return &Toolkit{
		Name: "default",
		System: "You can run shell commands with bash, view and edit files with text_editor, " +
			"and run long-lived commands in the background with process_manager. " +
			"Prefer text_editor over shell redirection when changing files.",
		Tools: []toolexecutor.ToolDefinition{
			bashTool(opts),
			editor.definition(),
			procs.definition(),
		},
		closer: procs.shutdown,
	}
}

func webToolkit(opts Options) *Toolkit {
	return &Toolkit{
		Name:   "web",
		System: "Use fetch_web_content to download a page; read the returned markdown file with text_editor.",
		Tools:  []toolexecutor.ToolDefinition{fetchTool(opts)},
	}
}

// resolvePath makes value absolute against the call's working directory.
func resolvePath(baseDir, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("path is required")
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value), nil
	}
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		baseDir = wd
	}
	return filepath.Join(baseDir, value), nil
}

func baseDir(opts Options, callDir string) string {
	if callDir != "" {
		return callDir
	}
	return opts.WorkingDir
}

func stringParam(params map[string]interface{}, name string) (string, bool) {
	s, ok := params[name].(string)
	return s, ok
}

// intParam accepts JSON numbers that hold integral values.
func intParam(params map[string]interface{}, name string) (int, bool) {
	switch v := params[name].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

func intSlice(value interface{}) ([]int, bool) {
	raw, ok := value.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f != float64(int(f)) {
			return nil, false
		}
		out = append(out, int(f))
	}
	return out, true
}

func defaultHTTPClient(opts Options) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
