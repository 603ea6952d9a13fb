package coretools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// snapshot is a file's content before an edit. exists is false when the edit created it.
type snapshot struct {
	content string
	exists  bool
}

// textEditor keeps a per-path undo stack for the lifetime of the toolkit.
type textEditor struct {
	opts    Options
	mu      sync.Mutex
	history map[string][]snapshot
}

func newTextEditor(opts Options) *textEditor {
	return &textEditor{opts: opts, history: make(map[string][]snapshot)}
}

func (e *textEditor) definition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "text_editor",
		Description: "Perform text editing operations on files. The `command` parameter specifies the operation to perform.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Required: true,
				Description: "The command to run. Allowed options are: `view`, `create`, `str_replace`, `insert`, `undo_edit`.",
				Enum:        []string{"view", "create", "str_replace", "insert", "undo_edit"}},
			{Name: "path", Type: "string", Required: true,
				Description: "Absolute path (or relative path against cwd) to file or directory."},
			{Name: "file_text", Type: "string",
				Description: "Required parameter of `create` command, with the content of the file to be created."},
			{Name: "old_str", Type: "string",
				Description: "Required parameter of `str_replace` command containing the string in `path` to replace."},
			{Name: "new_str", Type: "string",
				Description: "Optional parameter of `str_replace` command containing the new string. Required parameter of `insert` command containing the string to insert."},
			{Name: "insert_line", Type: "integer",
				Description: "Required parameter of `insert` command. The `new_str` will be inserted AFTER the line `insert_line` of `path`."},
			{Name: "view_range", Type: "array", Items: "integer",
				Description: "Optional parameter of `view` command when `path` points to a file. [start, end] 1-based and inclusive; end -1 reads to the end."},
		},
		Dispatch: &toolexecutor.Dispatch{
			Parameter: "command",
			Required: map[string][]string{
				"view":        nil,
				"create":      {"file_text"},
				"str_replace": {"old_str"},
				"insert":      {"new_str", "insert_line"},
				"undo_edit":   nil,
			},
		},
		Handler: e.handle,
	}
}

func (e *textEditor) handle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	raw, _ := stringParam(params, "path")
	path, err := resolvePath(baseDir(e.opts, toolexecutor.WorkingDirFromContext(ctx)), raw)
	if err != nil {
		return nil, err
	}

	command, _ := stringParam(params, "command")
	switch command {
	case "view":
		return e.view(path, params["view_range"])
	case "create":
		text, _ := stringParam(params, "file_text")
		return e.create(path, text)
	case "str_replace":
		oldStr, _ := stringParam(params, "old_str")
		newStr, _ := stringParam(params, "new_str")
		return e.replace(path, oldStr, newStr)
	case "insert":
		newStr, _ := stringParam(params, "new_str")
		line, ok := intParam(params, "insert_line")
		if !ok {
			return nil, errors.New("insert_line must be an integer")
		}
		return e.insert(path, line, newStr)
	case "undo_edit":
		return e.undo(path)
	default:
		return nil, fmt.Errorf("unknown text_editor command %q", command)
	}
}

func (e *textEditor) view(path string, rawRange interface{}) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("the path %s does not exist", path)
		}
		return "", err
	}
	if info.IsDir() {
		if rawRange != nil {
			return "", errors.New("view_range is not allowed when path points to a directory")
		}
		return listDirectory(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := splitLines(string(data))

	start, end := 1, len(lines)
	if rawRange != nil {
		bounds, ok := intSlice(rawRange)
		if !ok || len(bounds) != 2 {
			return "", errors.New("view_range must be a list of two integers")
		}
		start, end = clampRange(bounds[0], bounds[1], len(lines))
		if len(lines) > 0 && start > len(lines) {
			return "", fmt.Errorf("view_range start %d is beyond the end of the file (%d lines)", bounds[0], len(lines))
		}
		if end < start {
			return "", fmt.Errorf("view_range end %d is before start %d", bounds[1], bounds[0])
		}
	}

	return numberLines(lines, start, end), nil
}

// clampRange applies 1-based inclusive bounds: start is raised to 1, end is capped at the
// line count and -1 means the last line.
func clampRange(start, end, total int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end == -1 || end > total {
		end = total
	}
	return start, end
}

func numberLines(lines []string, start, end int) string {
	var b strings.Builder
	for i := start; i <= end && i <= len(lines); i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
	}
	return b.String()
}

func listDirectory(path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Entries in %s:\n%s", path, strings.Join(names, "\n")), nil
}

func (e *textEditor) create(path, text string) (string, error) {
	prev, err := readSnapshot(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", err
	}
	e.push(path, prev)

	if prev.exists {
		return fmt.Sprintf("Overwrote %s\n%s", path, diffText(path, prev.content, text)), nil
	}
	return fmt.Sprintf("Created %s", path), nil
}

func (e *textEditor) replace(path, oldStr, newStr string) (string, error) {
	content, err := readExisting(path)
	if err != nil {
		return "", err
	}
	if oldStr == "" {
		return "", errors.New("old_str must not be empty")
	}

	switch n := strings.Count(content, oldStr); n {
	case 0:
		return "", fmt.Errorf("old_str was not found in %s", path)
	case 1:
	default:
		return "", fmt.Errorf("old_str occurs %d times in %s; it must be unique", n, path)
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", err
	}
	e.push(path, snapshot{content: content, exists: true})

	return fmt.Sprintf("Edited %s\n%s", path, diffText(path, content, updated)), nil
}

func (e *textEditor) insert(path string, line int, newStr string) (string, error) {
	content, err := readExisting(path)
	if err != nil {
		return "", err
	}

	lines := splitLines(content)
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d is out of range [0, %d]", line, len(lines))
	}

	inserted := splitLines(newStr)
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:line]...)
	out = append(out, inserted...)
	out = append(out, lines[line:]...)

	updated := strings.Join(out, "\n")
	if strings.HasSuffix(content, "\n") || content == "" {
		updated += "\n"
	}
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", err
	}
	e.push(path, snapshot{content: content, exists: true})

	return fmt.Sprintf("Inserted into %s after line %d\n%s", path, line, diffText(path, content, updated)), nil
}

func (e *textEditor) undo(path string) (string, error) {
	e.mu.Lock()
	stack := e.history[path]
	if len(stack) == 0 {
		e.mu.Unlock()
		return "", fmt.Errorf("no edit history for %s", path)
	}
	prev := stack[len(stack)-1]
	e.history[path] = stack[:len(stack)-1]
	e.mu.Unlock()

	if !prev.exists {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		return fmt.Sprintf("Undid creation of %s", path), nil
	}
	if err := os.WriteFile(path, []byte(prev.content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Restored %s to its previous version", path), nil
}

func (e *textEditor) push(path string, s snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[path] = append(e.history[path], s)
}

func readSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot{}, nil
		}
		return snapshot{}, err
	}
	return snapshot{content: string(data), exists: true}, nil
}

func readExisting(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("the file %s does not exist; use create first", path)
		}
		return "", err
	}
	return string(data), nil
}

// splitLines splits on newlines, ignoring one trailing newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// diffText renders the change as a patch with file headers.
func diffText(path, before, after string) string {
	if before == after {
		return "(no changes)"
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(before, diffs)
	return fmt.Sprintf("--- %s\n+++ %s\n%s", path, path, dmp.PatchToText(patches))
}
