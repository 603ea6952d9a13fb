package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/goose/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

type processStatus string

const (
	statusRunning   processStatus = "running"
	statusExited    processStatus = "exited"
	statusFailed    processStatus = "failed"
	statusCancelled processStatus = "cancelled"
)

// lockedBuffer collects output written concurrently by stdout and stderr.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type backgroundProcess struct {
	id       int
	command  string
	cmd      *exec.Cmd
	output   *lockedBuffer
	started  time.Time
	done     chan struct{}
	mu       sync.Mutex
	status   processStatus
	exitCode int
}

func (p *backgroundProcess) state() (processStatus, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exitCode
}

// processManager owns the background processes started through the process_manager tool.
type processManager struct {
	opts   Options
	mu     sync.Mutex
	nextID int
	procs  map[int]*backgroundProcess
}

func newProcessManager(opts Options) *processManager {
	return &processManager{opts: opts, nextID: 1, procs: make(map[int]*backgroundProcess)}
}

func (m *processManager) definition() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "process_manager",
		Description: "Manage background processes.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Required: true,
				Description: "The command to run. Allowed options are: `start`, `list`, `view_output`, `cancel`.",
				Enum:        []string{"start", "list", "view_output", "cancel"}},
			{Name: "shell_command", Type: "string",
				Description: "Required parameter for the `start` command, the shell command to run in the background."},
			{Name: "process_id", Type: "integer",
				Description: "Required parameter for `view_output` and `cancel` commands, the id returned by `start`."},
		},
		Dispatch: &toolexecutor.Dispatch{
			Parameter: "command",
			Required: map[string][]string{
				"start":       {"shell_command"},
				"list":        nil,
				"view_output": {"process_id"},
				"cancel":      {"process_id"},
			},
		},
		Handler: m.handle,
	}
}

func (m *processManager) handle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	command, _ := stringParam(params, "command")
	switch command {
	case "start":
		shellCommand, _ := stringParam(params, "shell_command")
		return m.start(baseDir(m.opts, toolexecutor.WorkingDirFromContext(ctx)), shellCommand)
	case "list":
		return m.list(), nil
	case "view_output":
		id, ok := intParam(params, "process_id")
		if !ok {
			return nil, errors.New("process_id must be an integer")
		}
		return m.viewOutput(id)
	case "cancel":
		id, ok := intParam(params, "process_id")
		if !ok {
			return nil, errors.New("process_id must be an integer")
		}
		return m.cancel(id)
	default:
		return nil, fmt.Errorf("unknown process_manager command %q", command)
	}
}

func (m *processManager) start(dir, shellCommand string) (map[string]interface{}, error) {
	if strings.TrimSpace(shellCommand) == "" {
		return nil, errors.New("shell_command must not be empty")
	}

	// The process outlives the tool call, so it is not bound to the call context.
	cmd := exec.Command(shellPath(), "-c", shellCommand)
	cmd.Dir = dir
	setProcessGroup(cmd)
	output := &lockedBuffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	proc := &backgroundProcess{
		id:      id,
		command: shellCommand,
		cmd:     cmd,
		output:  output,
		started: time.Now(),
		done:    make(chan struct{}),
		status:  statusRunning,
	}
	m.procs[id] = proc
	m.mu.Unlock()

	go m.wait(proc)

	log.Debug().Int("process_id", id).Str("command", shellCommand).Msg("Background process started")
	return map[string]interface{}{"process_id": id, "status": string(statusRunning)}, nil
}

func (m *processManager) wait(p *backgroundProcess) {
	err := p.cmd.Wait()

	p.mu.Lock()
	if p.status != statusCancelled {
		p.status = statusExited
		p.exitCode = p.cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.status = statusFailed
		}
	}
	p.mu.Unlock()
	close(p.done)
}

func (m *processManager) get(id int) (*backgroundProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	if !ok {
		return nil, fmt.Errorf("no background process with id %d", id)
	}
	return p, nil
}

func (m *processManager) list() string {
	m.mu.Lock()
	procs := make([]*backgroundProcess, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	if len(procs) == 0 {
		return "No background processes."
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].id < procs[j].id })

	var b strings.Builder
	for _, p := range procs {
		status, code := p.state()
		label := string(status)
		if status == statusExited {
			label = fmt.Sprintf("exited(%d)", code)
		}
		fmt.Fprintf(&b, "%d\t%s\t%s\n", p.id, label, p.command)
	}
	return b.String()
}

func (m *processManager) viewOutput(id int) (string, error) {
	p, err := m.get(id)
	if err != nil {
		return "", err
	}
	return truncateChars(p.output.String(), maxShellOutput), nil
}

func (m *processManager) cancel(id int) (string, error) {
	p, err := m.get(id)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.status != statusRunning {
		status := p.status
		p.mu.Unlock()
		return fmt.Sprintf("Process %d is not running (%s)", id, status), nil
	}
	p.status = statusCancelled
	p.mu.Unlock()

	if err := terminateGroup(p.cmd); err != nil {
		return "", fmt.Errorf("failed to cancel process %d: %w", id, err)
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
	}
	return fmt.Sprintf("Cancelled process %d", id), nil
}

// shutdown cancels every running process.
func (m *processManager) shutdown() error {
	m.mu.Lock()
	ids := make([]int, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.cancel(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
