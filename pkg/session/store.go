package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/goose/internal/observability"
	"github.com/harun/goose/internal/tracing"
	"github.com/harun/goose/pkg/message"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	logExt      = ".jsonl"
	maxLineSize = 16 << 20
)

// Info describes one session log on disk.
type Info struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store persists session histories as JSONL files, one message envelope per line and
// one <name>.jsonl file per session.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed. An empty dir uses
// ~/.config/goose/sessions.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".config", "goose", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &PersistenceError{Op: "init", Session: "*", Err: fmt.Errorf("failed to create sessions directory: %w", err)}
	}

	log.Debug().Str("dir", dir).Msg("Session store initialized")
	return &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ValidateName rejects names that could escape the sessions directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: name cannot contain '..'", ErrInvalidName)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("%w: name cannot contain path separators", ErrInvalidName)
	case strings.Contains(name, "\x00"):
		return fmt.Errorf("%w: name cannot contain null bytes", ErrInvalidName)
	}
	return nil
}

// Path returns the log file of a session.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+logExt)
}

func (s *Store) writeLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[name]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[name] = lock
	return lock
}

// Exists reports whether a log file exists for name.
func (s *Store) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Load reads a session's messages in order. A missing log is an empty session. A line
// that does not decode to a message fails the whole load.
func (s *Store) Load(ctx context.Context, name string) ([]message.Message, error) {
	ctx = tracing.WithSession(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "session.load", attribute.String("session.name", name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	fail := func(err error) ([]message.Message, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := ValidateName(name); err != nil {
		return fail(err)
	}

	file, err := os.Open(s.Path(name))
	if os.IsNotExist(err) {
		logger.Debug().Msg("Session log does not exist")
		return []message.Message{}, nil
	}
	if err != nil {
		return fail(&PersistenceError{Op: "load", Session: name, Err: err})
	}
	defer file.Close()

	var msgs []message.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg message.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return fail(&PersistenceError{Op: "load", Session: name, Line: lineNum, Err: err})
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return fail(&PersistenceError{Op: "load", Session: name, Err: err})
	}

	logger.Debug().Int("messages", len(msgs)).Msg("Session loaded")
	return msgs, nil
}

// Append writes msgs to the end of a session's log, creating it if needed.
func (s *Store) Append(ctx context.Context, name string, msgs ...message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.write(ctx, "append", name, msgs, os.O_CREATE|os.O_APPEND|os.O_WRONLY)
}

// Rewrite replaces a session's log with msgs through a temp file and rename, so readers
// never see a half-written log.
func (s *Store) Rewrite(ctx context.Context, name string, msgs []message.Message) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(name)
	tempPath := path + ".tmp"

	if err := writeLines(tempPath, msgs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY); err != nil {
		os.Remove(tempPath)
		return &PersistenceError{Op: "rewrite", Session: name, Err: err}
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return &PersistenceError{Op: "rewrite", Session: name, Err: fmt.Errorf("failed to replace session log: %w", err)}
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("session", name).
		Int("messages", len(msgs)).
		Msg("Session log rewritten")
	return nil
}

func (s *Store) write(ctx context.Context, op, name string, msgs []message.Message, flag int) error {
	ctx = tracing.WithSession(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "session."+op,
		attribute.String("session.name", name),
		attribute.Int("messages", len(msgs)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateName(name); err != nil {
		span.RecordError(err)
		return err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := writeLines(s.Path(name), msgs, flag); err != nil {
		perr := &PersistenceError{Op: op, Session: name, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		return perr
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Int("messages", len(msgs)).
		Msg("Messages persisted")
	return nil
}

func writeLines(path string, msgs []message.Message, flag int) error {
	file, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}

	var buf []byte
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write messages: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return file.Close()
}

// List returns every session log, most recently modified first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, &PersistenceError{Op: "list", Session: "*", Err: err}
	}

	sessions := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logExt) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, Info{
			Name:    strings.TrimSuffix(entry.Name(), logExt),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].ModTime.Equal(sessions[j].ModTime) {
			return sessions[i].Name < sessions[j].Name
		}
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	return sessions, nil
}

// Latest returns the most recently modified session.
func (s *Store) Latest() (string, error) {
	sessions, err := s.List()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", ErrNoSessions
	}
	return sessions[0].Name, nil
}

// Delete removes a session's log. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "delete", Session: name, Err: err}
	}

	s.locksMu.Lock()
	delete(s.writeLocks, name)
	s.locksMu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().Str("session", name).Msg("Session deleted")
	return nil
}

// Clear deletes every session except the keep most recent and returns the deleted names.
func (s *Store) Clear(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(sessions) <= keep {
		return nil, nil
	}

	var removed []string
	for _, info := range sessions[keep:] {
		if err := s.Delete(ctx, info.Name); err != nil {
			return removed, err
		}
		removed = append(removed, info.Name)
	}
	return removed, nil
}
