package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405.000"

// RotatingWriter is a writer that rotates log files once they exceed a size limit,
// keeping at most maxBackups rotated copies.
type RotatingWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64 // bytes
	maxBackups  int
	compress    bool
	currentFile *os.File
	currentSize int64
}

// NewRotatingWriter creates a new rotating writer. maxSizeMB <= 0 disables rotation and
// maxBackups <= 0 keeps every rotated file.
func NewRotatingWriter(filename string, maxSizeMB int, maxBackups int, compress bool) (*RotatingWriter, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &RotatingWriter{
		filename:    filename,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxBackups:  maxBackups,
		compress:    compress,
		currentFile: file,
		currentSize: info.Size(),
	}, nil
}

// Write writes data to the log file, rotating first if p would overflow it.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return 0, os.ErrClosed
	}

	if w.maxSize > 0 && w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return os.ErrClosed
	}
	return w.rotate()
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// rotate moves the current file aside and opens a fresh one. Callers hold mu.
func (w *RotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}

	rotatedName := fmt.Sprintf("%s.%s", w.filename, time.Now().Format(backupTimeFormat))
	if err := os.Rename(w.filename, rotatedName); err != nil {
		return err
	}

	if w.compress {
		if err := compressFile(rotatedName); err != nil {
			return fmt.Errorf("failed to compress rotated log: %w", err)
		}
	}

	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.currentFile = file
	w.currentSize = 0

	w.prune()
	return nil
}

// compressFile gzips filename into filename.gz and removes the original.
func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

// backups returns the rotated copies of the log, oldest first.
func (w *RotatingWriter) backups() []string {
	files, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return nil
	}

	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, ".tmp") {
			continue
		}
		out = append(out, f)
	}
	// Timestamps sort lexically.
	sort.Strings(out)
	return out
}

// prune removes the oldest rotated copies beyond maxBackups.
func (w *RotatingWriter) prune() {
	if w.maxBackups <= 0 {
		return
	}
	files := w.backups()
	for len(files) > w.maxBackups {
		os.Remove(files[0])
		files = files[1:]
	}
}
