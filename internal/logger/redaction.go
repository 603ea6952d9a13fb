package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule replaces matches of pattern with replacement, which may keep capture groups.
type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks credentials before log lines reach disk or the terminal.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Provider keys
			{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), redacted},
			{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), redacted},

			{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`), "Bearer " + redacted},

			// key=value pairs keep the key so the line stays readable
			{regexp.MustCompile(`(?i)\b(password|passwd|token|secret|api_key)(["']?\s*[:=]\s*["']?)[^\s"',&]+`), "${1}${2}" + redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rl := range r.rules {
		result = rl.pattern.ReplaceAllString(result, rl.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; the redacted line is usually shorter and callers
// such as io.MultiWriter treat a short count as an error.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
