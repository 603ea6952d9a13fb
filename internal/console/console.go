// Package console is the terminal operator of a session: it reads operator turns from an
// input stream and renders replies and advisories.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const (
	// Prompt starts every operator turn.
	Prompt = "G❯ "
	// ContinuationPrompt is shown after a line ending in a backslash.
	ContinuationPrompt = "... "
)

type lineResult struct {
	text string
	err  error
}

// Console reads operator input line by line. A trailing backslash continues the turn on
// the next line, and /exit or /quit ends input like end of file.
type Console struct {
	in  *bufio.Reader
	out io.Writer

	mu    sync.Mutex
	start sync.Once
	lines chan lineResult

	prompt *color.Color
	reply  *color.Color
	advice *color.Color
	notice *color.Color
}

// New creates a console reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:     bufio.NewReader(in),
		out:    out,
		lines:  make(chan lineResult),
		prompt: color.New(color.FgCyan, color.Bold),
		reply:  color.New(color.Reset),
		advice: color.New(color.FgYellow),
		notice: color.New(color.FgHiBlack),
	}
}

// DisableColor turns off ANSI colors for this console.
func (c *Console) DisableColor() {
	for _, col := range []*color.Color{c.prompt, c.reply, c.advice, c.notice} {
		col.DisableColor()
	}
}

// readLoop feeds raw lines to ReadLine so that a pending read can be abandoned when the
// caller's context ends.
func (c *Console) readLoop() {
	for {
		line, err := c.in.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- lineResult{text: strings.TrimRight(line, "\r\n")}
		}
		if err != nil {
			c.lines <- lineResult{err: err}
			close(c.lines)
			return
		}
	}
}

func (c *Console) next(ctx context.Context) (lineResult, error) {
	select {
	case <-ctx.Done():
		return lineResult{}, ctx.Err()
	case res, ok := <-c.lines:
		if !ok {
			return lineResult{err: io.EOF}, nil
		}
		return res, nil
	}
}

// ReadLine prompts for and returns one operator turn. It returns io.EOF at end of input
// and ctx.Err() when ctx ends first.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	c.start.Do(func() { go c.readLoop() })

	var parts []string
	c.write(c.prompt.Sprint(Prompt))
	for {
		res, err := c.next(ctx)
		if err != nil {
			return "", err
		}
		if res.err != nil {
			if len(parts) > 0 {
				return strings.Join(parts, "\n"), nil
			}
			if res.err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}

		if len(parts) == 0 {
			switch strings.TrimSpace(res.text) {
			case "/exit", "/quit":
				return "", io.EOF
			}
		}

		if strings.HasSuffix(res.text, "\\") {
			parts = append(parts, strings.TrimSuffix(res.text, "\\"))
			c.write(c.prompt.Sprint(ContinuationPrompt))
			continue
		}
		parts = append(parts, res.text)
		return strings.Join(parts, "\n"), nil
	}
}

// Display renders model text.
func (c *Console) Display(text string) {
	c.write(c.reply.Sprint(text) + "\n")
}

// Advise renders session advisories such as interrupt notices.
func (c *Console) Advise(text string) {
	c.write(c.advice.Sprint(text) + "\n")
}

// Notice renders dimmed status lines.
func (c *Console) Notice(format string, args ...interface{}) {
	c.write(c.notice.Sprintf(format, args...) + "\n")
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s)
}
