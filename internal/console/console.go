// Package console is the line-oriented operator terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/resolve"
)

type line struct {
	text string
	err  error
}

// Console reads operator input one line at a time and writes prompts and
// messages to its output. A single goroutine reads the input so that a
// pending read can be abandoned when the context is cancelled.
type Console struct {
	out io.Writer

	start sync.Once
	in    *bufio.Reader
	lines chan line
}

// New creates a Console reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:   out,
		in:    bufio.NewReader(in),
		lines: make(chan line),
	}
}

func (c *Console) readLoop() {
	for {
		text, err := c.in.ReadString('\n')
		if err != nil && (err != io.EOF || text == "") {
			c.lines <- line{err: err}
			close(c.lines)
			return
		}
		c.lines <- line{text: strings.TrimRight(text, "\r\n")}
	}
}

// ReadLine prints prompt and returns the next input line without its line ending.
// It returns io.EOF at end of input and an INTERRUPTED error when ctx is cancelled.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	c.start.Do(func() { go c.readLoop() })

	select {
	case <-ctx.Done():
		return "", errors.NewInterrupted(ctx.Err())
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if l.err != nil {
			return "", l.err
		}
		return l.text, nil
	}
}

// Ask implements resolve.Operator.
func (c *Console) Ask(ctx context.Context, q resolve.Question) (string, error) {
	return c.ReadLine(ctx, q.Prompt())
}

// Tell implements resolve.Operator.
func (c *Console) Tell(msg string) {
	fmt.Fprintln(c.out, msg)
}

// Printf writes a formatted message to the operator.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Writer exposes the operator output, e.g. for reports.
func (c *Console) Writer() io.Writer {
	return c.out
}
