// Package console writes bracket-prefixed log lines such as
// "[Supervisor] Started child 3 (PID: 1234)".
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger prints prefixed lines to an output and an error stream.
type Logger struct {
	prefix string
	out    io.Writer
	errOut io.Writer
	tag    *color.Color
	errTag *color.Color
	mu     *sync.Mutex
}

// New creates a logger for the process console. The prefix is coloured when
// stdout is a terminal.
func New(prefix string) *Logger {
	l := &Logger{
		prefix: prefix,
		out:    writerFor(os.Stdout),
		errOut: writerFor(os.Stderr),
		tag:    color.New(color.FgCyan),
		errTag: color.New(color.FgRed, color.Bold),
		mu:     &sync.Mutex{},
	}
	if !isTerminal(os.Stdout) {
		l.tag.DisableColor()
		l.errTag.DisableColor()
	}
	return l
}

// NewWriter creates an uncoloured logger writing both streams to w.
func NewWriter(prefix string, w io.Writer) *Logger {
	l := &Logger{
		prefix: prefix,
		out:    w,
		errOut: w,
		tag:    color.New(),
		errTag: color.New(),
		mu:     &sync.Mutex{},
	}
	l.tag.DisableColor()
	l.errTag.DisableColor()
	return l
}

// With returns a logger sharing the same outputs under another prefix.
func (l *Logger) With(prefix string) *Logger {
	child := *l
	child.prefix = prefix
	return &child
}

// Printf writes an informational line.
func (l *Logger) Printf(format string, args ...any) {
	l.write(l.out, l.tag, format, args...)
}

// Errorf writes a line to the error stream.
func (l *Logger) Errorf(format string, args ...any) {
	l.write(l.errOut, l.errTag, format, args...)
}

func (l *Logger) write(w io.Writer, tag *color.Color, format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prefix == "" {
		fmt.Fprintln(w, msg)
		return
	}
	fmt.Fprintf(w, "%s %s\n", tag.Sprintf("[%s]", l.prefix), msg)
}

func writerFor(f *os.File) io.Writer {
	if isTerminal(f) {
		return colorable.NewColorable(f)
	}
	return f
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
