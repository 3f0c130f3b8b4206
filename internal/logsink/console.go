package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/weft-run/weft/internal/models"
)

var (
	bannerColor = color.New(color.FgCyan, color.Bold)
	stderrColor = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed)
)

// ConsoleSink prints runner output to a terminal. It is the sink for
// standalone runs without a server.
type ConsoleSink struct {
	mu   sync.Mutex
	out  io.Writer
	step string
}

var _ Sink = (*ConsoleSink)(nil)

// NewConsole creates a sink writing to stdout.
func NewConsole() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// NewConsoleWriter creates a sink writing to w.
func NewConsoleWriter(w io.Writer) *ConsoleSink {
	return &ConsoleSink{out: w}
}

// Log prints one captured line, prefixed with its timestamp. Stderr
// lines are tinted.
func (s *ConsoleSink) Log(entry models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := entry.Timestamp.Format("15:04:05")
	if entry.IsStderr {
		fmt.Fprintf(s.out, "%s %s\n", ts, stderrColor.Sprint(entry.Message))
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", ts, entry.Message)
}

// SetStepName switches the scope for subsequent banners.
func (s *ConsoleSink) SetStepName(name string) {
	s.mu.Lock()
	s.step = name
	s.mu.Unlock()
}

// MarkStart prints a banner for the scope that is starting.
func (s *ConsoleSink) MarkStart(_ context.Context, _ time.Time, input any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == "" {
		fmt.Fprintln(s.out, bannerColor.Sprint("── run ──"))
	} else {
		fmt.Fprintln(s.out, bannerColor.Sprintf("── step %s ──", s.step))
	}
	if input != nil {
		fmt.Fprintf(s.out, "input: %s\n", compactJSON(input))
	}
	return nil
}

// StoreResults prints the scope's outcome and output.
func (s *ConsoleSink) StoreResults(_ context.Context, result models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := okColor.Sprint("succeeded")
	if !result.Success {
		status = failColor.Sprint("failed")
	}
	if s.step == "" {
		fmt.Fprintf(s.out, "run %s in %s\n", status,
			result.EndDatetime.Sub(result.StartDatetime).Round(time.Millisecond))
	} else {
		fmt.Fprintf(s.out, "step %s %s\n", s.step, status)
	}
	if result.Output != nil {
		fmt.Fprintf(s.out, "output: %s\n", compactJSON(result.Output))
	}
	return nil
}

// Flush is a no-op; console writes are synchronous.
func (s *ConsoleSink) Flush(context.Context) error { return nil }

// Close is a no-op.
func (s *ConsoleSink) Close() error { return nil }

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
