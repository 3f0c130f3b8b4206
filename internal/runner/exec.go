package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/logsink"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/stringutil"
)

// outputPrefix marks stdout lines that carry the action's structured
// output. The lines still appear in the log stream.
const outputPrefix = "OUTPUT:"

// maxLineSize bounds a single captured output line.
const maxLineSize = 1024 * 1024

// runShell executes command by writing it to sh's standard input. Every
// output line is ANSI-stripped, timestamped and delivered to the sink.
// Captured OUTPUT lines are joined and parsed after exit; the parse result
// (or raw string) is returned even when the command failed. The error is
// non-nil unless the process exited zero.
func runShell(ctx context.Context, command, dir string, sink logsink.Sink) (any, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create working directory: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, "sh")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(command)
	// Run in its own process group and kill the whole group on cancel, so
	// children of sh cannot outlive the job and hold the pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sh: %w", err)
	}

	var captured []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		captured = scanLines(ctx, stdout, false, sink)
	}()
	go func() {
		defer wg.Done()
		scanLines(ctx, stderr, true, sink)
	}()

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	output := parseCapture(captured)
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return output, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return output, waitErr
	}
	return output, nil
}

// scanLines forwards each line of r to the sink and returns the OUTPUT
// captures found on stdout.
func scanLines(ctx context.Context, r io.Reader, isStderr bool, sink logsink.Sink) []string {
	var captured []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := stringutil.StripANSI(scanner.Text())
		if !isStderr && strings.HasPrefix(line, outputPrefix) {
			captured = append(captured, strings.TrimSpace(strings.TrimPrefix(line, outputPrefix)))
		}
		sink.Log(models.LogEntry{
			Timestamp: time.Now().UTC(),
			IsStderr:  isStderr,
			Message:   line,
		})
	}
	if err := scanner.Err(); err != nil {
		logger.Warn(ctx, "Output scan stopped", tag.Error(err))
	}
	return captured
}

// parseCapture joins the captured lines and attempts a JSON parse; parse
// failure yields the raw string, no capture yields nil.
func parseCapture(lines []string) any {
	if len(lines) == 0 {
		return nil
	}
	joined := strings.Join(lines, "\n")
	var parsed any
	if err := json.Unmarshal([]byte(joined), &parsed); err != nil {
		return joined
	}
	return parsed
}
