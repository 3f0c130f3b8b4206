// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Job creates a tag for job IDs.
func Job(id string) slog.Attr {
	return slog.String("job-id", id)
}

// Step creates a tag for flow step names.
func Step(name string) slog.Attr {
	return slog.String("step", name)
}

// Task creates a tag for task names.
func Task(name string) slog.Attr {
	return slog.String("task", name)
}

// Action creates a tag for action names.
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// Trigger creates a tag for trigger names.
func Trigger(name string) slog.Attr {
	return slog.String("trigger", name)
}

// WorkerID creates a tag for worker instance IDs.
func WorkerID(id string) slog.Attr {
	return slog.String("worker-id", id)
}

// Revision creates a tag for workspace revisions.
func Revision(rev string) slog.Attr {
	return slog.String("revision", rev)
}

// Source creates a tag for job source descriptors.
func Source(src string) slog.Attr {
	return slog.String("source", src)
}

// Status creates a tag for execution status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// ExitCode creates a tag for process exit codes.
func ExitCode(code int) slog.Attr {
	return slog.Int("exit-code", code)
}

// Signal creates a tag for signal names (e.g., SIGTERM).
func Signal(sig string) slog.Attr {
	return slog.String("signal", sig)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Dir creates a tag for directory paths.
func Dir(path string) slog.Attr {
	return slog.String("dir", path)
}

// URL creates a tag for request URLs.
func URL(url string) slog.Attr {
	return slog.String("url", url)
}

// Driver creates a tag for database driver names.
func Driver(name string) slog.Attr {
	return slog.String("driver", name)
}

// Backend creates a tag for storage backend names.
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Count creates a tag for entry counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Interval creates a tag for configured intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Port creates a tag for listener ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}
