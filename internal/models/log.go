package models

import "time"

// LogEntry is one captured line of process output. Messages are stored
// ANSI-stripped; timestamps are UTC.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	IsStderr  bool      `json:"is_stderr"`
	Message   string    `json:"message"`
}
