package logstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/weft-run/weft/internal/models"
)

// maxLineSize bounds a single log line; anything longer was truncated
// upstream anyway.
const maxLineSize = 1 << 20

// Iterator streams log entries from one cache file without loading it
// into memory. Callers must Close it.
type Iterator struct {
	file    *os.File
	scanner *bufio.Scanner
}

func newIterator(path string) (*Iterator, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Iterator{file: file, scanner: scanner}, nil
}

// Next returns the next entry, or false at end of stream. Lines that do
// not parse (a torn write from a crash) are skipped.
func (it *Iterator) Next() (models.LogEntry, bool) {
	for it.scanner.Scan() {
		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		return entry, true
	}
	return models.LogEntry{}, false
}

// Err reports a read failure after Next returns false.
func (it *Iterator) Err() error {
	return it.scanner.Err()
}

func (it *Iterator) Close() error {
	return it.file.Close()
}

// All drains the iterator and closes it.
func (it *Iterator) All() ([]models.LogEntry, error) {
	defer func() { _ = it.Close() }()
	var entries []models.LogEntry
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
