// Package logsink delivers runner output. A sink receives captured log
// lines plus start and result reports, and routes them to the server
// (remote) or to the terminal (console). Log delivery is best-effort;
// start and result reports are authoritative.
package logsink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/models"
)

// Sink receives everything a runner produces. SetStepName selects the
// scope for subsequent calls: the empty name means job scope.
type Sink interface {
	// Log enqueues one captured line. It never fails; delivery is
	// best-effort.
	Log(entry models.LogEntry)

	// SetStepName switches the scope for subsequent Log, MarkStart and
	// StoreResults calls.
	SetStepName(name string)

	// MarkStart reports that the current scope has started.
	MarkStart(ctx context.Context, start time.Time, input any) error

	// StoreResults reports the current scope's result. Pending log
	// entries for the scope are delivered first.
	StoreResults(ctx context.Context, result models.JobResult) error

	// Flush blocks until every entry logged so far has been handed to
	// the transport.
	Flush(ctx context.Context) error

	io.Closer
}

const (
	defaultBufferSize = 10
	defaultIdle       = 5 * time.Second
	queueCapacity     = 100
)

// sinkItem travels through the remote sink's queue. A non-nil flush
// channel marks a barrier: the loop closes it once everything queued
// before it has been shipped.
type sinkItem struct {
	entry models.LogEntry
	step  string
	flush chan struct{}
}

// RemoteSink batches log entries and posts them to the server. One
// background goroutine drains a bounded queue into a per-step buffer
// and ships it when it reaches the batch size or the idle interval
// passes without new entries.
type RemoteSink struct {
	client   *client.Client
	jobID    string
	workerID string

	bufferSize int
	idle       time.Duration

	mu     sync.Mutex
	step   string
	closed bool

	ctx   context.Context
	items chan sinkItem
	done  chan struct{}
}

var _ Sink = (*RemoteSink)(nil)

// RemoteOption configures a RemoteSink.
type RemoteOption func(*RemoteSink)

// WithBufferSize sets how many entries trigger an immediate batch post.
func WithBufferSize(n int) RemoteOption {
	return func(s *RemoteSink) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithIdleInterval sets how long the sink waits for more entries
// before posting a partial batch.
func WithIdleInterval(d time.Duration) RemoteOption {
	return func(s *RemoteSink) {
		if d > 0 {
			s.idle = d
		}
	}
}

// NewRemote creates a sink posting to the given server client and
// starts its flush goroutine. ctx scopes the background posts.
func NewRemote(ctx context.Context, cli *client.Client, jobID, workerID string, opts ...RemoteOption) *RemoteSink {
	s := &RemoteSink{
		client:     cli,
		jobID:      jobID,
		workerID:   workerID,
		bufferSize: defaultBufferSize,
		idle:       defaultIdle,
		ctx:        ctx,
		items:      make(chan sinkItem, queueCapacity),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Log enqueues one entry under the current step scope. When the queue
// is full the call blocks, slowing the producer down.
func (s *RemoteSink) Log(entry models.LogEntry) {
	s.mu.Lock()
	step, closed := s.step, s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.items <- sinkItem{entry: entry, step: step}
}

// SetStepName switches the scope. Entries logged afterwards go to the
// step endpoints; the empty name selects the job scope.
func (s *RemoteSink) SetStepName(name string) {
	s.mu.Lock()
	s.step = name
	s.mu.Unlock()
}

// MarkStart posts the start report for the current scope.
func (s *RemoteSink) MarkStart(ctx context.Context, start time.Time, input any) error {
	step := s.currentStep()
	req := models.StartRequest{StartDatetime: start, Input: input}
	if step == "" {
		return s.client.PostJobStart(ctx, s.jobID, s.workerID, req)
	}
	return s.client.PostStepStart(ctx, s.jobID, step, s.workerID, req)
}

// StoreResults flushes pending entries for the scope, then posts the
// result report.
func (s *RemoteSink) StoreResults(ctx context.Context, result models.JobResult) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	step := s.currentStep()
	if step == "" {
		return s.client.PostJobResult(ctx, s.jobID, s.workerID, result)
	}
	return s.client.PostStepResult(ctx, s.jobID, step, s.workerID, result)
}

// Flush sends a barrier through the queue and waits until the loop has
// shipped everything queued before it.
func (s *RemoteSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	ack := make(chan struct{})
	select {
	case s.items <- sinkItem{flush: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close performs a final flush and stops the background goroutine.
func (s *RemoteSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.items)
	<-s.done
	return nil
}

func (s *RemoteSink) currentStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *RemoteSink) loop() {
	defer close(s.done)

	var (
		buf    []models.LogEntry
		step   string
		failed bool
	)
	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	// ship posts the buffer for its step. On failure the buffer is
	// kept for exactly one more flush; a second failure, a step change
	// or shutdown drops it instead of retrying without bound.
	ship := func(final bool) {
		if len(buf) == 0 {
			return
		}
		if err := s.post(step, buf); err != nil {
			logger.Warn(s.ctx, "Log batch delivery failed",
				tag.Job(s.jobID), tag.Step(step), tag.Error(err))
			if !final && !failed {
				failed = true
				return
			}
		}
		buf = nil
		failed = false
	}

	for {
		select {
		case item, ok := <-s.items:
			if !ok {
				ship(true)
				return
			}
			if item.flush != nil {
				ship(false)
				close(item.flush)
			} else {
				if item.step != step {
					ship(true)
					step = item.step
				}
				buf = append(buf, item.entry)
				if len(buf) >= s.bufferSize {
					ship(false)
				}
			}
		case <-timer.C:
			ship(false)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.idle)
	}
}

func (s *RemoteSink) post(step string, entries []models.LogEntry) error {
	if step == "" {
		return s.client.PostJobLogs(s.ctx, s.jobID, entries)
	}
	return s.client.PostStepLogs(s.ctx, s.jobID, step, entries)
}
