package workflow

import "sync"

// Holder publishes the active configuration snapshot together with the
// workspace revision it was loaded from. Replacements are atomic: readers
// always see a complete snapshot, never a half-applied one.
type Holder struct {
	mu       sync.RWMutex
	cfg      *Config
	revision string
	watchers []chan string
}

func NewHolder() *Holder {
	return &Holder{cfg: &Config{}}
}

// Set replaces the active snapshot and notifies watchers of the new
// revision. Watcher channels hold at most one pending revision; when a
// watcher lags, the stale notification is replaced by the latest.
func (h *Holder) Set(cfg *Config, revision string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	h.revision = revision
	for _, ch := range h.watchers {
		select {
		case ch <- revision:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- revision:
			default:
			}
		}
	}
}

// Config returns the active snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Revision returns the workspace revision of the active snapshot, or the
// empty string before the first Set.
func (h *Holder) Revision() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.revision
}

// Snapshot returns the active configuration and its revision together so
// callers cannot observe a torn pair.
func (h *Holder) Snapshot() (*Config, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg, h.revision
}

// Watch registers a channel that receives the revision of every future
// Set. The channel is never closed.
func (h *Holder) Watch() <-chan string {
	ch := make(chan string, 1)
	h.mu.Lock()
	h.watchers = append(h.watchers, ch)
	h.mu.Unlock()
	return ch
}
