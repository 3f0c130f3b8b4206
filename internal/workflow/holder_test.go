package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderSnapshot(t *testing.T) {
	holder := NewHolder()
	require.NotNil(t, holder.Config())
	assert.Empty(t, holder.Revision())

	cfg := &Config{Globals: Globals{BasePath: "svc"}}
	holder.Set(cfg, "rev-1")

	got, rev := holder.Snapshot()
	assert.Same(t, cfg, got)
	assert.Equal(t, "rev-1", rev)
	assert.Equal(t, "rev-1", holder.Revision())
}

func TestHolderWatch(t *testing.T) {
	holder := NewHolder()
	ch := holder.Watch()

	holder.Set(&Config{}, "rev-1")

	select {
	case rev := <-ch:
		assert.Equal(t, "rev-1", rev)
	case <-time.After(time.Second):
		t.Fatal("watcher not notified")
	}
}

func TestHolderWatchKeepsLatest(t *testing.T) {
	holder := NewHolder()
	ch := holder.Watch()

	// A lagging watcher only ever sees the newest revision.
	holder.Set(&Config{}, "rev-1")
	holder.Set(&Config{}, "rev-2")
	holder.Set(&Config{}, "rev-3")

	select {
	case rev := <-ch:
		assert.Equal(t, "rev-3", rev)
	case <-time.After(time.Second):
		t.Fatal("watcher not notified")
	}
	select {
	case rev := <-ch:
		t.Fatalf("unexpected second notification %q", rev)
	default:
	}
}
