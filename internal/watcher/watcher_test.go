package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_DebouncesBurstIntoOneRebuild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes: []\n"), 0o644))

	w := New(path, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("routes: []\n"), 0o644))
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case data := <-w.Rebuilds:
		require.Equal(t, "routes: []\n", string(data))
	case <-time.After(time.Second):
		t.Fatal("expected a coalesced rebuild request")
	}

	select {
	case <-w.Rebuilds:
		t.Fatal("expected only one coalesced rebuild request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_MissingPathLogsAndReturns(t *testing.T) {
	w := New("/nonexistent/path/config.yaml", DefaultDebounce, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx) // must return promptly rather than hang
}
