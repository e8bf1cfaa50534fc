package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func startWatcher(t *testing.T, path string, reload ReloadFunc) *Watcher {
	t.Helper()
	w, err := New(path, reload, WithDebounce(20*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.json")
	writeFile(t, path, "[]")

	var calls atomic.Int32
	w := startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	writeFile(t, path, `[{"id": "a"}]`)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, w.Stats().Reloads, 1)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.json")
	writeFile(t, path, "[]")

	var calls atomic.Int32
	w, err := New(path, func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithDebounce(200*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		writeFile(t, path, "[]")
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.json")
	writeFile(t, path, "[]")

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	writeFile(t, filepath.Join(dir, "notes.txt"), "hi")
	writeFile(t, filepath.Join(dir, "other.json"), "[]")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcher_DirectoryTree(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "email")
	require.NoError(t, os.Mkdir(sub, 0o755))

	var calls atomic.Int32
	startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	writeFile(t, filepath.Join(dir, "README.md"), "docs")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "non-catalog files are ignored")

	writeFile(t, filepath.Join(sub, "bonus.cue"), "message: {}")
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32
	w := startWatcher(t, dir, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	sub := filepath.Join(dir, "ledger")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "a new directory alone is not a catalog change")

	writeFile(t, filepath.Join(sub, "salaries.json"), "[]")
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, w.Stats().Errors)
}

func TestWatcher_WatchDirFailureIsCounted(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context) error { return nil }, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer w.Stop()

	w.watchDir(filepath.Join(t.TempDir(), "gone"))
	assert.Equal(t, 1, w.Stats().Errors)
}

func TestWatcher_ReloadErrorIsCounted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messages.json")
	writeFile(t, path, "[]")

	w := startWatcher(t, path, func(context.Context) error {
		return errors.New("bad catalog")
	})

	writeFile(t, path, "{")
	require.Eventually(t, func() bool { return w.Stats().Errors >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, w.Stats().Reloads)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeFile(t, path, "[]")

	w, err := New(path, func(context.Context) error { return nil }, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()

	assert.Error(t, w.Start(context.Background()), "stopped watcher cannot restart")
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeFile(t, path, "[]")

	w, err := New(path, func(context.Context) error { return nil })
	require.NoError(t, err)
	w.Stop()
}

func TestWatcher_ContextCancelStopsLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeFile(t, path, "[]")

	w, err := New(path, func(context.Context) error { return nil }, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	w.Stop()
}

func TestNew_Errors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.json"), func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New(t.TempDir(), nil)
	assert.Error(t, err)
}
