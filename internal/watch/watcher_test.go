package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptrt/internal/pubsub"
)

func TestDebouncer_BatchesChanges(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	d := NewDebouncer(20*time.Millisecond, func(files []string) {
		mu.Lock()
		batches = append(batches, files)
		mu.Unlock()
	})

	d.Add("b.go")
	d.Add("a.go")
	d.Add("b.go")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a.go", "b.go"}, batches[0])
	mu.Unlock()
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	called := make(chan struct{}, 1)
	d := NewDebouncer(20*time.Millisecond, func([]string) { called <- struct{}{} })
	d.Add("a.go")
	d.Stop()
	d.Add("b.go")

	select {
	case <-called:
		t.Fatal("callback ran after Stop")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWatcher_Matches(t *testing.T) {
	w := New(Config{Root: "scripts", Extensions: []string{".go", ".hcl"}}, nil)

	assert.True(t, w.matches("scripts/player.go"))
	assert.True(t, w.matches("scripts/enemy/enemy.hcl"))
	assert.False(t, w.matches("scripts/player_test.go"))
	assert.False(t, w.matches("scripts/.player.go.swp"))
	assert.False(t, w.matches("scripts/readme.md"))
}

func TestWatcher_PublishesReloadRequests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "player.go"), []byte("package player"), 0o644))

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan pubsub.ReloadRequest, 4)
	require.NoError(t, pubsub.Subscribe(ctx, bus, pubsub.ReloadRequested, func(ctx context.Context, req pubsub.ReloadRequest, msg pubsub.Message) error {
		assert.Equal(t, Source, msg.Source)
		requests <- req
		return nil
	}))

	w := New(Config{Root: root, Extensions: []string{".go"}, Debounce: 50 * time.Millisecond}, bus)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.True(t, w.Running())

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "player.go"), []byte("package player\n"), 0o644))

	select {
	case req := <-requests:
		assert.Equal(t, root, req.Ref)
		assert.Equal(t, []string{filepath.Join(root, "player.go")}, req.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload request published")
	}

	// Directories created later are watched too.
	sub := filepath.Join(root, "enemies")
	require.NoError(t, os.Mkdir(sub, 0o755))
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(sub, "enemy.go"), []byte("package enemy"), 0o644)
		select {
		case req := <-requests:
			for _, p := range req.Paths {
				if p == filepath.Join(sub, "enemy.go") {
					return true
				}
			}
			return false
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.Running())
}

func TestWatcher_MissingRoot(t *testing.T) {
	w := New(Config{Root: filepath.Join(t.TempDir(), "missing")}, nil)
	require.NoError(t, w.Start(context.Background()))
	assert.False(t, w.Running())
	assert.NoError(t, w.Stop())
}
