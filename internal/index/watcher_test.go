package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileInvalidates(t *testing.T) {
	vaultDir, store := testutil.TestVault(t)
	idx := New(store, "Blinko", quiet)
	_ = os.MkdirAll(filepath.Join(vaultDir, "Blinko"), 0o755)
	_, _, _ = idx.Lookup(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var paths []string
	go Watch(ctx, idx, vaultDir, quiet, func(p string) {
		mu.Lock()
		paths = append(paths, p)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(vaultDir, "Blinko", "x-blinko-3.md"), []byte("x\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok, _ := idx.Lookup(3)
		return ok
	}, "new file not visible after watcher invalidation")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range paths {
			if p == "Blinko/x-blinko-3.md" {
				return true
			}
		}
		return false
	}, "expected callback for Blinko/x-blinko-3.md")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, store := testutil.TestVault(t)
	idx := New(store, "Blinko", quiet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, idx, vaultDir, quiet, nil)
	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(vaultDir, "Blinko", "Flash")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(300 * time.Millisecond)
	_, _, _ = idx.Lookup(0)

	_ = os.WriteFile(filepath.Join(subDir, "deep-blinko-4.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok, _ := idx.Lookup(4)
		return ok
	}, "file in new subdir not picked up after invalidation")
}

func TestWatcher_DeleteInvalidates(t *testing.T) {
	vaultDir, store := testutil.TestVault(t)
	_ = store.Write("Blinko/del-blinko-9.md", []byte("x\n"))
	idx := New(store, "Blinko", quiet)
	if _, ok, _ := idx.Lookup(9); !ok {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, idx, vaultDir, quiet, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(vaultDir, "Blinko", "del-blinko-9.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok, _ := idx.Lookup(9)
		return !ok
	}, "deleted file still in index")
}
