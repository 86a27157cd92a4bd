package index

import (
	"io"
	"log/slog"
	"testing"

	"github.com/double-tu/blinko-to-obsidian/internal/storage"
	"github.com/double-tu/blinko-to-obsidian/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func write(t *testing.T, s storage.Provider, p, content string) {
	t.Helper()
	if err := s.Write(p, []byte(content)); err != nil {
		t.Fatalf("Write %s: %v", p, err)
	}
}

func TestLookup_ScansSuffixAndFrontmatter(t *testing.T) {
	_, store := testutil.TestVault(t)
	write(t, store, "Blinko/Flash/2024-01-02 hello-blinko-10.md", "no frontmatter\n")
	write(t, store, "Blinko/Notes/11.md", "---\nid: 11\nsource: blinko\n---\n\nbody\n")
	write(t, store, "Elsewhere/moved.md", "---\nid: 12\nsource: blinko\n---\n\nbody\n")
	write(t, store, "Elsewhere/mine.md", "---\nid: 13\n---\n\nnot ours\n")
	write(t, store, "Blinko/plain.md", "# just a note\n")

	idx := New(store, "Blinko", quiet)
	cases := map[int64]string{
		10: "Blinko/Flash/2024-01-02 hello-blinko-10.md",
		11: "Blinko/Notes/11.md",
		12: "Elsewhere/moved.md",
	}
	for id, want := range cases {
		got, ok, err := idx.Lookup(id)
		if err != nil || !ok || got != want {
			t.Errorf("Lookup(%d) = %q, %v, %v; want %q", id, got, ok, err, want)
		}
	}
	if _, ok, _ := idx.Lookup(13); ok {
		t.Error("file outside the root without the source marker must not be indexed")
	}

	entries, err := idx.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 || entries[0].ID != 10 || entries[2].ID != 12 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLookup_RootCopyWins(t *testing.T) {
	_, store := testutil.TestVault(t)
	write(t, store, "Archive/copy.md", "---\nid: 5\nsource: blinko\n---\n\nx\n")
	write(t, store, "Blinko/real-blinko-5.md", "---\nid: 5\nsource: blinko\n---\n\nx\n")

	idx := New(store, "Blinko", quiet)
	got, _, _ := idx.Lookup(5)
	if got != "Blinko/real-blinko-5.md" {
		t.Errorf("Lookup(5) = %q", got)
	}
}

func TestPutRemove_UpdateFreshCache(t *testing.T) {
	_, store := testutil.TestVault(t)
	idx := New(store, "Blinko", quiet)
	if _, ok, _ := idx.Lookup(1); ok {
		t.Fatal("empty vault should have no entries")
	}

	idx.Put(1, "Blinko/a-blinko-1.md")
	if got, ok, _ := idx.Lookup(1); !ok || got != "Blinko/a-blinko-1.md" {
		t.Errorf("after Put: %q, %v", got, ok)
	}
	idx.Remove(1)
	if _, ok, _ := idx.Lookup(1); ok {
		t.Error("after Remove: entry still present")
	}
}

func TestSetRoot_BumpsEpochOnlyOnChange(t *testing.T) {
	_, store := testutil.TestVault(t)
	write(t, store, "A/x-blinko-1.md", "x\n")
	write(t, store, "B/y-blinko-2.md", "y\n")

	idx := New(store, "A", quiet)
	if _, ok, _ := idx.Lookup(1); !ok {
		t.Fatal("expected id 1 under root A")
	}
	before := idx.Epoch()
	idx.SetRoot("A/")
	if idx.Epoch() != before {
		t.Error("equivalent root should not bump the epoch")
	}

	idx.SetRoot("B")
	if idx.Epoch() == before {
		t.Fatal("root change should bump the epoch")
	}
	if _, ok, _ := idx.Lookup(1); ok {
		t.Error("id 1 has no frontmatter and is outside root B")
	}
	if _, ok, _ := idx.Lookup(2); !ok {
		t.Error("expected id 2 under root B")
	}
}

func TestInvalidate_RescansDisk(t *testing.T) {
	_, store := testutil.TestVault(t)
	idx := New(store, "Blinko", quiet)
	_, _, _ = idx.Lookup(1)

	write(t, store, "Blinko/new-blinko-7.md", "x\n")
	if _, ok, _ := idx.Lookup(7); ok {
		t.Fatal("fresh cache should not see an external write")
	}
	idx.Invalidate()
	if _, ok, _ := idx.Lookup(7); !ok {
		t.Error("invalidated cache should pick up the new file")
	}
}
