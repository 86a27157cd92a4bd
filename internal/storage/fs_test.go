package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("---\nid: 1\n---\n\nhello\n")
	if err := s.Write("blinko/note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("blinko/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteReplacesConflictingDirectory(t *testing.T) {
	s := tempVault(t)
	if err := os.MkdirAll(filepath.Join(s.Root(), "a", "b.md", "inner"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("a/b.md", []byte("file")); err != nil {
		t.Fatalf("Write over directory: %v", err)
	}
	ok, err := s.Exists("a/b.md")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}
}

func TestWriteOverwritesFile(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("x.md", []byte("first"))
	if err := s.Write("x.md", []byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("x.md")
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".blinko-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestExists(t *testing.T) {
	s := tempVault(t)
	ok, err := s.Exists("missing.png")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	_ = os.MkdirAll(filepath.Join(s.Root(), "dir.png"), 0o755)
	if ok, _ := s.Exists("dir.png"); ok {
		t.Error("directory should not count as an existing file")
	}
	_ = s.Write("att/img.png", []byte{0x89})
	if ok, _ := s.Exists("att/img.png"); !ok {
		t.Error("expected att/img.png to exist")
	}
}

func TestDelete(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if err := s.Delete("del.md"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second delete error = %v, want not-exist", err)
	}
}

func TestMove(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write("readme.txt", []byte("not md"))
	_ = s.Write(".obsidian/c.md", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2: %+v", len(items), items)
	}

	items, err = s.List("nope")
	if err != nil || len(items) != 0 {
		t.Errorf("List(missing) = %v, %v", items, err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}
