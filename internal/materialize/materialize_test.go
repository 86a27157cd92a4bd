package materialize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/parser"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
	"github.com/double-tu/blinko-to-obsidian/internal/testutil"
	"github.com/double-tu/blinko-to-obsidian/internal/titles"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, failing: map[string]error{}}
}

func (f *fakeSource) FetchAttachmentBytes(_ context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[p]++
	if err := f.failing[p]; err != nil {
		return nil, err
	}
	return []byte("data:" + p), nil
}

func (f *fakeSource) ResolveAttachmentURL(p string) string {
	if strings.HasPrefix(p, "/") {
		return "https://blinko.test" + p
	}
	return p
}

func testLayout() models.Layout {
	return models.Layout{
		NoteFolder:       "Blinko",
		AttachmentFolder: "Blinko/attachments",
		Location:         time.UTC,
	}
}

func setup(t *testing.T, layout models.Layout, opts ...Option) (*Materializer, *fakeSource, storage.Provider) {
	t.Helper()
	_, store := testutil.TestVault(t)
	src := newFakeSource()
	idx := index.New(store, layout.NoteFolder, quiet)
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(src, store, idx, layout, opts...), src, store
}

func sampleNote() models.RemoteNote {
	return models.RemoteNote{
		ID:        10,
		Content:   "# Hello world\nbody text",
		Type:      models.TypeFlash,
		CreatedAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 3, 11, 30, 0, 0, time.UTC),
	}
}

func TestMaterialize_DefaultTemplate(t *testing.T) {
	m, _, store := setup(t, testLayout())
	res, err := m.Materialize(context.Background(), sampleNote())
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	want := "Blinko/Flash/2024-01-02 Hello world-blinko-10.md"
	if res.FilePath != want {
		t.Errorf("path = %q, want %q", res.FilePath, want)
	}
	data, err := store.Read(want)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	s := string(data)
	for _, line := range []string{
		"id: 10\n",
		"date: \"2024-01-02T10:00:00Z\"\n",
		"source: blinko\n",
		"type: flash\n",
		"typeCode: 0\n",
		"attachments: []\n",
	} {
		if !strings.Contains(s, line) {
			t.Errorf("missing %q in:\n%s", line, s)
		}
	}
	if !strings.HasSuffix(s, "---\n\n# Hello world\nbody text\n") {
		t.Errorf("unexpected body:\n%s", s)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	note.Attachments = []models.Attachment{{ID: 1, Name: "img.png", Path: "/api/file/img.png"}}

	first, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := store.Read(first.FilePath)
	second, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := store.Read(second.FilePath)
	if first.FilePath != second.FilePath || string(a) != string(b) {
		t.Errorf("second run differs:\n%s\n---vs---\n%s", a, b)
	}
}

func TestMaterialize_DownloadOnce(t *testing.T) {
	m, src, store := setup(t, testLayout())
	note := sampleNote()
	note.Attachments = []models.Attachment{{ID: 1, Name: "img.png", Path: "/api/file/img.png"}}

	for i := 0; i < 2; i++ {
		if _, err := m.Materialize(context.Background(), note); err != nil {
			t.Fatal(err)
		}
	}
	if got := src.calls["/api/file/img.png"]; got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
	if ok, _ := store.Exists("Blinko/attachments/img.png"); !ok {
		t.Error("attachment not written")
	}
}

func TestMaterialize_RewritesInlineAndAppendsUnreferenced(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	note.Content = "see ![shot](/api/file/img.png) and [doc](https://blinko.test/api/file/doc.pdf)"
	note.Attachments = []models.Attachment{
		{ID: 1, Name: "img.png", Path: "/api/file/img.png"},
		{ID: 2, Name: "doc.pdf", Path: "/api/file/doc.pdf"},
		{ID: 3, Name: "extra.zip", Path: "/api/file/extra.zip"},
	}
	res, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := store.Read(res.FilePath)
	want := "see ![[img.png|shot]] and [[doc.pdf|doc]]\n\n![[extra.zip]]\n"
	if !strings.HasSuffix(string(data), "---\n\n"+want) {
		t.Errorf("body mismatch:\n%s", data)
	}
	if len(res.Attachments) != 3 || res.Attachments[2] != "extra.zip" {
		t.Errorf("attachments = %v", res.Attachments)
	}
}

func TestMaterialize_AttachmentWarnings(t *testing.T) {
	m, src, store := setup(t, testLayout())
	src.failing["/api/file/broken.png"] = errors.New("boom")
	note := sampleNote()
	note.Content = "text"
	note.Attachments = []models.Attachment{
		{ID: 1, Name: "nopath.png"},
		{ID: 2, Name: "broken.png", Path: "/api/file/broken.png"},
	}
	res, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatalf("warnings must not fail the note: %v", err)
	}
	data, _ := store.Read(res.FilePath)
	s := string(data)
	if !strings.Contains(s, `> [!warning] Attachment "nopath.png" has no remote path`) {
		t.Errorf("missing no-path warning:\n%s", s)
	}
	if !strings.Contains(s, `> [!warning] Failed to download attachment "broken.png": boom`) {
		t.Errorf("missing download warning:\n%s", s)
	}
	if len(res.Attachments) != 0 {
		t.Errorf("failed attachments must not be listed: %v", res.Attachments)
	}
}

func TestMaterialize_EmptyBodyIsOneNewline(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	note.Content = "\n\n"
	res, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(res.FilePath, "/2024-01-02 10-blinko-10.md") {
		t.Errorf("untitled note path = %q", res.FilePath)
	}
	data, _ := store.Read(res.FilePath)
	if !strings.HasSuffix(string(data), "---\n\n\n") || strings.HasSuffix(string(data), "---\n\n\n\n") {
		t.Errorf("body should be a single newline:\n%q", data)
	}
}

func TestMaterialize_PathUniquenessWithoutID(t *testing.T) {
	layout := testLayout()
	layout.PathTemplate = "{title}"
	m, _, _ := setup(t, layout)

	a, b := sampleNote(), sampleNote()
	b.ID = 11
	ra, err := m.Materialize(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := m.Materialize(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if ra.FilePath == rb.FilePath {
		t.Fatalf("notes collided at %q", ra.FilePath)
	}
	if ra.FilePath != "Blinko/Hello world-blinko-10.md" || rb.FilePath != "Blinko/Hello world-blinko-11.md" {
		t.Errorf("paths = %q, %q", ra.FilePath, rb.FilePath)
	}
}

func TestMaterialize_TagFlattening(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	note.Tags = []models.Tag{{Name: "work", Parent: 5}, {ID: 5, Name: "projects"}}
	res, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := store.Read(res.FilePath)
	if !strings.Contains(string(data), "tags:\n  - projects/work\n---") {
		t.Errorf("tags not flattened:\n%s", data)
	}
}

func TestMaterialize_RenameOnTemplateChange(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	first, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}

	layout := testLayout()
	layout.PathTemplate = "{type}/{id}"
	m.Reconfigure(layout)
	second, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	if second.FilePath != "Blinko/flash/10.md" {
		t.Errorf("new path = %q", second.FilePath)
	}
	if second.PreviousPath != first.FilePath {
		t.Errorf("previous = %q, want %q", second.PreviousPath, first.FilePath)
	}
	if ok, _ := store.Exists(first.FilePath); ok {
		t.Error("old file still present after rename")
	}
	metas, _ := store.List("Blinko")
	if len(metas) != 1 {
		t.Errorf("expected exactly one note file, got %+v", metas)
	}
}

func TestMaterialize_TitleResolution(t *testing.T) {
	resolver := titles.ResolverFunc(func(_ context.Context, n models.RemoteNote, _ string) (string, error) {
		switch n.ID {
		case 1:
			return "From resolver", nil
		case 2:
			return "", nil
		default:
			return "", errors.New("offline")
		}
	})
	layout := testLayout()
	layout.PathTemplate = "{title}"
	m, _, _ := setup(t, layout, WithTitleResolver(resolver))

	cases := map[int64]string{
		1: "Blinko/From resolver-blinko-1.md",
		2: "Blinko/Hello world-blinko-2.md",
		3: "Blinko/Hello world-blinko-3.md",
	}
	for id, want := range cases {
		n := sampleNote()
		n.ID = id
		res, err := m.Materialize(context.Background(), n)
		if err != nil {
			t.Fatalf("id %d: %v", id, err)
		}
		if res.FilePath != want {
			t.Errorf("id %d: path = %q, want %q", id, res.FilePath, want)
		}
	}

	explicit := sampleNote()
	explicit.ID = 4
	explicit.Title = "Given"
	res, _ := m.Materialize(context.Background(), explicit)
	if res.FilePath != "Blinko/Given-blinko-4.md" {
		t.Errorf("explicit title path = %q", res.FilePath)
	}
}

func TestMaterialize_FrontmatterReadableByIndex(t *testing.T) {
	m, _, store := setup(t, testLayout())
	note := sampleNote()
	note.Attachments = []models.Attachment{{ID: 1, Name: "a.png", Path: "/a.png"}}
	res, err := m.Materialize(context.Background(), note)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := store.Read(res.FilePath)
	meta := parser.ReadMeta(data)
	if !meta.IsBlinko() || meta.ID != 10 || len(meta.Attachments) != 1 || meta.Attachments[0] != "a.png" {
		t.Errorf("meta = %+v", meta)
	}
}
