package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/materialize"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	mu    sync.Mutex
	pages map[int][]models.RemoteNote
	calls []int
	err   error
}

func (f *fakeSource) FetchPage(_ context.Context, page, size int) ([]models.RemoteNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[page], nil
}

type fakeMaterializer struct {
	mu     sync.Mutex
	ids    []int64
	failOn int64
	onCall func()
}

func (f *fakeMaterializer) Materialize(_ context.Context, n models.RemoteNote) (models.MaterializeResult, error) {
	if f.onCall != nil {
		f.onCall()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.ID == f.failOn {
		return models.MaterializeResult{}, errors.New("disk full")
	}
	f.ids = append(f.ids, n.ID)
	return models.MaterializeResult{Attachments: []string{}, FilePath: "Blinko/n.md"}, nil
}

type noAttachments struct{}

func (noAttachments) FetchAttachmentBytes(context.Context, string) ([]byte, error) {
	return nil, errors.New("unexpected download")
}
func (noAttachments) ResolveAttachmentURL(p string) string { return p }

func at(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func notes(fromID int64, n int, updated int64, typ models.NoteType) []models.RemoteNote {
	out := make([]models.RemoteNote, n)
	for i := range out {
		out[i] = models.RemoteNote{
			ID:        fromID + int64(i),
			Content:   "note",
			Type:      typ,
			CreatedAt: at(updated),
			UpdatedAt: at(updated),
		}
	}
	return out
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return at(ms) }
}

func TestRun_EndToEnd(t *testing.T) {
	_, store := testutil.TestVault(t)
	st := testutil.TestState(t)
	layout := models.Layout{NoteFolder: "Blinko", AttachmentFolder: "Blinko/attachments", Location: time.UTC}
	idx := index.New(store, layout.NoteFolder, quiet)
	mat := materialize.New(noAttachments{}, store, idx, layout, materialize.WithLogger(quiet))

	src := &fakeSource{pages: map[int][]models.RemoteNote{
		1: {
			{ID: 11, Content: "second", UpdatedAt: at(2000), CreatedAt: at(1500)},
			{ID: 10, Content: "first", UpdatedAt: at(1000), CreatedAt: at(500)},
		},
	}}
	e := New(src, mat, st, st, WithClock(fixedClock(5000)), WithLogger(quiet))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.NewCount != 2 {
		t.Errorf("newCount = %d, want 2", res.NewCount)
	}
	if cur, _ := st.Cursor(); cur != 5000 {
		t.Errorf("cursor = %d, want 5000", cur)
	}
	entries, _ := idx.Entries()
	if len(entries) != 2 {
		t.Fatalf("index entries = %+v", entries)
	}
	for _, en := range entries {
		if ok, _ := store.Exists(en.Path); !ok {
			t.Errorf("file %s missing", en.Path)
		}
	}
	if len(res.JournalEntries) != 2 || res.JournalEntries[0].ID != 11 {
		t.Errorf("journal entries = %+v", res.JournalEntries)
	}
	if names, ok, _ := st.Manifest("10"); !ok || len(names) != 0 {
		t.Errorf("manifest for 10 = %v, %v", names, ok)
	}
	if len(src.calls) != 1 {
		t.Errorf("short page should end the pass, fetched %v", src.calls)
	}
}

func TestRun_EarlyStop(t *testing.T) {
	st := testutil.TestState(t)
	_ = st.SetCursor(1000)

	page2 := append(notes(200, 1, 1000, models.TypeFlash), notes(201, 49, 3000, models.TypeFlash)...)
	src := &fakeSource{pages: map[int][]models.RemoteNote{
		1: notes(100, PageSize, 2000, models.TypeFlash),
		2: page2,
		3: notes(300, 10, 2000, models.TypeFlash),
	}}
	mat := &fakeMaterializer{}
	e := New(src, mat, st, st, WithClock(fixedClock(9000)), WithLogger(quiet))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.NewCount != PageSize || len(mat.ids) != PageSize {
		t.Errorf("newCount = %d, materialized = %d; want %d", res.NewCount, len(mat.ids), PageSize)
	}
	for _, id := range mat.ids {
		if id >= 200 {
			t.Errorf("note %d beyond the stop point was materialized", id)
		}
	}
	if len(src.calls) != 2 {
		t.Errorf("pages fetched = %v, want [1 2]", src.calls)
	}
}

func TestRun_CursorIsPassStart(t *testing.T) {
	st := testutil.TestState(t)
	var mu sync.Mutex
	now := int64(10_000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return at(now)
	}
	mat := &fakeMaterializer{onCall: func() {
		mu.Lock()
		now += 60_000
		mu.Unlock()
	}}
	src := &fakeSource{pages: map[int][]models.RemoteNote{1: notes(1, 3, 5000, models.TypeNote)}}
	e := New(src, mat, st, st, WithClock(clock), WithLogger(quiet))

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cur, _ := st.Cursor(); cur != 10_000 {
		t.Errorf("cursor = %d, want pass start 10000", cur)
	}

	// A note updated one millisecond after the pass start is seen again.
	src.pages = map[int][]models.RemoteNote{1: notes(9, 1, 10_001, models.TypeNote)}
	mat.ids = nil
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.NewCount != 1 || len(mat.ids) != 1 || mat.ids[0] != 9 {
		t.Errorf("second pass result = %+v, materialized %v", res, mat.ids)
	}
}

func TestRun_FailureKeepsCursor(t *testing.T) {
	st := testutil.TestState(t)
	_ = st.SetCursor(1000)

	mat := &fakeMaterializer{failOn: 3}
	src := &fakeSource{pages: map[int][]models.RemoteNote{1: notes(1, 5, 2000, models.TypeFlash)}}
	e := New(src, mat, st, st, WithClock(fixedClock(9000)), WithLogger(quiet))

	if _, err := e.Run(context.Background()); err == nil {
		t.Fatal("expected materialization error")
	}
	if cur, _ := st.Cursor(); cur != 1000 {
		t.Errorf("cursor = %d, want unchanged 1000", cur)
	}
	if s := e.Status(); s.LastError == "" || s.Running {
		t.Errorf("status = %+v", s)
	}

	src.err = errors.New("502")
	if _, err := e.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if cur, _ := st.Cursor(); cur != 1000 {
		t.Errorf("cursor = %d after fetch error", cur)
	}
}

func TestRun_SingleFlight(t *testing.T) {
	st := testutil.TestState(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mat := &fakeMaterializer{onCall: func() {
		once.Do(func() { close(entered) })
		<-release
	}}
	src := &fakeSource{pages: map[int][]models.RemoteNote{1: notes(1, 1, 2000, models.TypeFlash)}}
	e := New(src, mat, st, st, WithLogger(quiet))

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Run(context.Background())
		done <- res
	}()
	<-entered

	res, err := e.Run(context.Background())
	if err != nil || !res.Skipped || res.NewCount != 0 {
		t.Errorf("concurrent Run = %+v, %v; want skipped", res, err)
	}
	if !e.Status().Running {
		t.Error("status should report running")
	}
	close(release)

	first := <-done
	if first.Skipped || first.NewCount != 1 {
		t.Errorf("first Run = %+v", first)
	}
}

func TestRun_JournalOnlyDefaultType(t *testing.T) {
	st := testutil.TestState(t)
	page := append(notes(1, 1, 2000, models.TypeFlash), notes(2, 1, 2000, models.TypeNote)...)
	page = append(page, notes(3, 1, 2000, models.TypeTodo)...)
	src := &fakeSource{pages: map[int][]models.RemoteNote{1: page}}
	e := New(src, &fakeMaterializer{}, st, st, WithLogger(quiet))

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.NewCount != 3 || len(res.JournalEntries) != 1 || res.JournalEntries[0].ID != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_EmptyFeedStillAdvancesCursor(t *testing.T) {
	st := testutil.TestState(t)
	src := &fakeSource{pages: map[int][]models.RemoteNote{}}
	e := New(src, &fakeMaterializer{}, st, st, WithClock(fixedClock(4242)), WithLogger(quiet))
	res, err := e.Run(context.Background())
	if err != nil || res.NewCount != 0 {
		t.Fatalf("Run = %+v, %v", res, err)
	}
	if cur, _ := st.Cursor(); cur != 4242 {
		t.Errorf("cursor = %d", cur)
	}
	if s := e.Status(); s.LastResult == nil || s.Cursor != 4242 {
		t.Errorf("status = %+v", s)
	}
}
