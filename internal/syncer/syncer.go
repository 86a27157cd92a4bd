// Package syncer runs incremental sync passes: it pages through the remote
// feed newest first, materializes every note updated after the persisted
// cursor and stops at the first note that is not.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/sse"
	"github.com/double-tu/blinko-to-obsidian/internal/state"
)

// PageSize is the number of notes requested per page.
const PageSize = 50

// PageSource is the paginated remote feed.
type PageSource interface {
	FetchPage(ctx context.Context, page, size int) ([]models.RemoteNote, error)
}

// Materializer writes one note into the vault.
type Materializer interface {
	Materialize(ctx context.Context, note models.RemoteNote) (models.MaterializeResult, error)
}

// Result summarizes one pass. Skipped is set when another pass was already
// running and this call did nothing.
type Result struct {
	NewCount       int                   `json:"newCount"`
	JournalEntries []models.JournalEntry `json:"journalEntries"`
	Skipped        bool                  `json:"skipped,omitempty"`
}

// Status is a snapshot of the engine for status endpoints.
type Status struct {
	Running    bool      `json:"running"`
	Cursor     int64     `json:"cursor"`
	LastRun    time.Time `json:"lastRun,omitempty"`
	LastResult *Result   `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher reports note and pass events to p.
func WithPublisher(p sse.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is the incremental sync state machine.
type Engine struct {
	source    PageSource
	mat       Materializer
	cursor    state.CursorStore
	manifests state.ManifestStore
	events    sse.Publisher
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	last    *Result
	lastErr error
}

// New returns an idle Engine.
func New(source PageSource, mat Materializer, cursor state.CursorStore, manifests state.ManifestStore, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		mat:       mat,
		cursor:    cursor,
		manifests: manifests,
		events:    sse.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes one pass. A call made while another pass is running returns
// immediately with Skipped set. On failure the cursor is left untouched so
// the next pass retries from the same frontier.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("sync: pass already running")
		return Result{Skipped: true}, nil
	}
	defer e.running.Store(false)

	res, err := e.pass(ctx)

	e.mu.Lock()
	e.lastRun = e.now()
	e.lastErr = err
	if err == nil {
		r := res
		e.last = &r
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("sync: pass failed", slog.String("error", err.Error()))
		return Result{}, err
	}
	e.events.Publish(sse.Event{Type: "sync.completed", Data: map[string]int{"newCount": res.NewCount}})
	e.logger.Info("sync: pass completed", slog.Int("new", res.NewCount), slog.Int("journal", len(res.JournalEntries)))
	return res, nil
}

func (e *Engine) pass(ctx context.Context) (Result, error) {
	start := e.now().UnixMilli()
	cursor, err := e.cursor.Cursor()
	if err != nil {
		return Result{}, err
	}

	res := Result{JournalEntries: []models.JournalEntry{}}
	for page := 1; ; page++ {
		notes, err := e.source.FetchPage(ctx, page, PageSize)
		if err != nil {
			return Result{}, fmt.Errorf("sync: fetch page %d: %w", page, err)
		}
		if len(notes) == 0 {
			break
		}

		stop := false
		for _, note := range notes {
			// Newest first: the first stale note proves the rest are stale.
			if note.UpdatedAt.UnixMilli() <= cursor {
				stop = true
				break
			}
			if err := e.materialize(ctx, note, &res); err != nil {
				return Result{}, err
			}
		}
		if stop || len(notes) < PageSize {
			break
		}
	}

	if err := e.cursor.SetCursor(start); err != nil {
		return Result{}, fmt.Errorf("sync: persist cursor: %w", err)
	}
	return res, nil
}

func (e *Engine) materialize(ctx context.Context, note models.RemoteNote, res *Result) error {
	out, err := e.mat.Materialize(ctx, note)
	if err != nil {
		return fmt.Errorf("sync: materialize note %d: %w", note.ID, err)
	}
	if err := e.manifests.SetManifest(strconv.FormatInt(note.ID, 10), out.Attachments); err != nil {
		return fmt.Errorf("sync: manifest for note %d: %w", note.ID, err)
	}
	res.NewCount++
	if note.Type.Normalize() == models.TypeFlash {
		res.JournalEntries = append(res.JournalEntries, models.JournalEntry{
			ID:        note.ID,
			CreatedAt: note.CreatedAt,
			FilePath:  out.FilePath,
			Type:      note.Type.Normalize(),
		})
	}
	if out.PreviousPath != "" {
		e.events.PublishNoteEvent(sse.NoteRenamed, note.ID, out.FilePath)
	}
	e.events.PublishNoteEvent(sse.NoteMaterialized, note.ID, out.FilePath)
	return nil
}

// Status returns the current engine snapshot.
func (e *Engine) Status() Status {
	cursor, _ := e.cursor.Cursor()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Running:    e.running.Load(),
		Cursor:     cursor,
		LastRun:    e.lastRun,
		LastResult: e.last,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}
