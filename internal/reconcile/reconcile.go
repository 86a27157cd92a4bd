// Package reconcile prunes materialized notes whose remote counterpart was
// deleted, or moved to the recycle bin when recycle deletion is enabled.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/parser"
	"github.com/double-tu/blinko-to-obsidian/internal/sse"
	"github.com/double-tu/blinko-to-obsidian/internal/state"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
)

// ChunkSize is the number of ids checked per remote request.
const ChunkSize = 50

// IDSource batch-fetches notes by id, recycled ones included.
type IDSource interface {
	FetchByIDs(ctx context.Context, ids []int64) ([]models.RemoteNote, error)
}

// Settings are the reconfigurable inputs of an Engine.
type Settings struct {
	Layout         models.Layout
	DeleteRecycled bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher reports deletions and completed passes to p.
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

// Engine runs reconciliation passes.
type Engine struct {
	source    IDSource
	store     storage.Provider
	index     index.NoteIndex
	manifests state.ManifestStore
	events    sse.Publisher
	logger    *slog.Logger

	running atomic.Bool

	mu       sync.RWMutex
	settings Settings
	last     int
	lastErr  error
}

// New returns an idle Engine.
func New(source IDSource, store storage.Provider, idx index.NoteIndex, manifests state.ManifestStore, settings Settings, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		store:     store,
		index:     idx,
		manifests: manifests,
		settings:  settings,
		events:    sse.Nop{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Reconfigure swaps the settings used by subsequent passes.
func (e *Engine) Reconfigure(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	e.index.SetRoot(s.Layout.NoteFolder)
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// LastRemoved returns the count and error of the last completed pass.
func (e *Engine) LastRemoved() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.lastErr
}

// ComputeRemovals returns the ids missing remotely and the ids to remove:
// missing = requested - present, remove = missing plus recycled when
// deleteRecycled is set. Both are sorted.
func ComputeRemovals(requested, present, recycled []int64, deleteRecycled bool) (missing, remove []int64) {
	presentSet := make(map[int64]struct{}, len(present))
	for _, id := range present {
		presentSet[id] = struct{}{}
	}
	removeSet := make(map[int64]struct{})
	for _, id := range requested {
		if _, ok := presentSet[id]; !ok {
			missing = append(missing, id)
			removeSet[id] = struct{}{}
		}
	}
	if deleteRecycled {
		for _, id := range recycled {
			if _, ok := presentSet[id]; ok {
				removeSet[id] = struct{}{}
			}
		}
	}
	for id := range removeSet {
		remove = append(remove, id)
	}
	sortIDs(missing)
	sortIDs(remove)
	return missing, remove
}

// Run executes one pass and returns the number of note files removed. A call
// made while another pass is running returns 0 immediately. A failing chunk
// stops only its own deletions; the errors of all chunks are joined.
func (e *Engine) Run(ctx context.Context) (int, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("reconcile: pass already running")
		return 0, nil
	}
	defer e.running.Store(false)

	e.mu.RLock()
	settings := e.settings
	e.mu.RUnlock()

	removed, err := e.pass(ctx, settings)

	e.mu.Lock()
	e.last, e.lastErr = removed, err
	e.mu.Unlock()

	e.events.Publish(sse.Event{Type: "reconcile.completed", Data: map[string]int{"removed": removed}})
	if err != nil {
		e.logger.Error("reconcile: pass finished with errors", slog.Int("removed", removed), slog.String("error", err.Error()))
	} else {
		e.logger.Info("reconcile: pass completed", slog.Int("removed", removed))
	}
	return removed, err
}

func (e *Engine) pass(ctx context.Context, settings Settings) (int, error) {
	entries, err := e.index.Entries()
	if err != nil {
		return 0, fmt.Errorf("reconcile: enumerate notes: %w", err)
	}
	paths := make(map[int64]string, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, en := range entries {
		paths[en.ID] = en.Path
		ids = append(ids, en.ID)
	}

	removed := 0
	var errs []error
	for start := 0; start < len(ids); start += ChunkSize {
		end := min(start+ChunkSize, len(ids))
		chunk := ids[start:end]

		n, err := e.reconcileChunk(ctx, settings, chunk, paths)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func (e *Engine) reconcileChunk(ctx context.Context, settings Settings, chunk []int64, paths map[int64]string) (int, error) {
	notes, err := e.source.FetchByIDs(ctx, chunk)
	if err != nil {
		return 0, fmt.Errorf("reconcile: fetch ids %d..%d: %w", chunk[0], chunk[len(chunk)-1], err)
	}
	var present, recycled []int64
	for _, n := range notes {
		present = append(present, n.ID)
		if n.IsRecycle {
			recycled = append(recycled, n.ID)
		}
	}
	_, remove := ComputeRemovals(chunk, present, recycled, settings.DeleteRecycled)

	removed := 0
	for _, id := range remove {
		deleted, err := e.removeNote(id, paths[id], settings.Layout)
		if deleted {
			removed++
		}
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// removeNote deletes the note file of id, then its attachments, then its
// manifest entry. It reports whether a note file was actually removed.
func (e *Engine) removeNote(id int64, notePath string, layout models.Layout) (bool, error) {
	key := strconv.FormatInt(id, 10)
	names, err := e.attachmentsFor(key, notePath, layout)
	if err != nil {
		return false, err
	}

	deleted := true
	if err := e.store.Delete(notePath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("reconcile: delete note %d: %w", id, err)
		}
		deleted = false
	}

	for _, name := range names {
		p := attachmentPath(layout, name)
		if err := e.store.Delete(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("reconcile: delete attachment failed",
				slog.Int64("note", id), slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	if err := e.manifests.DeleteManifest(key); err != nil {
		return deleted, fmt.Errorf("reconcile: drop manifest %d: %w", id, err)
	}
	e.index.Remove(id)

	if deleted {
		e.events.PublishNoteEvent(sse.NoteDeleted, id, notePath)
		e.logger.Info("reconcile: removed note",
			slog.Int64("note", id), slog.String("path", notePath), slog.Int("attachments", len(names)))
	}
	return deleted, nil
}

// attachmentsFor resolves the attachment names of a note: the persisted
// manifest when present, else the frontmatter list, else body embeds that
// resolve to existing files in the attachment folder.
func (e *Engine) attachmentsFor(key, notePath string, layout models.Layout) ([]string, error) {
	names, ok, err := e.manifests.Manifest(key)
	if err != nil {
		return nil, err
	}
	if ok {
		return names, nil
	}

	data, err := e.store.Read(notePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reconcile: read %s: %w", notePath, err)
	}
	if meta := parser.ReadMeta(data); meta.HasList {
		return baseNames(meta.Attachments), nil
	}

	res, _ := parser.Parse(data)
	var out []string
	for _, name := range res.Embeds {
		if exists, _ := e.store.Exists(attachmentPath(layout, name)); exists {
			out = append(out, name)
		}
	}
	return out, nil
}

func attachmentPath(layout models.Layout, name string) string {
	return path.Join(strings.Trim(layout.AttachmentFolder, "/"), path.Base(name))
}

func baseNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if b := path.Base(n); b != "." && b != "/" {
			out = append(out, b)
		}
	}
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
