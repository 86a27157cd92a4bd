// Package materialize turns one remote Blinko note into a Markdown file in
// the vault: attachments are downloaded once and rewritten to local embeds,
// the path is rendered from a template, and a moved note is renamed rather
// than duplicated.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
	"github.com/double-tu/blinko-to-obsidian/internal/parser"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
	"github.com/double-tu/blinko-to-obsidian/internal/titles"
)

// MaxTitleRunes caps titles derived from note content.
const MaxTitleRunes = 80

// AttachmentSource is the part of the remote API the materializer needs.
type AttachmentSource interface {
	FetchAttachmentBytes(ctx context.Context, path string) ([]byte, error)
	ResolveAttachmentURL(path string) string
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithTitleResolver enables external title resolution for untitled notes.
func WithTitleResolver(r titles.Resolver) Option {
	return func(m *Materializer) { m.titles = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// Materializer writes remote notes into the vault.
type Materializer struct {
	source AttachmentSource
	store  storage.Provider
	index  index.NoteIndex
	titles titles.Resolver
	logger *slog.Logger

	mu     sync.RWMutex
	layout models.Layout
}

// New returns a Materializer writing according to layout.
func New(source AttachmentSource, store storage.Provider, idx index.NoteIndex, layout models.Layout, opts ...Option) *Materializer {
	m := &Materializer{
		source: source,
		store:  store,
		index:  idx,
		layout: layout,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	idx.SetRoot(layout.NoteFolder)
	return m
}

// Reconfigure swaps the layout used by subsequent calls. A changed note
// folder invalidates the index.
func (m *Materializer) Reconfigure(layout models.Layout) {
	m.mu.Lock()
	m.layout = layout
	m.mu.Unlock()
	m.index.SetRoot(layout.NoteFolder)
}

// Layout returns the layout currently in effect.
func (m *Materializer) Layout() models.Layout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layout
}

// Materialize writes note and returns its local attachment names and final
// path. Writing an unchanged note again produces identical bytes.
func (m *Materializer) Materialize(ctx context.Context, note models.RemoteNote) (models.MaterializeResult, error) {
	layout := m.Layout()

	pass := m.processAttachments(ctx, note, layout, note.Content)
	title := m.resolveTitle(ctx, note, pass.content)

	target, err := renderPath(layout, note, title)
	var tmplErr *apperr.TemplateError
	if errors.As(err, &tmplErr) {
		m.logger.Warn("materialize: template fallback",
			slog.Int64("note", note.ID), slog.String("error", err.Error()), slog.String("path", target))
	}

	result := models.MaterializeResult{Attachments: pass.names, FilePath: target}
	if result.Attachments == nil {
		result.Attachments = []string{}
	}

	previous, err := m.relocate(note.ID, target)
	if err != nil {
		return models.MaterializeResult{}, err
	}
	result.PreviousPath = previous

	loc := layout.Loc()
	data, err := parser.Render(parser.Frontmatter{
		ID:          note.ID,
		Date:        note.CreatedAt.In(loc).Format(time.RFC3339),
		Updated:     note.UpdatedAt.In(loc).Format(time.RFC3339),
		Source:      parser.SourceMarker,
		Type:        note.Type.Normalize().String(),
		TypeCode:    int(note.Type.Normalize()),
		Attachments: result.Attachments,
		Tags:        flattenTags(note.Tags),
	}, assembleBody(pass.content, pass.trailer))
	if err != nil {
		return models.MaterializeResult{}, err
	}

	if err := m.store.Write(target, data); err != nil {
		return models.MaterializeResult{}, fmt.Errorf("materialize: note %d: %w", note.ID, err)
	}
	m.index.Put(note.ID, target)

	m.logger.Debug("materialize: wrote note",
		slog.Int64("note", note.ID), slog.String("path", target), slog.Int("attachments", len(result.Attachments)))
	return result, nil
}

// relocate moves the existing file of id to target when the index knows it
// under another path, and returns that previous path.
func (m *Materializer) relocate(id int64, target string) (string, error) {
	old, ok, err := m.index.Lookup(id)
	if err != nil {
		return "", fmt.Errorf("materialize: index lookup %d: %w", id, err)
	}
	if !ok || old == target {
		return "", nil
	}
	exists, err := m.store.Exists(old)
	if err != nil {
		return "", fmt.Errorf("materialize: stat %s: %w", old, err)
	}
	if !exists {
		m.index.Remove(id)
		return "", nil
	}
	if err := m.store.Move(old, target); err != nil {
		return "", fmt.Errorf("materialize: rename note %d: %w", id, err)
	}
	m.logger.Info("materialize: renamed note",
		slog.Int64("note", id), slog.String("from", old), slog.String("to", target))
	return old, nil
}

func (m *Materializer) resolveTitle(ctx context.Context, note models.RemoteNote, content string) string {
	if t := strings.TrimSpace(note.Title); t != "" {
		return t
	}
	if m.titles != nil {
		t, err := m.titles.Resolve(ctx, note, content)
		if err != nil {
			m.logger.Debug("materialize: title resolver failed",
				slog.Int64("note", note.ID), slog.String("error", err.Error()))
		} else if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return parser.FirstLineTitle(content, MaxTitleRunes)
}

// assembleBody joins content and trailer lines and normalizes the result to
// exactly one trailing newline.
func assembleBody(content string, trailer []string) string {
	body := strings.TrimRight(content, "\r\n")
	if len(trailer) > 0 {
		if body != "" {
			body += "\n\n"
		}
		body += strings.Join(trailer, "\n")
	}
	return body + "\n"
}
