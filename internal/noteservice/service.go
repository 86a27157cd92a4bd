// Package noteservice coordinates the sync and reconciliation engines for the
// control surfaces (HTTP API and MCP tools).
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/journal"
	"github.com/double-tu/blinko-to-obsidian/internal/parser"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
	"github.com/double-tu/blinko-to-obsidian/internal/syncer"
)

// Syncer is the incremental sync engine.
type Syncer interface {
	Run(ctx context.Context) (syncer.Result, error)
	Status() syncer.Status
}

// Reconciler is the deletion reconciliation engine.
type Reconciler interface {
	Run(ctx context.Context) (int, error)
	Running() bool
	LastRemoved() (int, error)
}

// ManifestCounter reports how many notes have a persisted manifest.
type ManifestCounter interface {
	ManifestCount() (int, error)
}

// ReconcileResult is the outcome of one reconciliation request.
type ReconcileResult struct {
	Removed int  `json:"removed"`
	Skipped bool `json:"skipped,omitempty"`
}

// ReconcileStatus is the reconciliation half of Status.
type ReconcileStatus struct {
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"lastRun,omitempty"`
	LastRemoved int       `json:"lastRemoved"`
	LastError   string    `json:"lastError,omitempty"`
}

// Status is the combined engine snapshot.
type Status struct {
	Sync      syncer.Status   `json:"sync"`
	Reconcile ReconcileStatus `json:"reconcile"`
	Notes     int             `json:"notes"`
	Manifests int             `json:"manifests"`
}

// NoteDetail is a materialized note as found in the vault.
type NoteDetail struct {
	ID          int64          `json:"id"`
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Attachments []string       `json:"attachments"`
	Content     string         `json:"content"`
}

// Service coordinates the engines, the journal and the vault index.
type Service struct {
	sync      Syncer
	reconcile Reconciler
	journal   journal.Consumer
	index     index.NoteIndex
	store     storage.Provider
	manifests ManifestCounter
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	lastReconcile time.Time
}

// NewService creates a new note service. A nil journal disables journaling.
func NewService(s Syncer, r Reconciler, j journal.Consumer, idx index.NoteIndex, store storage.Provider, manifests ManifestCounter, logger *slog.Logger) *Service {
	if j == nil {
		j = journal.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sync:      s,
		reconcile: r,
		journal:   j,
		index:     idx,
		store:     store,
		manifests: manifests,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync runs one sync pass and hands its journal entries to the journal
// consumer. A journal failure is logged and does not fail the pass.
func (s *Service) Sync(ctx context.Context) (syncer.Result, error) {
	res, err := s.sync.Run(ctx)
	if err != nil || res.Skipped {
		return res, err
	}
	if len(res.JournalEntries) > 0 {
		if jerr := s.journal.Consume(ctx, res.JournalEntries); jerr != nil {
			s.logger.Warn("journal: consume failed",
				slog.Int("entries", len(res.JournalEntries)), slog.String("error", jerr.Error()))
		}
	}
	return res, nil
}

// Reconcile runs one reconciliation pass. When a pass is already running the
// result is marked skipped.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if s.reconcile.Running() {
		return ReconcileResult{Skipped: true}, nil
	}
	removed, err := s.reconcile.Run(ctx)
	s.mu.Lock()
	s.lastReconcile = s.now()
	s.mu.Unlock()
	return ReconcileResult{Removed: removed}, err
}

// Status returns the combined engine snapshot.
func (s *Service) Status() Status {
	st := Status{Sync: s.sync.Status()}

	removed, err := s.reconcile.LastRemoved()
	s.mu.Lock()
	st.Reconcile = ReconcileStatus{
		Running:     s.reconcile.Running(),
		LastRun:     s.lastReconcile,
		LastRemoved: removed,
	}
	s.mu.Unlock()
	if err != nil {
		st.Reconcile.LastError = err.Error()
	}

	if entries, err := s.index.Entries(); err == nil {
		st.Notes = len(entries)
	} else {
		s.logger.Debug("status: enumerate notes failed", slog.String("error", err.Error()))
	}
	if n, err := s.manifests.ManifestCount(); err == nil {
		st.Manifests = n
	}
	return st
}

// Lookup returns the vault file materialized for the remote note id.
func (s *Service) Lookup(_ context.Context, id int64) (*NoteDetail, error) {
	p, ok, err := s.index.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("lookup note %d: %w", id, err)
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.index.Invalidate()
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	res, _ := parser.Parse(data)
	meta := parser.ReadMeta(data)
	attachments := meta.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return &NoteDetail{
		ID:          id,
		Path:        p,
		Frontmatter: res.Frontmatter,
		Attachments: attachments,
		Content:     res.Body,
	}, nil
}
