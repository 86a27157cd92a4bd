// Package index maps Blinko note ids to the vault files they were
// materialized into. The mapping is a lazily built cache versioned by an
// epoch counter: changing the note root or calling Invalidate bumps the
// epoch and the next read rescans the vault.
package index

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/double-tu/blinko-to-obsidian/internal/parser"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
)

var suffixIDRe = regexp.MustCompile(`-blinko-(\d+)\.md$`)

// Entry is one materialized note.
type Entry struct {
	ID   int64
	Path string
}

// NoteIndex is the id to path lookup used by the materializer and the
// reconciliation engine.
type NoteIndex interface {
	Lookup(id int64) (string, bool, error)
	Entries() ([]Entry, error)
	Put(id int64, path string)
	Remove(id int64)
	Invalidate()
	SetRoot(root string)
}

var _ NoteIndex = (*Index)(nil)

// Index is the storage-backed NoteIndex.
type Index struct {
	store  storage.Provider
	logger *slog.Logger

	mu      sync.Mutex
	root    string
	epoch   uint64
	builtAt uint64
	byID    map[int64]string
}

// New returns an empty index over store. Nothing is scanned until the
// first read.
func New(store storage.Provider, root string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:  store,
		logger: logger,
		root:   normalizeRoot(root),
		epoch:  1,
	}
}

// Epoch returns the current cache version.
func (x *Index) Epoch() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.epoch
}

// Invalidate drops the cached mapping.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.epoch++
	x.mu.Unlock()
}

// SetRoot changes the note root. The cache is invalidated only when the
// root actually changes.
func (x *Index) SetRoot(root string) {
	root = normalizeRoot(root)
	x.mu.Lock()
	defer x.mu.Unlock()
	if root == x.root {
		return
	}
	x.root = root
	x.epoch++
}

// Lookup returns the last known path of id.
func (x *Index) Lookup(id int64) (string, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.ensureLocked(); err != nil {
		return "", false, err
	}
	p, ok := x.byID[id]
	return p, ok, nil
}

// Entries returns every indexed note ordered by id.
func (x *Index) Entries() ([]Entry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.ensureLocked(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(x.byID))
	for id, p := range x.byID {
		out = append(out, Entry{ID: id, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put records that id now lives at path. A stale cache is left alone; the
// next rescan picks the file up from disk.
func (x *Index) Put(id int64, path string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fresh() {
		x.byID[id] = path
	}
}

// Remove forgets id.
func (x *Index) Remove(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fresh() {
		delete(x.byID, id)
	}
}

func (x *Index) fresh() bool {
	return x.byID != nil && x.builtAt == x.epoch
}

func (x *Index) ensureLocked() error {
	if x.fresh() {
		return nil
	}
	byID, err := x.scan()
	if err != nil {
		return err
	}
	x.byID = byID
	x.builtAt = x.epoch
	x.logger.Debug("index: rebuilt", slog.Int("notes", len(byID)), slog.Uint64("epoch", x.epoch))
	return nil
}

// scan walks every Markdown file in the vault. Files under the note root
// are identified by their -blinko-{id} suffix or frontmatter id; files
// elsewhere count only when their frontmatter carries the blinko source
// marker. A file under the root wins over a stray copy outside it.
func (x *Index) scan() (map[int64]string, error) {
	metas, err := x.store.List("")
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]string, len(metas))
	inRoot := make(map[int64]bool, len(metas))
	for _, m := range metas {
		under := x.underRoot(m.Path)
		id, ok := x.identify(m.Path, under)
		if !ok {
			continue
		}
		if prev, dup := byID[id]; dup {
			if inRoot[id] || !under {
				x.logger.Debug("index: duplicate note id",
					slog.Int64("id", id), slog.String("kept", prev), slog.String("ignored", m.Path))
				continue
			}
		}
		byID[id] = m.Path
		inRoot[id] = under
	}
	return byID, nil
}

func (x *Index) identify(p string, under bool) (int64, bool) {
	if under {
		if m := suffixIDRe.FindStringSubmatch(p); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id, true
			}
		}
	}
	data, err := x.store.Read(p)
	if err != nil {
		x.logger.Warn("index: read failed", slog.String("path", p), slog.String("error", err.Error()))
		return 0, false
	}
	meta := parser.ReadMeta(data)
	if !meta.HasID {
		return 0, false
	}
	if !under && !meta.IsBlinko() {
		return 0, false
	}
	return meta.ID, true
}

func (x *Index) underRoot(p string) bool {
	return x.root == "" || strings.HasPrefix(p, x.root+"/")
}

func normalizeRoot(root string) string {
	return strings.Trim(strings.ReplaceAll(strings.TrimSpace(root), `\`, "/"), "/")
}
