package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/double-tu/blinko-to-obsidian/internal/blinko"
	"github.com/double-tu/blinko-to-obsidian/internal/index"
	"github.com/double-tu/blinko-to-obsidian/internal/journal"
	"github.com/double-tu/blinko-to-obsidian/internal/materialize"
	"github.com/double-tu/blinko-to-obsidian/internal/noteservice"
	"github.com/double-tu/blinko-to-obsidian/internal/reconcile"
	"github.com/double-tu/blinko-to-obsidian/internal/sse"
	"github.com/double-tu/blinko-to-obsidian/internal/state"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
	"github.com/double-tu/blinko-to-obsidian/internal/syncer"
	"github.com/double-tu/blinko-to-obsidian/internal/titles"
)

// ErrLocked is returned when another process holds the state lock.
var ErrLocked = errors.New("another instance is using the state database")

// newLogger builds the JSON logger. When cfg.LogFile is set, records are
// also written to a size-rotated file.
func newLogger(cfg ApplicationConfig, out io.Writer) (*slog.Logger, io.Closer) {
	if out == nil {
		out = os.Stdout
	}
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// services is the wired object graph shared by every run mode.
type services struct {
	logger     *slog.Logger
	lock       *flock.Flock
	state      *state.DB
	store      *storage.FS
	index      *index.Index
	remote     *blinko.Client
	mat        *materialize.Materializer
	syncer     *syncer.Engine
	reconciler *reconcile.Engine
	broker     *sse.Broker
	notes      *noteservice.Service
}

// newServices opens the state database under an exclusive process lock and
// wires the engines. broker may be nil when no event stream is served.
func newServices(cfg *Config, logger *slog.Logger, broker *sse.Broker) (*services, error) {
	remote, err := blinko.New(blinko.Config{
		BaseURL: cfg.Blinko.BaseURL,
		Token:   cfg.Blinko.Token,
		Timeout: cfg.Blinko.Timeout,
	}, nil)
	if err != nil {
		return nil, err
	}
	layout, err := cfg.Vault.Layout()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store = store.WithLogger(logger)

	if dir := filepath.Dir(cfg.State.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	lock := flock.New(cfg.State.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("init state: %w", err)
	}

	var events sse.Publisher = sse.Nop{}
	if broker != nil {
		events = broker
	}

	idx := index.New(store, layout.NoteFolder, logger)

	matOpts := []materialize.Option{materialize.WithLogger(logger)}
	if cfg.Titles.Enabled {
		resolver := titles.NewHTTPResolver(cfg.Titles.Endpoint, &http.Client{Timeout: 30 * time.Second})
		matOpts = append(matOpts, materialize.WithTitleResolver(titles.NewLimited(resolver, cfg.Titles.Concurrency)))
	}
	mat := materialize.New(remote, store, idx, layout, matOpts...)

	syncEngine := syncer.New(remote, mat, db, db,
		syncer.WithPublisher(events),
		syncer.WithLogger(logger),
	)
	reconciler := reconcile.New(remote, store, idx, db,
		reconcile.Settings{Layout: layout, DeleteRecycled: cfg.Sync.DeleteRecycled},
		reconcile.WithPublisher(events),
		reconcile.WithLogger(logger),
	)

	var consumer journal.Consumer = journal.Nop{}
	if cfg.Journal.Enabled {
		consumer = journal.NewDailyNotes(store, cfg.Journal.Folder, cfg.Journal.DateFormat, layout.Loc(), logger)
	}

	return &services{
		logger:     logger,
		lock:       lock,
		state:      db,
		store:      store,
		index:      idx,
		remote:     remote,
		mat:        mat,
		syncer:     syncEngine,
		reconciler: reconciler,
		broker:     broker,
		notes:      noteservice.NewService(syncEngine, reconciler, consumer, idx, store, db, logger),
	}, nil
}

// reconfigure applies the vault layout and recycle switch of cfg to the
// running engines. Connection, state and HTTP settings need a restart.
func (s *services) reconfigure(cfg *Config) error {
	layout, err := cfg.Vault.Layout()
	if err != nil {
		return err
	}
	s.mat.Reconfigure(layout)
	s.reconciler.Reconfigure(reconcile.Settings{Layout: layout, DeleteRecycled: cfg.Sync.DeleteRecycled})
	s.logger.Info("Configuration reloaded",
		slog.String("note_folder", layout.NoteFolder),
		slog.String("attachment_folder", layout.AttachmentFolder),
		slog.Bool("delete_recycled", cfg.Sync.DeleteRecycled))
	return nil
}

// Close releases the state database and the process lock.
func (s *services) Close() error {
	err := s.state.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
