package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const cursorKey = "last_sync_time"

// CursorStore persists the sync frontier.
type CursorStore interface {
	Cursor() (int64, error)
	SetCursor(ms int64) error
}

// ManifestStore persists attachment filenames per note id.
type ManifestStore interface {
	Manifest(noteID string) ([]string, bool, error)
	SetManifest(noteID string, names []string) error
	DeleteManifest(noteID string) error
}

var (
	_ CursorStore   = (*DB)(nil)
	_ ManifestStore = (*DB)(nil)
)

// Cursor returns the persisted cursor in epoch milliseconds, or 0 if the
// vault was never synced.
func (db *DB) Cursor() (int64, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state: read cursor: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("state: parse cursor %q: %w", raw, err)
	}
	return ms, nil
}

// SetCursor stores ms. A value lower than the current cursor is ignored so
// the frontier never moves backwards.
func (db *DB) SetCursor(ms int64) error {
	current, err := db.Cursor()
	if err != nil {
		return err
	}
	if ms < current {
		return nil
	}
	_, err = db.conn.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, cursorKey, strconv.FormatInt(ms, 10))
	if err != nil {
		return fmt.Errorf("state: write cursor: %w", err)
	}
	return nil
}

// ResetCursor forgets the sync frontier so the next pass refetches everything.
func (db *DB) ResetCursor() error {
	if _, err := db.conn.Exec(`DELETE FROM sync_state WHERE key = ?`, cursorKey); err != nil {
		return fmt.Errorf("state: reset cursor: %w", err)
	}
	return nil
}

// Manifest returns the ordered attachment names recorded for noteID. The
// boolean is false when no entry exists; an entry may be empty.
func (db *DB) Manifest(noteID string) ([]string, bool, error) {
	var present int
	err := db.conn.QueryRow(`SELECT count(*) FROM manifest_notes WHERE note_id = ?`, noteID).Scan(&present)
	if err != nil {
		return nil, false, fmt.Errorf("state: read manifest: %w", err)
	}
	if present == 0 {
		return nil, false, nil
	}

	rows, err := db.conn.Query(`
		SELECT filename FROM attachment_manifest
		WHERE note_id = ?
		ORDER BY position
	`, noteID)
	if err != nil {
		return nil, false, fmt.Errorf("state: read manifest: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, false, err
		}
		out = append(out, name)
	}
	return out, true, rows.Err()
}

// SetManifest replaces the manifest for noteID with names, deduplicated in order.
func (db *DB) SetManifest(noteID string, names []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`INSERT OR IGNORE INTO manifest_notes (note_id) VALUES (?)`, noteID); err != nil {
		return fmt.Errorf("state: mark manifest: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM attachment_manifest WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("state: clear manifest: %w", err)
	}
	seen := make(map[string]struct{}, len(names))
	pos := 0
	for _, name := range names {
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		if _, err := tx.Exec(`INSERT INTO attachment_manifest (note_id, position, filename) VALUES (?, ?, ?)`,
			noteID, pos, name); err != nil {
			return fmt.Errorf("state: insert manifest: %w", err)
		}
		pos++
	}
	return tx.Commit()
}

// DeleteManifest drops the manifest entry for noteID.
func (db *DB) DeleteManifest(noteID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM attachment_manifest WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("state: delete manifest: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM manifest_notes WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("state: delete manifest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: delete manifest: %w", err)
	}
	return nil
}

// ManifestCount returns the number of notes with a recorded manifest.
func (db *DB) ManifestCount() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM manifest_notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: count manifests: %w", err)
	}
	return n, nil
}
