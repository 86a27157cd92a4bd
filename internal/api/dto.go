package api

import (
	"github.com/double-tu/blinko-to-obsidian/internal/noteservice"
	"github.com/double-tu/blinko-to-obsidian/internal/syncer"
)

// SyncResponse is returned by POST /api/sync (aliased from the engine).
type SyncResponse = syncer.Result

// ReconcileResponse is returned by POST /api/reconcile.
type ReconcileResponse = noteservice.ReconcileResult

// StatusResponse is returned by GET /api/status.
type StatusResponse = noteservice.Status

// NoteDetail is returned by GET /api/notes/{id}.
type NoteDetail = noteservice.NoteDetail
