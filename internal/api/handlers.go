package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/double-tu/blinko-to-obsidian/internal/noteservice"
	"github.com/double-tu/blinko-to-obsidian/internal/syncer"
)

// Service is what the handlers drive.
type Service interface {
	Sync(ctx context.Context) (syncer.Result, error)
	Reconcile(ctx context.Context) (noteservice.ReconcileResult, error)
	Status() noteservice.Status
	Lookup(ctx context.Context, id int64) (*noteservice.NoteDetail, error)
}

var _ Service = (*noteservice.Service)(nil)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Sync handles POST /api/sync.
//
//	@Summary		Run one incremental sync pass
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sync(r.Context())
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile handles POST /api/reconcile.
//
//	@Summary		Remove notes deleted remotely
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	ReconcileResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Reconcile(r.Context())
	if err != nil {
		if res.Removed > 0 {
			// Earlier chunks stay committed; report them with the failure.
			slog.Error("reconcile failed", slog.Int("removed", res.Removed), slog.String("error", err.Error()))
			body := errorBody(err.Error())
			body.Removed = &res.Removed
			writeJSON(w, statusFor(err), body)
			return
		}
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status handles GET /api/status.
//
//	@Summary		Engine status
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Find the vault file of a remote note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		int	true	"Remote note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("id must be a positive integer"))
		return
	}
	note, err := h.svc.Lookup(r.Context(), id)
	if err != nil {
		writeError(w, "lookup note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}
