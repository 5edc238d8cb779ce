package api

import (
	"net/http"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	"github.com/google/uuid"
)

// CreateBusy handles POST /busy
func (h *Handler) CreateBusy(w http.ResponseWriter, r *http.Request) {
	var req CreateBusyRequest
	if apiErr := decode(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	block, err := h.busy.Create(r.Context(), calendarApp.CreateBusyCommand{
		Email:       req.Email,
		Start:       req.Start,
		End:         req.End,
		Label:       req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "create_busy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBusyBlockResponse(block))
}

// ListBusy handles GET /busy?email=
func (h *Handler) ListBusy(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, ErrBadRequest.with("Query parameter 'email' is required"))
		return
	}

	blocks, err := h.busy.List(r.Context(), email)
	if err != nil {
		h.fail(w, r, "list_busy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": toBusyBlockResponses(blocks)})
}

// DeleteBusy handles DELETE /busy/{id}
func (h *Handler) DeleteBusy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, ErrBadRequest.with("Invalid busy block ID"))
		return
	}
	if err := h.busy.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete_busy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
