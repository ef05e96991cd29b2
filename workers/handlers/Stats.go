package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"xrplbridge/logging"
	"xrplbridge/types"
)

// Stats lists requests having the given status, newest first
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	status := types.Status(chi.URLParam(r, "status"))

	reqs, err := h.Store.ListByStatus(r.Context(), status, h.StatsLimit)
	if errors.Is(err, types.ErrValidation) {
		responseError(w, "status", "Unknown status", http.StatusBadRequest)
		return
	}
	if err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).WithField("status", status).Error("can't list bridge requests")
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}

	responseJSON(w, reqs, http.StatusOK)
}
