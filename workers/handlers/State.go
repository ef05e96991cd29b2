package handlers

import (
	"net/http"
	"time"

	"xrplbridge/logging"
)

const bannerMessage = "XRPL - XRP EVM Sidechain Bridge API"

func Banner(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, map[string]string{"message": bannerMessage}, http.StatusOK)
}

// State reports whether the request store is reachable
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	count, err := h.Store.CountCreatedSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Error("state check failed")
		responseJSON(w, &APIStateResponse{
			Status:  "error",
			Message: "request store unavailable",
		}, http.StatusServiceUnavailable)
		return
	}
	responseJSON(w, &APIStateResponse{
		Status:         "ok",
		RecentRequests: count,
	}, http.StatusOK)
}
