package ui

import (
	"net/http"
	"time"

	"bankruptcy-console/internal/storage"
)

const (
	activityWindow = 24 * time.Hour
	activityCalls  = 25
)

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	page := activityPage{
		pageData:       h.base("activity"),
		StorageEnabled: h.store != nil,
		LiveFeed:       h.features.API && h.api != nil,
		InFlight:       h.tracker.InFlight(),
	}

	if h.store != nil {
		overview, err := h.store.Overview(activityWindow)
		if err != nil {
			h.logger.Error("failed to get overview", "err", err)
			http.Error(w, "activity log unavailable", http.StatusInternalServerError)
			return
		}
		page.Overview = overview

		if page.Ops, err = h.store.OpStats(activityWindow); err != nil {
			h.logger.Error("failed to get op stats", "err", err)
			http.Error(w, "activity log unavailable", http.StatusInternalServerError)
			return
		}
		if page.Calls, err = h.store.List(storage.ListOptions{Limit: activityCalls}); err != nil {
			h.logger.Error("failed to list calls", "err", err)
			http.Error(w, "activity log unavailable", http.StatusInternalServerError)
			return
		}
	}

	h.renderPage(w, http.StatusOK, "activity", page)
}
