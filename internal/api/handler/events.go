package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/plateworks/reelchef/internal/api/response"
	"github.com/plateworks/reelchef/internal/store"
	"github.com/plateworks/reelchef/pkg/models"
)

// StatusSubscriber is the live status stream the events handler needs.
type StatusSubscriber interface {
	SubscribeStatus(ctx context.Context, recipeID uuid.UUID) (<-chan models.StatusEvent, func(), error)
}

// terminalStatus reports whether a processing status can never change again.
func terminalStatus(status string) bool {
	return status == models.QueueStatusCompleted || status == models.QueueStatusFailed
}

// NewStatusEventsHandler returns the handler for
// GET /api/v1/recipes/{recipeID}/events. It streams processing status
// changes as server-sent events. The current state is always sent first,
// since the live stream has no replay.
func NewStatusEventsHandler(st RecipeStore, subs StatusSubscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipeID, ok := parseRecipeID(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Streaming not supported", nil)
			return
		}

		// Subscribe before reading current state so no transition between
		// the read and the subscription is lost.
		events, cancel, err := subs.SubscribeStatus(r.Context(), recipeID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not subscribe to status events", nil)
			return
		}
		defer cancel()

		entry, err := st.GetQueueEntry(r.Context(), recipeID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Recipe not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load processing state", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		current := models.StatusEvent{
			RecipeID: recipeID,
			Status:   entry.Status,
			At:       time.Now().UTC(),
		}
		if entry.ErrorMessage != nil {
			current.Error = *entry.ErrorMessage
		}
		writeEvent(w, current)
		flusher.Flush()
		if terminalStatus(current.Status) {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				writeEvent(w, ev)
				flusher.Flush()
				if terminalStatus(ev.Status) {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
}
