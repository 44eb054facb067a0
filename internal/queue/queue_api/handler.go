package queue_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/uptrace/bun"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/utils"
)

// Handler serves the pickup board.
type Handler struct {
	DB        bun.IDB
	Allocator *queue.Allocator
	Board     *queue.Board
	Logger    *logger.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/stores/{storeId}/queue", h.ListOpen)
	r.Get("/stores/{storeId}/queue/stream", h.Stream)
}

// ListOpen returns today's uncollected tickets so a screen can draw its
// initial state before streaming.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	tickets, err := h.Allocator.ListOpen(r.Context(), h.DB, storeID)
	if err != nil {
		h.Logger.Error("QUEUE", fmt.Sprintf("List tickets for store %s failed: %v", storeID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to list queue", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Queue retrieved", tickets))
}

// Stream pushes ticket events for one store as Server-Sent Events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	events := h.Board.Subscribe(ctx, storeID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"storeId\":%q}\n\n", storeID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Board connected for store %s", storeID))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ticket event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: ticket\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Board disconnected for store %s", storeID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
