package analytics_api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-ordering/internal/analytics"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/utils"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stores/{storeId}/analytics", h.GetStoreAnalytics)
}

// GetStoreAnalytics serves ?from=YYYY-MM-DD&to=YYYY-MM-DD, both inclusive.
func (h *Handler) GetStoreAnalytics(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")
	q := r.URL.Query()

	start, end, err := h.Service.ParseRange(q.Get("from"), q.Get("to"), time.Now())
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid date range", err.Error()))
		return
	}

	result, err := h.Service.StoreSales(r.Context(), storeID, start, end)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Store %s analytics failed: %v", storeID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to compute analytics", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Analytics retrieved", result))
}
