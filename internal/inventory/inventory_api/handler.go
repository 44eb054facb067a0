package inventory_api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
	"ms-ordering/internal/order/api"
	"ms-ordering/internal/utils"
)

type Handler struct {
	Ledger *inventory.Ledger
	Logger *logger.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/stores/{storeId}/inventory/{skuId}", h.Get)
	r.Post("/stores/{storeId}/inventory/{skuId}/adjust", h.Adjust)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "storeId"), chi.URLParam(r, "skuId"))
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Inventory retrieved", view))
}

// Adjust applies a restock, wastage or count correction.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	storeID, skuID := chi.URLParam(r, "storeId"), chi.URLParam(r, "skuId")

	var adj models.StockAdjustment
	if err := json.NewDecoder(r.Body).Decode(&adj); err != nil {
		api.BadRequest(w, "Invalid request body", err)
		return
	}

	view, err := h.Ledger.Adjust(r.Context(), storeID, skuID, adj)
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Inventory adjusted", view))
}
