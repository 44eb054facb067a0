package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-ordering/internal/auth"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
	"ms-ordering/internal/order"
	"ms-ordering/internal/order/api"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	QR           *queue.TicketQR
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, qr *queue.TicketQR, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		QR:           qr,
		Logger:       log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Post("/{orderId}/cancel", h.CancelOrder)
		r.Post("/{orderId}/advance", h.AdvanceOrder)
		r.Get("/{orderId}/ticket/qr", h.TicketQR)
	})
	r.Get("/reservations", h.QueryReservations)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		api.BadRequest(w, "Invalid request body", err)
		return
	}
	if uid := auth.UserID(r.Context()); uid != "" {
		req.UserID = uid
	}
	h.Logger.Debug("API", fmt.Sprintf("CreateOrder: store=%s user=%s lines=%d", req.StoreID, req.UserID, len(req.Items)))

	created, err := h.OrderService.CreateOrder(r.Context(), req)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("CreateOrder: rejected: %v", err))
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", created))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order retrieved", o))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "userId is required"))
		return
	}
	orders, err := h.OrderService.ListUserOrders(r.Context(), userID, pageFrom(r))
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadOwned(w, r); !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			api.BadRequest(w, "Invalid request body", err)
			return
		}
	}

	cancelled, err := h.OrderService.CancelOrder(r.Context(), chi.URLParam(r, "orderId"), body.Reason)
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order cancelled", cancelled))
}

// AdvanceOrder is called by the payment and production integrations.
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.BadRequest(w, "Invalid request body", err)
		return
	}
	target, err := models.ParseOrderStatus(body.Status)
	if err != nil {
		api.BadRequest(w, "Invalid status", err)
		return
	}

	updated, err := h.OrderService.AdvanceOrder(r.Context(), chi.URLParam(r, "orderId"), target)
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order updated", updated))
}

// TicketQR renders the pickup code for an order in production.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	o, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	ticket, err := h.OrderService.Ticket(r.Context(), o.ID)
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	if ticket == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("No queue ticket", "order has not entered production"))
		return
	}

	png, err := h.QR.PNG(*ticket)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketQR: failed to render ticket %s: %v", ticket.Number, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) QueryReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ReservationFilter{
		OrderID: q.Get("orderId"),
		SKUID:   q.Get("skuId"),
		StoreID: q.Get("storeId"),
	}
	if s := q.Get("status"); s != "" {
		status, err := models.ParseReservationStatus(s)
		if err != nil {
			api.BadRequest(w, "Invalid status", err)
			return
		}
		filter.Status = status
	}

	page, err := h.OrderService.QueryReservations(r.Context(), filter, pageFrom(r))
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Reservations retrieved", page))
}

// loadOwned fetches the order in the URL. An authenticated caller only sees
// their own orders; anything else reads as not found.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	orderID := chi.URLParam(r, "orderId")
	o, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		api.WriteError(w, h.Logger, err)
		return nil, false
	}
	if uid := auth.UserID(r.Context()); uid != "" && uid != o.UserID {
		h.Logger.LogSecurity("ORDER_OWNERSHIP", fmt.Sprintf("user %s asked for order %s", uid, orderID))
		api.WriteError(w, h.Logger, fmt.Errorf("%w: %s", order.ErrOrderNotFound, orderID))
		return nil, false
	}
	return o, true
}

func pageFrom(r *http.Request) models.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	return models.Page{Number: number, Size: size}.Normalize()
}
