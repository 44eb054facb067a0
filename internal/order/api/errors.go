// Package api maps domain errors onto HTTP responses for every handler in
// the service.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-ordering/internal/catalog"
	"ms-ordering/internal/inventory"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/order"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/utils"
)

// RetryAfterSeconds is sent with 503s that a client may simply retry.
const RetryAfterSeconds = "1"

// WriteError writes the response matching err. Unknown errors become a 500
// and are logged.
func WriteError(w http.ResponseWriter, log *logger.Logger, err error) {
	var shortage *inventory.InsufficientInventoryError
	var transition *order.InvalidStateTransitionError

	switch {
	case errors.As(err, &shortage):
		utils.WriteJSON(w, http.StatusConflict,
			utils.ErrorResponseWithData("Insufficient inventory", err.Error(), shortage.Shortages))
	case errors.As(err, &transition):
		utils.WriteJSON(w, http.StatusConflict,
			utils.ErrorResponseWithData("Invalid status transition", err.Error(), map[string]interface{}{
				"from":    transition.From,
				"to":      transition.To,
				"allowed": order.NextStatuses(transition.From),
			}))
	case errors.Is(err, order.ErrConcurrentUpdate):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Order changed concurrently", err.Error()))
	case errors.Is(err, inventory.ErrAdjustBelowReserved):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Adjustment rejected", err.Error()))
	case errors.Is(err, order.ErrOrderNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
	case errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrUnknownSKU):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", err.Error()))
	case errors.Is(err, inventory.ErrLockTimeout):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Inventory busy, retry shortly", err.Error()))
	case errors.Is(err, queue.ErrQueueCapacityExceeded):
		log.Error("API", fmt.Sprintf("Queue exhausted: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Queue capacity exceeded", err.Error()))
	case errors.Is(err, catalog.ErrUnavailable):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Catalog unavailable", err.Error()))
	default:
		log.Error("API", fmt.Sprintf("Unhandled error: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal error", "internal server error"))
	}
}

// BadRequest is a shortcut for malformed input caught in the handler itself.
func BadRequest(w http.ResponseWriter, message string, err error) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(message, err.Error()))
}
