package order

import "ms-ordering/internal/models"

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPendingPayment:    {models.OrderStatusPendingProduction, models.OrderStatusCancelled},
	models.OrderStatusPendingProduction: {models.OrderStatusProducing, models.OrderStatusCancelled},
	models.OrderStatusProducing:         {models.OrderStatusCompleted},
	models.OrderStatusCompleted:         {models.OrderStatusDelivered},
}

// CanTransitionTo reports whether an order may move from one status to
// another. Self transitions and anything out of a terminal status are refused.
func CanTransitionTo(from, to models.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStatuses lists where an order can go from its current status.
func NextStatuses(from models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), transitions[from]...)
}
