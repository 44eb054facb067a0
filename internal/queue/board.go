package queue

import (
	"context"
	"sync"

	"ms-ordering/internal/models"
)

// Board fans ticket events out to the pickup screens of each store.
type Board struct {
	clients map[string][]chan models.TicketEvent
	mu      sync.RWMutex
}

func NewBoard() *Board {
	return &Board{clients: make(map[string][]chan models.TicketEvent)}
}

// Subscribe registers a screen for a store. The channel closes once ctx ends.
func (b *Board) Subscribe(ctx context.Context, storeID string) <-chan models.TicketEvent {
	ch := make(chan models.TicketEvent, 10)

	b.mu.Lock()
	b.clients[storeID] = append(b.clients[storeID], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(storeID, ch)
	}()

	return ch
}

// Emit never blocks; a screen with a full buffer misses the event.
func (b *Board) Emit(event models.TicketEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.clients[event.StoreID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Board) remove(storeID string, ch chan models.TicketEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[storeID]
	for i, c := range clients {
		if c == ch {
			b.clients[storeID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.clients[storeID]) == 0 {
		delete(b.clients, storeID)
	}
}

// ClientCount returns the number of screens subscribed to a store.
func (b *Board) ClientCount(storeID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[storeID])
}
