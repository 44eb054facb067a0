package queue_api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ordering/internal/database/dbtest"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
	"ms-ordering/internal/queue"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	log := logger.NewNop()
	return &Handler{
		DB:        dbtest.New(t),
		Allocator: queue.NewAllocator(queue.NewMemoryCounter(), time.UTC, log),
		Board:     queue.NewBoard(),
		Logger:    log,
	}
}

func TestListOpen(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()

	first, err := h.Allocator.Issue(ctx, h.DB, "s1", uuid.NewString())
	require.NoError(t, err)
	second, err := h.Allocator.Issue(ctx, h.DB, "s1", uuid.NewString())
	require.NoError(t, err)
	_, err = h.Allocator.SetStatus(ctx, h.DB, first.OrderID, models.TicketStatusCompleted)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stores/s1/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.QueueTicket `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, second.Number, body.Data[0].Number)
	assert.Equal(t, "D002", body.Data[0].Number)
}

func TestStream(t *testing.T) {
	h := newHandler(t)
	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stores/s1/queue/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	// The subscription is registered before the connected event is written.
	h.Board.Emit(models.TicketEvent{StoreID: "s2", Number: "D009"})
	h.Board.Emit(models.TicketEvent{StoreID: "s1", OrderID: "o1", Number: "D001", Status: models.TicketStatusCalled})

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: ") && strings.Contains(lines.Text(), `"number"`) {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			break
		}
	}
	var event models.TicketEvent
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "D001", event.Number)
	assert.Equal(t, models.TicketStatusCalled, event.Status)
}
