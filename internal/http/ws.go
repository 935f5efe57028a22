package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"digistore/internal/live"
	"digistore/internal/models"
	"digistore/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusFeed is the live-update source the websocket endpoint streams
// from.
type StatusFeed interface {
	Subscribe(ctx context.Context, orderNumber string) (<-chan live.StatusUpdate, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// OrderFeed streams an order's status changes to the checkout page
// while the customer waits for payment confirmation. The current status
// is sent immediately; once the order reaches a terminal state the
// connection closes.
func (h *Handler) OrderFeed(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	order, err := h.Orders.Store.GetOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so we notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first := live.StatusUpdate{
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		UpdatedAt:   order.UpdatedAt,
	}
	if err := conn.WriteJSON(first); err != nil {
		return
	}
	if order.Status.Terminal() {
		return
	}

	updates, unsubscribe := h.Feed.Subscribe(ctx, orderNumber)
	defer unsubscribe()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				h.Log.Debug("ws write failed", zap.String("order_number", orderNumber), zap.Error(err))
				return
			}
			if models.OrderStatus(update.Status).Terminal() {
				return
			}
		}
	}
}
