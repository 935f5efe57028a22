package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"digistore/internal/models"
	"digistore/internal/payments"
	"digistore/internal/services"
	"digistore/internal/store"
	"digistore/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	Orders       *services.OrderService
	Reconciler   *payments.Reconciler
	Sweeper      *worker.Sweeper
	Feed         StatusFeed
	WebhookToken string
	Log          *zap.Logger
}

type checkoutItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items     []checkoutItem `json:"items,omitempty"`
	ServiceID string         `json:"serviceId,omitempty"`
	Target    string         `json:"target,omitempty"`
	Quantity  int            `json:"quantity,omitempty"`
}

type checkoutResponse struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	TotalCents  int64  `json:"totalCents"`
	PaymentURL  string `json:"paymentUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")

	var result *services.CheckoutResult
	var err error
	switch {
	case len(req.Items) > 0:
		items := make([]services.ItemInput, 0, len(req.Items))
		for _, it := range req.Items {
			productID, parseErr := uuid.Parse(it.ProductID)
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid product id")
				return
			}
			items = append(items, services.ItemInput{ProductID: productID, Quantity: it.Quantity})
		}
		result, err = h.Orders.CreateInventoryOrder(r.Context(), userID, items)
	case req.ServiceID != "":
		serviceID, parseErr := uuid.Parse(req.ServiceID)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid service id")
			return
		}
		result, err = h.Orders.CreateServiceOrder(r.Context(), userID, serviceID, req.Target, req.Quantity)
	default:
		writeError(w, http.StatusBadRequest, "either items or serviceId is required")
		return
	}

	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:     result.OrderID.String(),
		OrderNumber: result.OrderNumber,
		TotalCents:  result.TotalCents,
		PaymentURL:  result.PaymentURL,
		ExpiresAt:   result.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMissingUserID):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.Is(err, services.ErrEmptyOrder),
		errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnknownProduct),
		errors.Is(err, services.ErrUnknownService):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "insufficient stock",
			"code":  "INSUFFICIENT_STOCK",
		})
	case errors.Is(err, services.ErrPaymentInit):
		writeError(w, http.StatusBadGateway, "payment initialization failed")
	default:
		h.Log.Error("checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout failed")
	}
}

type orderItemResponse struct {
	ProductID      string `json:"productId"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type providerItemResponse struct {
	ServiceRef      string  `json:"serviceRef"`
	Target          string  `json:"target"`
	Quantity        int     `json:"quantity"`
	ProviderOrderID *string `json:"providerOrderId,omitempty"`
	ProviderStatus  *string `json:"providerStatus,omitempty"`
	StartCount      *int64  `json:"startCount,omitempty"`
	Remaining       *int64  `json:"remaining,omitempty"`
}

type orderResponse struct {
	OrderNumber   string                    `json:"orderNumber"`
	Type          string                    `json:"type"`
	Status        string                    `json:"status"`
	TotalCents    int64                     `json:"totalCents"`
	PaymentURL    *string                   `json:"paymentUrl,omitempty"`
	ExpiresAt     string                    `json:"expiresAt,omitempty"`
	Items         []orderItemResponse       `json:"items,omitempty"`
	ProviderItems []providerItemResponse    `json:"providerItems,omitempty"`
	Credentials   []services.CredentialView `json:"credentials,omitempty"`
	CancelReason  *string                   `json:"cancellationReason,omitempty"`
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	view, err := h.Orders.View(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Log.Error("get order failed", zap.String("order_number", orderNumber), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	writeJSON(w, http.StatusOK, orderViewResponse(view))
}

func orderViewResponse(view *services.OrderView) orderResponse {
	order := view.Order
	resp := orderResponse{
		OrderNumber:  order.OrderNumber,
		Type:         string(order.Type),
		Status:       string(order.Status),
		TotalCents:   order.TotalCents,
		PaymentURL:   order.PaymentURL,
		Credentials:  view.Credentials,
		CancelReason: order.CancellationReason,
	}
	if order.Status == models.OrderPending && order.ExpiresAt != nil {
		resp.ExpiresAt = order.ExpiresAt.Format(time.RFC3339)
	}
	for _, it := range view.LineItems {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:      it.ProductID.String(),
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	for _, it := range view.ProviderItems {
		resp.ProviderItems = append(resp.ProviderItems, providerItemResponse{
			ServiceRef:      it.ServiceRef,
			Target:          it.Target,
			Quantity:        it.Quantity,
			ProviderOrderID: it.ProviderOrderID,
			ProviderStatus:  it.ProviderStatus,
			StartCount:      it.StartCount,
			Remaining:       it.Remaining,
		})
	}
	return resp
}

func (h *Handler) GetFulfillment(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	items, err := h.Reconciler.RefreshProviderStatus(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Log.Error("fulfillment refresh failed", zap.String("order_number", orderNumber), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "fulfillment status failed")
		return
	}

	out := make([]providerItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, providerItemResponse{
			ServiceRef:      it.ServiceRef,
			Target:          it.Target,
			Quantity:        it.Quantity,
			ProviderOrderID: it.ProviderOrderID,
			ProviderStatus:  it.ProviderStatus,
			StartCount:      it.StartCount,
			Remaining:       it.Remaining,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type webhookRequest struct {
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
}

// Webhook accepts gateway callbacks. The body never carries internal
// error detail back to the gateway; duplicates answer 200 like the
// first delivery did.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Webhook-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.WebhookToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Status == "" || req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "status and external_id are required")
		return
	}

	result, err := h.Reconciler.HandleCallback(r.Context(), req.Status, req.ExternalID)
	if err != nil {
		h.Log.Error("webhook processing failed",
			zap.String("external_id", req.ExternalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Sweeper.SweepOnce(r.Context())
	if err != nil {
		h.Log.Error("sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
