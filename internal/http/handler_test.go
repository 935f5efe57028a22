package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"digistore/internal/events"
	"digistore/internal/fulfillment"
	"digistore/internal/gateway"
	httpapi "digistore/internal/http"
	"digistore/internal/live"
	"digistore/internal/models"
	"digistore/internal/payments"
	"digistore/internal/secrets"
	"digistore/internal/services"
	"digistore/internal/store"
	"digistore/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const webhookToken = "hook-token"

// MockStore backs the checkout service, the reconciler and the sweeper
// in one value so a test server wires up like the real thing.
type MockStore struct {
	GetProductFunc             func(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	GetServiceFunc             func(ctx context.Context, serviceID uuid.UUID) (*models.Service, error)
	CreateInventoryOrderFunc   func(ctx context.Context, order *models.Order, lines []store.ReservationLine) error
	CreateServiceOrderFunc     func(ctx context.Context, order *models.Order, lines []store.ProviderLine) error
	SetPaymentReferenceFunc    func(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error
	FailOrderFunc              func(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error)
	GetOrderFunc               func(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOrderByNumberFunc       func(ctx context.Context, orderNumber string) (*models.Order, error)
	ListLineItemsFunc          func(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	ListProviderItemsFunc      func(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error)
	CredentialsForOrderFunc    func(ctx context.Context, orderID uuid.UUID) ([]store.SoldCredential, error)
	MarkPaidFunc               func(ctx context.Context, orderID uuid.UUID) (bool, error)
	CompleteInventoryOrderFunc func(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkProcessingFunc         func(ctx context.Context, orderID uuid.UUID) (bool, error)
	CompleteOrderFunc          func(ctx context.Context, orderID uuid.UUID) (bool, error)
	SetProviderSubmissionFunc  func(ctx context.Context, itemID uuid.UUID, providerOrderID, providerStatus string) (bool, error)
	UpdateProviderProgressFunc func(ctx context.Context, itemID uuid.UUID, status string, startCount, remaining int64) error
	ListExpiredPendingFunc     func(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CancelExpiredOrderFunc     func(ctx context.Context, orderID uuid.UUID, now time.Time, reason string) (bool, int64, error)
}

func (m *MockStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	if m.GetServiceFunc != nil {
		return m.GetServiceFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) CreateInventoryOrder(ctx context.Context, order *models.Order, lines []store.ReservationLine) error {
	if m.CreateInventoryOrderFunc != nil {
		return m.CreateInventoryOrderFunc(ctx, order, lines)
	}
	return nil
}

func (m *MockStore) CreateServiceOrder(ctx context.Context, order *models.Order, lines []store.ProviderLine) error {
	if m.CreateServiceOrderFunc != nil {
		return m.CreateServiceOrderFunc(ctx, order, lines)
	}
	return nil
}

func (m *MockStore) SetPaymentReference(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error {
	if m.SetPaymentReferenceFunc != nil {
		return m.SetPaymentReferenceFunc(ctx, orderID, invoiceID, invoiceURL)
	}
	return nil
}

func (m *MockStore) FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error) {
	if m.FailOrderFunc != nil {
		return m.FailOrderFunc(ctx, orderID, reason)
	}
	return true, 0, nil
}

func (m *MockStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	if m.GetOrderByNumberFunc != nil {
		return m.GetOrderByNumberFunc(ctx, orderNumber)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	if m.ListLineItemsFunc != nil {
		return m.ListLineItemsFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockStore) ListProviderItems(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error) {
	if m.ListProviderItemsFunc != nil {
		return m.ListProviderItemsFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockStore) CredentialsForOrder(ctx context.Context, orderID uuid.UUID) ([]store.SoldCredential, error) {
	if m.CredentialsForOrderFunc != nil {
		return m.CredentialsForOrderFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockStore) MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if m.MarkPaidFunc != nil {
		return m.MarkPaidFunc(ctx, orderID)
	}
	return true, nil
}

func (m *MockStore) CompleteInventoryOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if m.CompleteInventoryOrderFunc != nil {
		return m.CompleteInventoryOrderFunc(ctx, orderID)
	}
	return true, nil
}

func (m *MockStore) MarkProcessing(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if m.MarkProcessingFunc != nil {
		return m.MarkProcessingFunc(ctx, orderID)
	}
	return true, nil
}

func (m *MockStore) CompleteOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if m.CompleteOrderFunc != nil {
		return m.CompleteOrderFunc(ctx, orderID)
	}
	return true, nil
}

func (m *MockStore) SetProviderSubmission(ctx context.Context, itemID uuid.UUID, providerOrderID, providerStatus string) (bool, error) {
	if m.SetProviderSubmissionFunc != nil {
		return m.SetProviderSubmissionFunc(ctx, itemID, providerOrderID, providerStatus)
	}
	return true, nil
}

func (m *MockStore) UpdateProviderProgress(ctx context.Context, itemID uuid.UUID, status string, startCount, remaining int64) error {
	if m.UpdateProviderProgressFunc != nil {
		return m.UpdateProviderProgressFunc(ctx, itemID, status, startCount, remaining)
	}
	return nil
}

func (m *MockStore) ListExpiredPending(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	if m.ListExpiredPendingFunc != nil {
		return m.ListExpiredPendingFunc(ctx, now)
	}
	return nil, nil
}

func (m *MockStore) CancelExpiredOrder(ctx context.Context, orderID uuid.UUID, now time.Time, reason string) (bool, int64, error) {
	if m.CancelExpiredOrderFunc != nil {
		return m.CancelExpiredOrderFunc(ctx, orderID, now, reason)
	}
	return true, 0, nil
}

type MockInvoices struct {
	CreateInvoiceFunc func(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
}

func (m *MockInvoices) CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, req)
	}
	return &gateway.Invoice{ID: "inv-1", URL: "https://pay.example.com/inv-1"}, nil
}

func mustBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.NewBox("6368616e676520746869732070617373776f726420746f206120736563726574")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return box
}

func newTestServer(t *testing.T, st *MockStore) (*httpapi.Server, *secrets.Box) {
	t.Helper()
	return newTestServerWithFeed(t, st, live.Nop{})
}

func newTestServerWithFeed(t *testing.T, st *MockStore, feed httpapi.StatusFeed) (*httpapi.Server, *secrets.Box) {
	t.Helper()
	box := mustBox(t)
	log := zap.NewNop()
	orders := &services.OrderService{
		Store:        st,
		Invoices:     &MockInvoices{},
		Events:       events.Nop{},
		Live:         live.Nop{},
		Box:          box,
		Log:          log,
		TTL:          30 * time.Minute,
		NumberPrefix: "DS",
	}
	reconciler := &payments.Reconciler{
		Store:    st,
		Provider: fulfillment.Mock{},
		Events:   events.Nop{},
		Live:     live.Nop{},
		Log:      log,
	}
	sweeper := &worker.Sweeper{
		Store:    st,
		Events:   events.Nop{},
		Live:     live.Nop{},
		Log:      log,
		Interval: time.Minute,
	}
	handler := &httpapi.Handler{
		Orders:       orders,
		Reconciler:   reconciler,
		Sweeper:      sweeper,
		Feed:         feed,
		WebhookToken: webhookToken,
		Log:          log,
	}
	return httpapi.NewServer(handler), box
}

func doJSON(t *testing.T, srv *httpapi.Server, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestCheckout_MissingUser(t *testing.T) {
	srv, _ := newTestServer(t, &MockStore{})
	rec := doJSON(t, srv, http.MethodPost, "/api/checkout", nil, map[string]any{
		"items": []map[string]any{{"productId": uuid.NewString(), "quantity": 1}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckout_InvalidProductID(t *testing.T) {
	srv, _ := newTestServer(t, &MockStore{})
	rec := doJSON(t, srv, http.MethodPost, "/api/checkout",
		map[string]string{"X-User-Id": "u1"},
		map[string]any{"items": []map[string]any{{"productId": "not-a-uuid", "quantity": 1}}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckout_InsufficientStock(t *testing.T) {
	st := &MockStore{
		GetProductFunc: func(ctx context.Context, id uuid.UUID) (*models.Product, error) {
			return &models.Product{ID: id, Name: "Test Account", PriceCents: 500, Active: true}, nil
		},
		CreateInventoryOrderFunc: func(ctx context.Context, order *models.Order, lines []store.ReservationLine) error {
			return store.ErrInsufficientStock
		},
	}
	srv, _ := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/checkout",
		map[string]string{"X-User-Id": "u1"},
		map[string]any{"items": []map[string]any{{"productId": uuid.NewString(), "quantity": 2}}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["code"] != "INSUFFICIENT_STOCK" {
		t.Fatalf("expected INSUFFICIENT_STOCK code, got %v", body)
	}
}

func TestCheckout_Success(t *testing.T) {
	st := &MockStore{
		GetProductFunc: func(ctx context.Context, id uuid.UUID) (*models.Product, error) {
			return &models.Product{ID: id, Name: "Test Account", PriceCents: 1500, Active: true}, nil
		},
	}
	srv, _ := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/api/checkout",
		map[string]string{"X-User-Id": "u1"},
		map[string]any{"items": []map[string]any{{"productId": uuid.NewString(), "quantity": 2}}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		OrderNumber string `json:"orderNumber"`
		TotalCents  int64  `json:"totalCents"`
		PaymentURL  string `json:"paymentUrl"`
		ExpiresAt   string `json:"expiresAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.TotalCents != 3000 || body.PaymentURL == "" || body.OrderNumber == "" || body.ExpiresAt == "" {
		t.Fatalf("incomplete checkout response: %+v", body)
	}
}

func TestWebhook_InvalidToken(t *testing.T) {
	srv, _ := newTestServer(t, &MockStore{})
	rec := doJSON(t, srv, http.MethodPost, "/api/payments/webhook",
		map[string]string{"X-Webhook-Token": "wrong"},
		map[string]any{"status": "PAID", "external_id": "DS-1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_MissingFields(t *testing.T) {
	srv, _ := newTestServer(t, &MockStore{})
	rec := doJSON(t, srv, http.MethodPost, "/api/payments/webhook",
		map[string]string{"X-Webhook-Token": webhookToken},
		map[string]any{"status": "PAID"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhook_PaidAndDuplicate(t *testing.T) {
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: "DS-20260829-AB12CD",
		UserID:      "u1",
		Type:        models.OrderTypeInventory,
		TotalCents:  1500,
		Status:      models.OrderPending,
	}
	st := &MockStore{
		GetOrderByNumberFunc: func(ctx context.Context, n string) (*models.Order, error) {
			if n != order.OrderNumber {
				return nil, store.ErrNotFound
			}
			return order, nil
		},
		CompleteInventoryOrderFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
			order.Status = models.OrderCompleted
			return true, nil
		},
	}
	srv, _ := newTestServer(t, st)

	payload := map[string]any{"status": "PAID", "external_id": order.OrderNumber}
	headers := map[string]string{"X-Webhook-Token": webhookToken}

	rec := doJSON(t, srv, http.MethodPost, "/api/payments/webhook", headers, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["result"] != "completed" {
		t.Fatalf("first delivery: expected completed, got %v", body)
	}

	// Redelivery answers 200 as well, without touching the order again.
	rec = doJSON(t, srv, http.MethodPost, "/api/payments/webhook", headers, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["result"] != "ignored" {
		t.Fatalf("redelivery: expected ignored, got %v", body)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, &MockStore{})
	rec := doJSON(t, srv, http.MethodGet, "/api/orders/DS-20260829-FFFFFF", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetOrder_CompletedIncludesCredentials(t *testing.T) {
	orderID := uuid.New()
	productID := uuid.New()
	unitID := uuid.New()

	st := &MockStore{
		GetOrderByNumberFunc: func(ctx context.Context, n string) (*models.Order, error) {
			return &models.Order{
				ID:          orderID,
				OrderNumber: n,
				UserID:      "u1",
				Type:        models.OrderTypeInventory,
				TotalCents:  1500,
				Status:      models.OrderCompleted,
			}, nil
		},
		ListLineItemsFunc: func(ctx context.Context, id uuid.UUID) ([]models.OrderLineItem, error) {
			return []models.OrderLineItem{{ID: uuid.New(), OrderID: orderID, ProductID: productID, UnitPriceCents: 1500}}, nil
		},
	}
	srv, box := newTestServer(t, st)

	sealed, err := box.Seal([]byte("login:password123"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	st.CredentialsForOrderFunc = func(ctx context.Context, id uuid.UUID) ([]store.SoldCredential, error) {
		return []store.SoldCredential{{UnitID: unitID, ProductID: productID, CredentialCipher: sealed}}, nil
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/orders/DS-20260829-AB12CD", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status      string `json:"status"`
		Credentials []struct {
			ProductID string `json:"productId"`
			Payload   string `json:"payload"`
		} `json:"credentials"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "completed" {
		t.Fatalf("unexpected status %q", body.Status)
	}
	if len(body.Credentials) != 1 || body.Credentials[0].Payload != "login:password123" {
		t.Fatalf("credentials not delivered: %+v", body.Credentials)
	}
}

func TestSweepEndpoint(t *testing.T) {
	expiredID := uuid.New()
	st := &MockStore{
		ListExpiredPendingFunc: func(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
			return []uuid.UUID{expiredID}, nil
		},
		CancelExpiredOrderFunc: func(ctx context.Context, id uuid.UUID, now time.Time, reason string) (bool, int64, error) {
			return true, 2, nil
		},
		GetOrderFunc: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return &models.Order{ID: id, OrderNumber: "DS-20260829-AB12CD", Status: models.OrderCancelled}, nil
		},
	}
	srv, _ := newTestServer(t, st)

	rec := doJSON(t, srv, http.MethodPost, "/internal/sweep", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report worker.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Processed != 1 || report.ReleasedUnits != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
