package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"digistore/internal/events"
	"digistore/internal/gateway"
	"digistore/internal/models"
	"digistore/internal/services"
	"digistore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MockStore struct {
	GetProductFunc           func(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	GetServiceFunc           func(ctx context.Context, serviceID uuid.UUID) (*models.Service, error)
	CreateInventoryOrderFunc func(ctx context.Context, order *models.Order, lines []store.ReservationLine) error
	CreateServiceOrderFunc   func(ctx context.Context, order *models.Order, lines []store.ProviderLine) error
	SetPaymentReferenceFunc  func(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error
	FailOrderFunc            func(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error)
	GetOrderByNumberFunc     func(ctx context.Context, orderNumber string) (*models.Order, error)
	ListLineItemsFunc        func(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	ListProviderItemsFunc    func(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error)
	CredentialsForOrderFunc  func(ctx context.Context, orderID uuid.UUID) ([]store.SoldCredential, error)
}

func (m *MockStore) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, productID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetService(ctx context.Context, serviceID uuid.UUID) (*models.Service, error) {
	if m.GetServiceFunc != nil {
		return m.GetServiceFunc(ctx, serviceID)
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

type MockInvoices struct {
	CreateInvoiceFunc func(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
}

func (m *MockInvoices) CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, req)
	}
	return &gateway.Invoice{ID: "inv-1", URL: "https://pay.example.com/inv-1"}, nil
}

type nopLive struct{}

func (nopLive) PublishStatus(ctx context.Context, orderNumber, status string) {}

func newOrderService(st *MockStore, inv *MockInvoices) *services.OrderService {
	return &services.OrderService{
		Store:        st,
		Invoices:     inv,
		Events:       events.Nop{},
		Live:         nopLive{},
		Log:          zap.NewNop(),
		TTL:          30 * time.Minute,
		NumberPrefix: "DS",
	}
}

func activeProduct(id uuid.UUID, price int64) *models.Product {
	return &models.Product{ID: id, Name: "Test Account", PriceCents: price, Active: true}
}

func TestCreateInventoryOrder_Validation(t *testing.T) {
	svc := newOrderService(&MockStore{}, &MockInvoices{})
	ctx := context.Background()
	productID := uuid.New()

	if _, err := svc.CreateInventoryOrder(ctx, "", []services.ItemInput{{ProductID: productID, Quantity: 1}}); !errors.Is(err, services.ErrMissingUserID) {
		t.Fatalf("missing user: got %v", err)
	}
	if _, err := svc.CreateInventoryOrder(ctx, "u1", nil); !errors.Is(err, services.ErrEmptyOrder) {
		t.Fatalf("empty order: got %v", err)
	}
	if _, err := svc.CreateInventoryOrder(ctx, "u1", []services.ItemInput{{ProductID: productID, Quantity: 0}}); !errors.Is(err, services.ErrInvalidQuantity) {
		t.Fatalf("zero qty: got %v", err)
	}
	if _, err := svc.CreateInventoryOrder(ctx, "u1", []services.ItemInput{{ProductID: productID, Quantity: 1}}); !errors.Is(err, services.ErrUnknownProduct) {
		t.Fatalf("unknown product: got %v", err)
	}
}

func TestCreateInventoryOrder_InsufficientStock(t *testing.T) {
	productID := uuid.New()
	st := &MockStore{
		GetProductFunc: func(ctx context.Context, id uuid.UUID) (*models.Product, error) {
			return activeProduct(id, 500), nil
		},
		CreateInventoryOrderFunc: func(ctx context.Context, order *models.Order, lines []store.ReservationLine) error {
			return store.ErrInsufficientStock
		},
	}
	svc := newOrderService(st, &MockInvoices{})

	_, err := svc.CreateInventoryOrder(context.Background(), "u1", []services.ItemInput{{ProductID: productID, Quantity: 2}})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCreateInventoryOrder_Success(t *testing.T) {
	productID := uuid.New()
	var gotLines []store.ReservationLine
	var gotInvoiceReq gateway.InvoiceRequest
	var refOrderID uuid.UUID
	var refInvoiceID string

	st := &MockStore{
		GetProductFunc: func(ctx context.Context, id uuid.UUID) (*models.Product, error) {
			return activeProduct(id, 1500), nil
		},
		CreateInventoryOrderFunc: func(ctx context.Context, order *models.Order, lines []store.ReservationLine) error {
			gotLines = lines
			return nil
		},
		SetPaymentReferenceFunc: func(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error {
			refOrderID = orderID
			refInvoiceID = invoiceID
			return nil
		},
	}
	inv := &MockInvoices{
		CreateInvoiceFunc: func(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
			gotInvoiceReq = req
			return &gateway.Invoice{ID: "inv-42", URL: "https://pay.example.com/inv-42"}, nil
		},
	}
	svc := newOrderService(st, inv)

	result, err := svc.CreateInventoryOrder(context.Background(), "u1", []services.ItemInput{{ProductID: productID, Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateInventoryOrder: %v", err)
	}
	if result.TotalCents != 3000 {
		t.Fatalf("total expected 3000 got %d", result.TotalCents)
	}
	if len(gotLines) != 1 || gotLines[0].Quantity != 2 || gotLines[0].UnitPriceCents != 1500 {
		t.Fatalf("reservation lines mismatch: %+v", gotLines)
	}
	if gotInvoiceReq.OrderNumber != result.OrderNumber || gotInvoiceReq.AmountCents != 3000 {
		t.Fatalf("invoice request mismatch: %+v", gotInvoiceReq)
	}
	if gotInvoiceReq.TTLSeconds != int((30 * time.Minute).Seconds()) {
		t.Fatalf("invoice ttl mismatch: %d", gotInvoiceReq.TTLSeconds)
	}
	if refOrderID != result.OrderID || refInvoiceID != "inv-42" {
		t.Fatalf("payment reference mismatch: %v %s", refOrderID, refInvoiceID)
	}
	if result.PaymentURL != "https://pay.example.com/inv-42" {
		t.Fatalf("payment url mismatch: %s", result.PaymentURL)
	}
	until := time.Until(result.ExpiresAt)
	if until < 29*time.Minute || until > 31*time.Minute {
		t.Fatalf("expiry not ~30m out: %v", result.ExpiresAt)
	}
}

func TestCreateInventoryOrder_InvoiceFailureFailsOrder(t *testing.T) {
	productID := uuid.New()
	var failedOrderID uuid.UUID
	var failReason string

	st := &MockStore{
		GetProductFunc: func(ctx context.Context, id uuid.UUID) (*models.Product, error) {
			return activeProduct(id, 900), nil
		},
		FailOrderFunc: func(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error) {
			failedOrderID = orderID
			failReason = reason
			return true, 1, nil
		},
	}
	inv := &MockInvoices{
		CreateInvoiceFunc: func(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
			return nil, errors.New("gateway down")
		},
	}
	svc := newOrderService(st, inv)

	_, err := svc.CreateInventoryOrder(context.Background(), "u1", []services.ItemInput{{ProductID: productID, Quantity: 1}})
	if !errors.Is(err, services.ErrPaymentInit) {
		t.Fatalf("expected ErrPaymentInit, got %v", err)
	}
	if failedOrderID == uuid.Nil {
		t.Fatal("order was not failed after invoice error")
	}
	if failReason != "invoice creation failed" {
		t.Fatalf("unexpected fail reason: %q", failReason)
	}
}

func TestCreateServiceOrder_QuantityBounds(t *testing.T) {
	serviceID := uuid.New()
	st := &MockStore{
		GetServiceFunc: func(ctx context.Context, id uuid.UUID) (*models.Service, error) {
			return &models.Service{
				ID: id, Name: "Followers", ServiceRef: "1001",
				PricePerUnitCents: 2, MinQuantity: 100, MaxQuantity: 10000, Active: true,
			}, nil
		},
	}
	svc := newOrderService(st, &MockInvoices{})
	ctx := context.Background()

	if _, err := svc.CreateServiceOrder(ctx, "u1", serviceID, "https://example.com/p", 50); !errors.Is(err, services.ErrInvalidQuantity) {
		t.Fatalf("below min: got %v", err)
	}
	if _, err := svc.CreateServiceOrder(ctx, "u1", serviceID, "", 500); !errors.Is(err, services.ErrInvalidTarget) {
		t.Fatalf("empty target: got %v", err)
	}

	result, err := svc.CreateServiceOrder(ctx, "u1", serviceID, "https://example.com/p", 500)
	if err != nil {
		t.Fatalf("CreateServiceOrder: %v", err)
	}
	if result.TotalCents != 1000 {
		t.Fatalf("total expected 1000 got %d", result.TotalCents)
	}
}
