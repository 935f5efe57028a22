package services

import (
	"context"

	"digistore/internal/events"
	"digistore/internal/gateway"
	"digistore/internal/models"
	"digistore/internal/store"

	"github.com/google/uuid"
)

// OrderStore is the slice of the repository checkout depends on.
type OrderStore interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	GetService(ctx context.Context, serviceID uuid.UUID) (*models.Service, error)
	CreateInventoryOrder(ctx context.Context, order *models.Order, lines []store.ReservationLine) error
	CreateServiceOrder(ctx context.Context, order *models.Order, lines []store.ProviderLine) error
	SetPaymentReference(ctx context.Context, orderID uuid.UUID, invoiceID, invoiceURL string) error
	FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	ListProviderItems(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error)
	CredentialsForOrder(ctx context.Context, orderID uuid.UUID) ([]store.SoldCredential, error)
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
}

type EventPublisher interface {
	PublishOrderEvent(eventType string, payload events.OrderEventPayload)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, orderNumber, status string)
}
