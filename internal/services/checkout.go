package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"digistore/internal/events"
	"digistore/internal/gateway"
	"digistore/internal/models"
	"digistore/internal/observability"
	"digistore/internal/secrets"
	"digistore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxUnitsPerItem = 20

// OrderService creates orders: it reserves inventory (or records
// provider items), then asks the gateway for an invoice. The reserve
// step commits before the gateway call so row locks are never held
// across slow network I/O.
type OrderService struct {
	Store        OrderStore
	Invoices     InvoiceCreator
	Events       EventPublisher
	Live         StatusPublisher
	Box          *secrets.Box
	Log          *zap.Logger
	TTL          time.Duration
	NumberPrefix string
}

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type CheckoutResult struct {
	OrderID     uuid.UUID
	OrderNumber string
	TotalCents  int64
	PaymentURL  string
	ExpiresAt   time.Time
}

func (s *OrderService) CreateInventoryOrder(ctx context.Context, userID string, items []ItemInput) (*CheckoutResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	var total int64
	lines := make([]store.ReservationLine, 0, len(items))
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > maxUnitsPerItem {
			return nil, ErrInvalidQuantity
		}
		product, err := s.Store.GetProduct(ctx, it.ProductID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, ErrUnknownProduct
			}
			return nil, err
		}
		if !product.Active {
			return nil, ErrUnknownProduct
		}
		total += product.PriceCents * int64(it.Quantity)
		names = append(names, product.Name)
		lines = append(lines, store.ReservationLine{
			ProductID:      product.ID,
			Quantity:       it.Quantity,
			UnitPriceCents: product.PriceCents,
		})
	}

	order := s.newOrder(userID, models.OrderTypeInventory, total)
	if err := s.Store.CreateInventoryOrder(ctx, order, lines); err != nil {
		if err == store.ErrInsufficientStock {
			observability.ReservationsTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		}
		observability.ReservationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.ReservationsTotal.WithLabelValues("reserved").Inc()

	return s.attachInvoice(ctx, order, strings.Join(names, ", "))
}

func (s *OrderService) CreateServiceOrder(ctx context.Context, userID string, serviceID uuid.UUID, target string, quantity int) (*CheckoutResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if target == "" {
		return nil, ErrInvalidTarget
	}

	svc, err := s.Store.GetService(ctx, serviceID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrUnknownService
		}
		return nil, err
	}
	if !svc.Active {
		return nil, ErrUnknownService
	}
	if quantity < svc.MinQuantity || quantity > svc.MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	total := svc.PricePerUnitCents * int64(quantity)
	order := s.newOrder(userID, models.OrderTypeProvider, total)
	lines := []store.ProviderLine{{ServiceRef: svc.ServiceRef, Target: target, Quantity: quantity}}
	if err := s.Store.CreateServiceOrder(ctx, order, lines); err != nil {
		return nil, err
	}

	return s.attachInvoice(ctx, order, svc.Name)
}

// attachInvoice asks the gateway for an invoice after the order has
// committed. A gateway failure must not leave the order ambiguously
// pending, so it is failed (releasing any reservation) before the error
// surfaces.
func (s *OrderService) attachInvoice(ctx context.Context, order *models.Order, description string) (*CheckoutResult, error) {
	inv, err := s.Invoices.CreateInvoice(ctx, gateway.InvoiceRequest{
		OrderNumber: order.OrderNumber,
		AmountCents: order.TotalCents,
		Description: description,
		TTLSeconds:  int(s.TTL / time.Second),
	})
	if err != nil {
		s.Log.Error("invoice creation failed",
			zap.String("order_id", order.ID.String()),
			zap.Int64("amount_cents", order.TotalCents),
			zap.Error(err))
		if _, released, failErr := s.Store.FailOrder(ctx, order.ID, "invoice creation failed"); failErr != nil {
			s.Log.Error("fail order after invoice error",
				zap.String("order_id", order.ID.String()), zap.Error(failErr))
		} else if released > 0 {
			s.Log.Info("released reservation after invoice error",
				zap.String("order_id", order.ID.String()), zap.Int64("units", released))
		}
		s.publish(ctx, order, events.EventOrderFailed, models.OrderFailed, "invoice creation failed")
		return nil, fmt.Errorf("%w: %v", ErrPaymentInit, err)
	}

	if err := s.Store.SetPaymentReference(ctx, order.ID, inv.ID, inv.URL); err != nil {
		return nil, err
	}

	s.publish(ctx, order, events.EventOrderCreated, models.OrderPending, "")
	s.Log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("type", string(order.Type)),
		zap.Int64("total_cents", order.TotalCents))

	return &CheckoutResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalCents:  order.TotalCents,
		PaymentURL:  inv.URL,
		ExpiresAt:   *order.ExpiresAt,
	}, nil
}

func (s *OrderService) newOrder(userID string, orderType models.OrderType, total int64) *models.Order {
	expires := time.Now().UTC().Add(s.TTL)
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: newOrderNumber(s.NumberPrefix),
		UserID:      userID,
		Type:        orderType,
		TotalCents:  total,
		Status:      models.OrderPending,
		ExpiresAt:   &expires,
	}
}

func (s *OrderService) publish(ctx context.Context, order *models.Order, eventType string, status models.OrderStatus, reason string) {
	s.Events.PublishOrderEvent(eventType, events.OrderEventPayload{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderType:   string(order.Type),
		Status:      string(status),
		TotalCents:  order.TotalCents,
		Reason:      reason,
	})
	s.Live.PublishStatus(ctx, order.OrderNumber, string(status))
}

// newOrderNumber builds the human-shareable reference the gateway echoes
// back in webhooks, e.g. DS-20260829-9F0A3C.
func newOrderNumber(prefix string) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s-%s-%s",
		prefix,
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(hex.EncodeToString(b[:])))
}
