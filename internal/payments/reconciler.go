package payments

import (
	"context"
	"errors"
	"strings"

	"digistore/internal/events"
	"digistore/internal/fulfillment"
	"digistore/internal/models"
	"digistore/internal/observability"
	"digistore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the slice of the repository the reconciler mutates through.
// Every multi-row transition behind these methods is a single
// transaction with its own status re-check.
type Store interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	CompleteInventoryOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkProcessing(ctx context.Context, orderID uuid.UUID) (bool, error)
	CompleteOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, int64, error)
	ListProviderItems(ctx context.Context, orderID uuid.UUID) ([]models.ProviderOrderItem, error)
	SetProviderSubmission(ctx context.Context, itemID uuid.UUID, providerOrderID, providerStatus string) (bool, error)
	UpdateProviderProgress(ctx context.Context, itemID uuid.UUID, status string, startCount, remaining int64) error
}

type EventPublisher interface {
	PublishOrderEvent(eventType string, payload events.OrderEventPayload)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, orderNumber, status string)
}

// Result tells the webhook handler what to answer the gateway.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultIgnored   Result = "ignored"
	ResultNotFound  Result = "not_found"
)

// Reconciler maps gateway callbacks onto order state transitions.
// Deliveries are at-least-once and unordered; the terminal-status guard
// makes redelivery a no-op.
type Reconciler struct {
	Store    Store
	Provider fulfillment.Provider
	Events   EventPublisher
	Live     StatusPublisher
	Log      *zap.Logger
}

func (r *Reconciler) HandleCallback(ctx context.Context, status, externalID string) (Result, error) {
	status = strings.ToUpper(strings.TrimSpace(status))

	order, err := r.Store.GetOrderByNumber(ctx, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			observability.WebhookEventsTotal.WithLabelValues("not_found").Inc()
			return ResultNotFound, nil
		}
		return "", err
	}

	if order.Status.Terminal() {
		r.Log.Info("webhook for terminal order ignored",
			zap.String("order_number", order.OrderNumber),
			zap.String("order_status", string(order.Status)),
			zap.String("callback_status", status))
		observability.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return ResultIgnored, nil
	}

	switch status {
	case "PAID", "COMPLETED":
		return r.applySuccess(ctx, order)
	case "FAILED", "EXPIRED", "CANCELLED":
		return r.applyFailure(ctx, order, "payment "+strings.ToLower(status))
	default:
		r.Log.Warn("unknown webhook status",
			zap.String("order_number", order.OrderNumber),
			zap.String("callback_status", status))
		observability.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return ResultIgnored, nil
	}
}

func (r *Reconciler) applySuccess(ctx context.Context, order *models.Order) (Result, error) {
	switch order.Type {
	case models.OrderTypeInventory:
		return r.completeInventory(ctx, order)
	case models.OrderTypeProvider:
		return r.fulfillProvider(ctx, order)
	default:
		return "", errors.New("unknown order type " + string(order.Type))
	}
}

func (r *Reconciler) completeInventory(ctx context.Context, order *models.Order) (Result, error) {
	if changed, err := r.Store.MarkPaid(ctx, order.ID); err != nil {
		return "", err
	} else if changed {
		r.publish(ctx, order, events.EventOrderPaid, models.OrderPaid, "")
	}

	completed, err := r.Store.CompleteInventoryOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, store.ErrUnitMissing) {
			// The sweeper released the units before the payment landed.
			// Nothing is sold partially: fail the whole order.
			r.Log.Error("reserved units missing at payment",
				zap.String("order_id", order.ID.String()),
				zap.Int64("amount_cents", order.TotalCents))
			return r.applyFailure(ctx, order, "reserved units missing at payment")
		}
		observability.WebhookEventsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if !completed {
		// The order went terminal between the entry read and the
		// completion transaction. Whatever won that race already
		// published; this delivery must not announce a completion.
		r.Log.Info("completion skipped, order already terminal",
			zap.String("order_id", order.ID.String()),
			zap.String("order_number", order.OrderNumber))
		observability.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return ResultIgnored, nil
	}

	r.publish(ctx, order, events.EventOrderCompleted, models.OrderCompleted, "")
	observability.WebhookEventsTotal.WithLabelValues("completed").Inc()
	r.Log.Info("order completed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber))
	return ResultCompleted, nil
}

func (r *Reconciler) fulfillProvider(ctx context.Context, order *models.Order) (Result, error) {
	changed, err := r.Store.MarkProcessing(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if !changed {
		// The order left pending/paid between the entry read and this
		// guard. Only an order already in processing may resume
		// submission; a cancelled order must never reach the provider.
		fresh, err := r.Store.GetOrderByNumber(ctx, order.OrderNumber)
		if err != nil {
			return "", err
		}
		if fresh.Status != models.OrderProcessing {
			r.Log.Info("provider fulfillment skipped",
				zap.String("order_id", order.ID.String()),
				zap.String("order_status", string(fresh.Status)))
			observability.WebhookEventsTotal.WithLabelValues("ignored").Inc()
			return ResultIgnored, nil
		}
	} else {
		r.publish(ctx, order, events.EventOrderPaid, models.OrderProcessing, "")
	}

	items, err := r.Store.ListProviderItems(ctx, order.ID)
	if err != nil {
		return "", err
	}

	for _, item := range items {
		// provider_order_id set means this row was already submitted by
		// an earlier delivery; never submit it again.
		if item.ProviderOrderID != nil {
			continue
		}

		providerOrderID, err := r.Provider.Submit(ctx, item.ServiceRef, item.Target, item.Quantity)
		if err != nil {
			observability.ProviderSubmissionsTotal.WithLabelValues("error").Inc()
			r.Log.Error("provider submission failed",
				zap.String("order_id", order.ID.String()),
				zap.String("service_ref", item.ServiceRef),
				zap.Error(err))
			return r.applyFailure(ctx, order, "provider submission failed")
		}

		if _, err := r.Store.SetProviderSubmission(ctx, item.ID, providerOrderID, "pending"); err != nil {
			return "", err
		}
		observability.ProviderSubmissionsTotal.WithLabelValues("submitted").Inc()
	}

	if _, err := r.Store.CompleteOrder(ctx, order.ID); err != nil {
		return "", err
	}
	r.publish(ctx, order, events.EventOrderCompleted, models.OrderCompleted, "")
	observability.WebhookEventsTotal.WithLabelValues("completed").Inc()
	return ResultCompleted, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, order *models.Order, reason string) (Result, error) {
	changed, released, err := r.Store.FailOrder(ctx, order.ID, reason)
	if err != nil {
		observability.WebhookEventsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if !changed {
		observability.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return ResultIgnored, nil
	}
	if released > 0 {
		r.Log.Info("released reservation on payment failure",
			zap.String("order_id", order.ID.String()),
			zap.Int64("units", released))
	}
	r.publish(ctx, order, events.EventOrderFailed, models.OrderFailed, reason)
	observability.WebhookEventsTotal.WithLabelValues("failed").Inc()
	return ResultFailed, nil
}

// RefreshProviderStatus polls the provider for every submitted item of
// an order and persists the counters.
func (r *Reconciler) RefreshProviderStatus(ctx context.Context, orderNumber string) ([]models.ProviderOrderItem, error) {
	order, err := r.Store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	items, err := r.Store.ListProviderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].ProviderOrderID == nil {
			continue
		}
		st, err := r.Provider.Status(ctx, *items[i].ProviderOrderID)
		if err != nil {
			r.Log.Warn("provider status fetch failed",
				zap.String("provider_order_id", *items[i].ProviderOrderID),
				zap.Error(err))
			continue
		}
		if err := r.Store.UpdateProviderProgress(ctx, items[i].ID, st.Status, st.StartCount, st.Remaining); err != nil {
			return nil, err
		}
		items[i].ProviderStatus = &st.Status
		items[i].StartCount = &st.StartCount
		items[i].Remaining = &st.Remaining
	}
	return items, nil
}

func (r *Reconciler) publish(ctx context.Context, order *models.Order, eventType string, status models.OrderStatus, reason string) {
	r.Events.PublishOrderEvent(eventType, events.OrderEventPayload{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderType:   string(order.Type),
		Status:      string(status),
		TotalCents:  order.TotalCents,
		Reason:      reason,
	})
	r.Live.PublishStatus(ctx, order.OrderNumber, string(status))
}
