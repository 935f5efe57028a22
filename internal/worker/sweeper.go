package worker

import (
	"context"
	"time"

	"digistore/internal/events"
	"digistore/internal/models"
	"digistore/internal/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cancelReason = "payment timeout"

type Store interface {
	ListExpiredPending(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CancelExpiredOrder(ctx context.Context, orderID uuid.UUID, now time.Time, reason string) (bool, int64, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type EventPublisher interface {
	PublishOrderEvent(eventType string, payload events.OrderEventPayload)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, orderNumber, status string)
}

// Report is what one sweep pass returns to its caller and to monitoring.
type Report struct {
	Processed     int   `json:"processedOrders"`
	ReleasedUnits int64 `json:"releasedUnits"`
	Errors        int   `json:"errors"`
}

// Sweeper cancels pending orders whose payment deadline passed and puts
// their reserved units back on sale. Each order is its own transaction;
// one failure never aborts the batch.
type Sweeper struct {
	Store    Store
	Events   EventPublisher
	Live     StatusPublisher
	Log      *zap.Logger
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		report, err := s.SweepOnce(ctx)
		if err != nil {
			s.Log.Error("sweep failed", zap.Error(err))
		} else if report.Processed > 0 || report.Errors > 0 {
			s.Log.Info("sweep done",
				zap.Int("processed", report.Processed),
				zap.Int64("released_units", report.ReleasedUnits),
				zap.Int("errors", report.Errors))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single pass. The candidate list is only advisory:
// CancelExpiredOrder re-checks pending-and-expired inside its own
// transaction, so an order paid in the same instant is skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	now := time.Now().UTC()

	ids, err := s.Store.ListExpiredPending(ctx, now)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, orderID := range ids {
		cancelled, released, err := s.Store.CancelExpiredOrder(ctx, orderID, now, cancelReason)
		if err != nil {
			report.Errors++
			observability.SweeperErrorsTotal.Inc()
			s.Log.Error("cancel expired order failed",
				zap.String("order_id", orderID.String()), zap.Error(err))
			continue
		}
		if !cancelled {
			continue
		}

		report.Processed++
		report.ReleasedUnits += released
		observability.SweeperCancelledTotal.Inc()
		observability.SweeperReleasedUnitsTotal.Add(float64(released))
		s.publishCancelled(ctx, orderID)
	}
	return report, nil
}

func (s *Sweeper) publishCancelled(ctx context.Context, orderID uuid.UUID) {
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		s.Log.Warn("load cancelled order failed",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return
	}
	s.Events.PublishOrderEvent(events.EventOrderCancelled, events.OrderEventPayload{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderType:   string(order.Type),
		Status:      string(models.OrderCancelled),
		TotalCents:  order.TotalCents,
		Reason:      cancelReason,
	})
	s.Live.PublishStatus(ctx, order.OrderNumber, string(models.OrderCancelled))
}
