package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digistore_reservations_total",
		Help: "Inventory reservation attempts by result.",
	}, []string{"result"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digistore_webhook_events_total",
		Help: "Payment webhook deliveries by outcome.",
	}, []string{"result"})

	ProviderSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "digistore_provider_submissions_total",
		Help: "Fulfillment provider submissions by result.",
	}, []string{"result"})

	SweeperCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digistore_sweeper_cancelled_orders_total",
		Help: "Orders auto-cancelled by the expiry sweeper.",
	})

	SweeperReleasedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digistore_sweeper_released_units_total",
		Help: "Inventory units released back to available by the sweeper.",
	})

	SweeperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "digistore_sweeper_errors_total",
		Help: "Per-order sweep failures.",
	})
)
