package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "order_status:"

// StatusUpdate is what websocket subscribers receive whenever an order
// changes state.
type StatusUpdate struct {
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Feed bridges order status changes to websocket subscribers through
// Redis pub/sub, so subscribers on any API instance see updates applied
// on another.
type Feed struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewFeed(addr string, log *zap.Logger) *Feed {
	return &Feed{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log,
	}
}

func (f *Feed) Close() error { return f.rdb.Close() }

// PublishStatus is best effort: a broken Redis must never fail the
// order mutation that triggered it.
func (f *Feed) PublishStatus(ctx context.Context, orderNumber, status string) {
	update := StatusUpdate{
		OrderNumber: orderNumber,
		Status:      status,
		UpdatedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := f.rdb.Publish(ctx, channelPrefix+orderNumber, raw).Err(); err != nil {
		f.log.Warn("status publish failed", zap.String("order_number", orderNumber), zap.Error(err))
	}
}

// Subscribe streams updates for one order until ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, orderNumber string) (<-chan StatusUpdate, func()) {
	sub := f.rdb.Subscribe(ctx, channelPrefix+orderNumber)
	out := make(chan StatusUpdate, 8)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var update StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// Nop is used where Redis is not configured.
type Nop struct{}

func (Nop) PublishStatus(ctx context.Context, orderNumber, status string) {}

func (Nop) Subscribe(ctx context.Context, orderNumber string) (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate)
	close(ch)
	return ch, func() {}
}
