package order

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/microshop/orders/internal/entity"
)

// OrderEvent is emitted whenever an order is created or changes status.
type OrderEvent struct {
	ID         string  `json:"id"`
	UserID     string  `json:"userId"`
	Status     string  `json:"status"`
	Total      float64 `json:"total"`
	OccurredAt string  `json:"occurredAt"`
}

// publishEvent emits a lifecycle event for the order. Publishing is
// best-effort; a broker failure never fails the command that triggered it.
func (s *Service) publishEvent(ctx context.Context, order *entity.Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		ID:         order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Total,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, []byte("order-"+order.ID), payload); err != nil {
		s.logger.Error("publish order event",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Error(err),
		)
	}
}
