package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/messaging"
	ordersvc "github.com/microshop/orders/internal/service/order"
	"github.com/microshop/orders/internal/worker"
)

var workerTracer = otel.Tracer("github.com/microshop/orders/worker/order")

// Module registers the order audit handler.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewAuditHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewAuditHandler sets up a worker handler that records order lifecycle
// events to the audit log.
func NewAuditHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.audit", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		logger.Info("order event audited",
			zap.String("id", event.ID),
			zap.String("user_id", event.UserID),
			zap.String("status", event.Status),
			zap.Float64("total", event.Total),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Events.Topic,
		Handler: handler,
	}
}
