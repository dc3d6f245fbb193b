package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/rpc"
	service "github.com/microshop/orders/internal/service/order"
	"github.com/microshop/orders/pkg/errorbank"
)

var rpcTracer = otel.Tracer("github.com/microshop/orders/transport/rpc/order")

// Command names accepted on the orders request topic.
const (
	CmdCreateOrder   = "create_order"
	CmdFindAllOrders = "find_all_orders"
	CmdFindOrder     = "find_order"
	CmdFinalizeOrder = "finalize_order"
	CmdCancelOrder   = "cancel_order"
)

// Handler maps inbound order commands onto the orchestrator.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs an order command Handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register binds the five order commands on the router.
func Register(r *rpc.Router, h *Handler) {
	r.Register(CmdCreateOrder, h.create)
	r.Register(CmdFindAllOrders, h.findAll)
	r.Register(CmdFindOrder, h.findOne)
	r.Register(CmdFinalizeOrder, h.finalize)
	r.Register(CmdCancelOrder, h.cancel)
}

func (h *Handler) create(ctx context.Context, data json.RawMessage) (any, error) {
	var req dto.CreateOrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errorbank.BadRequest("invalid create_order payload", errorbank.WithCause(err))
	}

	ctx, span := rpcTracer.Start(ctx, "orders.create", trace.WithAttributes(attribute.String("order.user_id", req.UserID)))
	defer span.End()

	h.logger.Info("create order command received", zap.String("user_id", req.UserID))

	order, err := h.svc.Create(ctx, req.UserID, req.Cart)
	if err != nil {
		return nil, err
	}
	return dto.FromOrder(order), nil
}

func (h *Handler) findAll(ctx context.Context, data json.RawMessage) (any, error) {
	var req dto.UserOrdersRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errorbank.BadRequest("invalid find_all_orders payload", errorbank.WithCause(err))
	}

	ctx, span := rpcTracer.Start(ctx, "orders.findAll", trace.WithAttributes(attribute.String("order.user_id", req.UserID)))
	defer span.End()

	orders, err := h.svc.FindAll(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return dto.FromOrders(orders), nil
}

func (h *Handler) findOne(ctx context.Context, data json.RawMessage) (any, error) {
	var req dto.OrderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errorbank.BadRequest("invalid find_order payload", errorbank.WithCause(err))
	}

	ctx, span := rpcTracer.Start(ctx, "orders.findOne", trace.WithAttributes(attribute.String("order.id", req.ID)))
	defer span.End()

	order, err := h.svc.FindOne(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		// Absence is a normal result for find_order; the reply carries no data.
		return nil, nil
	}
	return dto.FromOrder(order), nil
}

func (h *Handler) finalize(ctx context.Context, data json.RawMessage) (any, error) {
	var req dto.OrderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errorbank.BadRequest("invalid finalize_order payload", errorbank.WithCause(err))
	}

	ctx, span := rpcTracer.Start(ctx, "orders.finalize", trace.WithAttributes(attribute.String("order.id", req.ID)))
	defer span.End()

	h.logger.Info("finalize order command received", zap.String("id", req.ID))

	order, err := h.svc.Finalize(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return dto.FromOrder(order), nil
}

func (h *Handler) cancel(ctx context.Context, data json.RawMessage) (any, error) {
	var req dto.OrderIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errorbank.BadRequest("invalid cancel_order payload", errorbank.WithCause(err))
	}

	ctx, span := rpcTracer.Start(ctx, "orders.cancel", trace.WithAttributes(attribute.String("order.id", req.ID)))
	defer span.End()

	h.logger.Info("cancel order command received", zap.String("id", req.ID))

	order, err := h.svc.Cancel(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return dto.FromOrder(order), nil
}
