package order

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/presentation/http/response"
	service "github.com/microshop/orders/internal/service/order"
	"github.com/microshop/orders/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/microshop/orders/transport/http/order")

// Handler exposes read-only order endpoints for operators. Writes go through
// the command bus only.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/orders/:id", h.getByID)
	e.GET("/users/:userId/orders", h.listByUser)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id := c.Param("id")
	if id == "" {
		return b.WithError(errorbank.BadRequest("order id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.FindOne(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	if order == nil {
		return b.WithError(errorbank.NotFound("order not found")).Build()
	}

	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) listByUser(c echo.Context) error {
	b := response.New(c)

	userID := c.Param("userId")
	if userID == "" {
		return b.WithError(errorbank.BadRequest("user id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.listByUser", trace.WithAttributes(attribute.String("order.user_id", userID)))
	defer span.End()

	orders, err := h.svc.FindAll(ctx, userID)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.FromOrders(orders)).WithMeta("count", len(orders)).Build()
}
