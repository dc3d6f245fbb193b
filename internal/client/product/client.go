package product

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/rpc"
	"github.com/microshop/orders/pkg/errorbank"
)

var clientTracer = otel.Tracer("github.com/microshop/orders/client/product")

// Commands exposed by the product service.
const (
	cmdCheckStock  = "check_product_stock"
	cmdAdjustStock = "update_product_stock"
)

// Client proxies stock commands to the product service over the RPC bus.
type Client struct {
	caller rpc.Caller
	topic  string
}

// Module provides the product client to Fx.
var Module = fx.Provide(NewClient)

// NewClient wires the product proxy onto the configured request topic.
func NewClient(caller rpc.Caller, cfg config.Config) *Client {
	return &Client{
		caller: caller,
		topic:  cfg.Messaging.RPC.ProductTopic,
	}
}

// CheckStock asks whether requestedQuantity of the product is available.
func (c *Client) CheckStock(ctx context.Context, productID string, requestedQuantity int) (dto.StockCheckResponse, error) {
	ctx, span := clientTracer.Start(ctx, "ProductClient.CheckStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("product.requested_quantity", requestedQuantity),
	))
	defer span.End()

	req := dto.StockCheckRequest{ID: productID, RequestedQuantity: requestedQuantity}
	var resp dto.StockCheckResponse
	if err := c.caller.Call(ctx, c.topic, cmdCheckStock, req, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check stock failed")
		return dto.StockCheckResponse{}, errorbank.FailedDependency(
			fmt.Sprintf("stock check failed for product %s", productID),
			errorbank.WithCause(err),
		)
	}
	return resp, nil
}

// AdjustStock applies a signed quantity delta to the product's inventory.
func (c *Client) AdjustStock(ctx context.Context, productID string, delta int) error {
	ctx, span := clientTracer.Start(ctx, "ProductClient.AdjustStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("product.delta", delta),
	))
	defer span.End()

	req := dto.StockAdjustRequest{ID: productID, Quantity: delta}
	if err := c.caller.Call(ctx, c.topic, cmdAdjustStock, req, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjust stock failed")
		return errorbank.FailedDependency(
			fmt.Sprintf("stock adjustment failed for product %s", productID),
			errorbank.WithCause(err),
		)
	}
	return nil
}
