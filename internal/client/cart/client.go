package cart

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

var clientTracer = otel.Tracer("github.com/microshop/orders/client/cart")

const cmdClearCart = "clear_cart"

// Client proxies cart commands to the cart service over the RPC bus.
type Client struct {
	caller rpc.Caller
	topic  string
}

// Module provides the cart client to Fx.
var Module = fx.Provide(NewClient)

// NewClient wires the cart proxy onto the configured request topic.
func NewClient(caller rpc.Caller, cfg config.Config) *Client {
	return &Client{
		caller: caller,
		topic:  cfg.Messaging.RPC.CartTopic,
	}
}

// ClearCart empties the user's cart. No compensation exists for this call;
// the orchestrator treats its failure as non-fatal.
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	ctx, span := clientTracer.Start(ctx, "CartClient.ClearCart", trace.WithAttributes(
		attribute.String("cart.user_id", userID),
	))
	defer span.End()

	if err := c.caller.Call(ctx, c.topic, cmdClearCart, dto.ClearCartRequest{UserID: userID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear cart failed")
		return errorbank.FailedDependency(
			fmt.Sprintf("cart clear failed for user %s", userID),
			errorbank.WithCause(err),
		)
	}
	return nil
}
