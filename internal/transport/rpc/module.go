package rpc

import (
	"go.uber.org/fx"

	ordertransport "github.com/microshop/orders/internal/transport/rpc/order"
)

// Module aggregates all RPC command handlers.
var Module = fx.Options(
	ordertransport.Module,
)
