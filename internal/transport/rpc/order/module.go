package order

import (
	"go.uber.org/fx"

	"github.com/microshop/orders/internal/rpc"
)

// Module wires the order command handlers onto the router.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(r *rpc.Router, h *Handler) {
		Register(r, h)
	}),
)
