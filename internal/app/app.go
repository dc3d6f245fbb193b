package app

import (
	"go.uber.org/fx"

	"github.com/microshop/orders/internal/cache"
	cartclient "github.com/microshop/orders/internal/client/cart"
	productclient "github.com/microshop/orders/internal/client/product"
	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/database"
	"github.com/microshop/orders/internal/logger"
	"github.com/microshop/orders/internal/messaging"
	"github.com/microshop/orders/internal/observability"
	repositoryorder "github.com/microshop/orders/internal/repository/order"
	"github.com/microshop/orders/internal/rpc"
	httpserver "github.com/microshop/orders/internal/server/http"
	rpcserver "github.com/microshop/orders/internal/server/rpc"
	serviceorder "github.com/microshop/orders/internal/service/order"
	transporthttp "github.com/microshop/orders/internal/transport/http"
	transportrpc "github.com/microshop/orders/internal/transport/rpc"
	"github.com/microshop/orders/internal/worker"
	workerorder "github.com/microshop/orders/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	rpc.Module,
	repositoryorder.Module,
	productclient.Module,
	cartclient.Module,
	serviceorder.Module,
)

// Server wires the inbound command server and the ops HTTP surface on top of
// the core modules.
var Server = fx.Options(
	Core,
	transportrpc.Module,
	rpcserver.Module,
	httpserver.Module,
	transporthttp.Module,
)

// Worker exposes background event processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (command server).
var Module = Server
