package order

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cartclient "github.com/microshop/orders/internal/client/cart"
	productclient "github.com/microshop/orders/internal/client/product"
	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/entity"
	repo "github.com/microshop/orders/internal/repository/order"
	"github.com/microshop/orders/internal/rpc"
	service "github.com/microshop/orders/internal/service/order"
	"github.com/microshop/orders/pkg/errorbank"
)

const (
	testOrdersTopic  = "orders.requests"
	testProductTopic = "product.requests"
	testCartTopic    = "cart.requests"
)

type memoryStore struct {
	mu     sync.Mutex
	orders map[string]*entity.Order
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: map[string]*entity.Order{}}
}

func (m *memoryStore) Insert(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memoryStore) GetByID(_ context.Context, id string) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, repo.ErrNotFound
}

func (m *memoryStore) ListByUser(_ context.Context, userID string) ([]entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []entity.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			list = append(list, *o)
		}
	}
	return list, nil
}

func (m *memoryStore) Update(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	order.UpdatedAt = time.Now().UTC()
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

// testEnv wires the full command path over the in-process bus: transport
// handlers on the orders topic, collaborator stubs on the product and cart
// topics, and the real clients in between.
type testEnv struct {
	bus      *rpc.Bus
	store    *memoryStore
	stock    map[string]int
	adjusted map[string]int
	cleared  []string
	mu       sync.Mutex
}

func newTestEnv(t *testing.T, stock map[string]int) *testEnv {
	t.Helper()

	env := &testEnv{
		bus:      rpc.NewBus(),
		store:    newMemoryStore(),
		stock:    stock,
		adjusted: map[string]int{},
	}

	env.bus.Handle(testProductTopic, "check_product_stock", func(_ context.Context, data json.RawMessage) (any, error) {
		var req dto.StockCheckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errorbank.BadRequest("invalid check payload", errorbank.WithCause(err))
		}
		current := env.stock[req.ID]
		return dto.StockCheckResponse{HasStock: current >= req.RequestedQuantity, CurrentStock: current}, nil
	})
	env.bus.Handle(testProductTopic, "update_product_stock", func(_ context.Context, data json.RawMessage) (any, error) {
		var req dto.StockAdjustRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errorbank.BadRequest("invalid adjust payload", errorbank.WithCause(err))
		}
		env.mu.Lock()
		env.adjusted[req.ID] += req.Quantity
		env.mu.Unlock()
		return dto.Ack{OK: true}, nil
	})
	env.bus.Handle(testCartTopic, "clear_cart", func(_ context.Context, data json.RawMessage) (any, error) {
		var req dto.ClearCartRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errorbank.BadRequest("invalid clear payload", errorbank.WithCause(err))
		}
		env.mu.Lock()
		env.cleared = append(env.cleared, req.UserID)
		env.mu.Unlock()
		return dto.Ack{OK: true}, nil
	})

	cfg := config.Config{}
	cfg.Messaging.RPC.ProductTopic = testProductTopic
	cfg.Messaging.RPC.CartTopic = testCartTopic
	cfg.Orders.StockCheckConcurrency = 2
	cfg.Cache.DefaultTTL = time.Minute

	products := productclient.NewClient(env.bus, cfg)
	carts := cartclient.NewClient(env.bus, cfg)
	svc := service.NewOrchestrator(env.store, products, carts, nil, nil, cfg, zap.NewNop())

	router := rpc.NewRouter()
	Register(router, NewHandler(svc, zap.NewNop()))
	env.bus.Mount(testOrdersTopic, router)

	return env
}

func (e *testEnv) call(t *testing.T, cmd string, payload, result any) error {
	t.Helper()
	return e.bus.Call(context.Background(), testOrdersTopic, cmd, payload, result)
}

func (e *testEnv) createOrder(t *testing.T, userID string) dto.OrderResponse {
	t.Helper()
	req := dto.CreateOrderRequest{
		UserID: userID,
		Cart: &dto.Cart{
			Items: []dto.OrderItem{
				{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"},
			},
			TotalAmount: 20,
		},
	}
	var resp dto.OrderResponse
	require.NoError(t, e.call(t, CmdCreateOrder, req, &resp))
	return resp
}

func TestCreateOrderCommand(t *testing.T) {
	env := newTestEnv(t, map[string]int{"p1": 5})

	resp := env.createOrder(t, "u1")
	require.NotEmpty(t, resp.ID)
	require.Equal(t, string(entity.StatusPending), resp.Status)
	require.Equal(t, 20.0, resp.Total)
	require.Len(t, resp.Items, 1)

	require.Equal(t, -2, env.adjusted["p1"])
	require.Equal(t, []string{"u1"}, env.cleared)
}

func TestCreateOrderCommand_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, map[string]int{"p1": 1})

	req := dto.CreateOrderRequest{
		UserID: "u1",
		Cart: &dto.Cart{
			Items:       []dto.OrderItem{{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"}},
			TotalAmount: 20,
		},
	}
	err := env.call(t, CmdCreateOrder, req, nil)
	require.Error(t, err)

	appErr := errorbank.From(err)
	require.Equal(t, errorbank.KindUnprocessableEntity, appErr.Kind())
	require.Contains(t, appErr.Message(), "Widget")
	require.Equal(t, "p1", appErr.Details()["productId"])

	require.Zero(t, env.adjusted["p1"])
	require.Empty(t, env.cleared)
}

func TestCreateOrderCommand_MalformedPayload(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.call(t, CmdCreateOrder, json.RawMessage(`{"userId":123}`), nil)
	require.Error(t, err)
	require.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestFindOrderCommands(t *testing.T) {
	env := newTestEnv(t, map[string]int{"p1": 5})
	created := env.createOrder(t, "u1")

	var found dto.OrderResponse
	require.NoError(t, env.call(t, CmdFindOrder, dto.OrderIDRequest{ID: created.ID}, &found))
	require.Equal(t, created.ID, found.ID)
	require.Equal(t, "u1", found.UserID)

	var all []dto.OrderResponse
	require.NoError(t, env.call(t, CmdFindAllOrders, dto.UserOrdersRequest{UserID: "u1"}, &all))
	require.Len(t, all, 1)
	require.Equal(t, created.ID, all[0].ID)

	var none []dto.OrderResponse
	require.NoError(t, env.call(t, CmdFindAllOrders, dto.UserOrdersRequest{UserID: "nobody"}, &none))
	require.Empty(t, none)
}

func TestFindOrderCommand_MissingOrderRepliesEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	var found *dto.OrderResponse
	require.NoError(t, env.call(t, CmdFindOrder, dto.OrderIDRequest{ID: uuid.NewString()}, &found))
	require.Nil(t, found)
}

func TestFinalizeOrderCommand(t *testing.T) {
	env := newTestEnv(t, map[string]int{"p1": 5})
	created := env.createOrder(t, "u1")

	var finalized dto.OrderResponse
	require.NoError(t, env.call(t, CmdFinalizeOrder, dto.OrderIDRequest{ID: created.ID}, &finalized))
	require.Equal(t, string(entity.StatusFinalized), finalized.Status)

	err := env.call(t, CmdFinalizeOrder, dto.OrderIDRequest{ID: created.ID}, nil)
	require.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
}

func TestCancelOrderCommand_RestoresStock(t *testing.T) {
	env := newTestEnv(t, map[string]int{"p1": 5})
	created := env.createOrder(t, "u1")
	require.Equal(t, -2, env.adjusted["p1"])

	var canceled dto.OrderResponse
	require.NoError(t, env.call(t, CmdCancelOrder, dto.OrderIDRequest{ID: created.ID}, &canceled))
	require.Equal(t, string(entity.StatusCanceled), canceled.Status)
	require.Zero(t, env.adjusted["p1"])

	err := env.call(t, CmdCancelOrder, dto.OrderIDRequest{ID: created.ID}, nil)
	require.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
}

func TestFinalizeOrderCommand_UnknownOrder(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.call(t, CmdFinalizeOrder, dto.OrderIDRequest{ID: uuid.NewString()}, nil)
	require.Equal(t, errorbank.KindNotFound, errorbank.From(err).Kind())
}
