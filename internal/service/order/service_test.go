package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/entity"
	repo "github.com/microshop/orders/internal/repository/order"
	"github.com/microshop/orders/pkg/errorbank"
)

type fakeStore struct {
	mu      sync.Mutex
	orders  map[string]*entity.Order
	inserts int
	seq     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*entity.Order{}}
}

func (f *fakeStore) Insert(_ context.Context, order *entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if order.ID == "" {
		order.ID = fmt.Sprintf("ord-%d", f.seq)
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	copied := *order
	f.orders[order.ID] = &copied
	f.inserts++
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[id]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeStore) ListByUser(_ context.Context, userID string) ([]entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []entity.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			list = append(list, *o)
		}
	}
	return list, nil
}

func (f *fakeStore) Update(_ context.Context, order *entity.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	order.UpdatedAt = time.Now().UTC()
	copied := *order
	f.orders[order.ID] = &copied
	return nil
}

type adjustment struct {
	ProductID string
	Delta     int
}

type fakeProducts struct {
	mu        sync.Mutex
	stock     map[string]int
	checkErr  map[string]error
	adjustErr map[string]error
	checks    []string
	adjusts   []adjustment
}

func newFakeProducts(stock map[string]int) *fakeProducts {
	if stock == nil {
		stock = map[string]int{}
	}
	return &fakeProducts{
		stock:     stock,
		checkErr:  map[string]error{},
		adjustErr: map[string]error{},
	}
}

func (f *fakeProducts) CheckStock(_ context.Context, productID string, requestedQuantity int) (dto.StockCheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, productID)
	if err := f.checkErr[productID]; err != nil {
		return dto.StockCheckResponse{}, err
	}
	current := f.stock[productID]
	return dto.StockCheckResponse{HasStock: current >= requestedQuantity, CurrentStock: current}, nil
}

func (f *fakeProducts) AdjustStock(_ context.Context, productID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.adjustErr[productID]; err != nil {
		return err
	}
	f.adjusts = append(f.adjusts, adjustment{ProductID: productID, Delta: delta})
	return nil
}

type fakeCarts struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (f *fakeCarts) ClearCart(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	return f.err
}

func newTestService(store Store, products ProductClient, carts CartClient) *Service {
	cfg := config.Config{}
	cfg.Orders.StockCheckConcurrency = 2
	cfg.Cache.DefaultTTL = time.Minute
	return NewOrchestrator(store, products, carts, nil, nil, cfg, zap.NewNop())
}

func widgetCart() *dto.Cart {
	return &dto.Cart{
		Items: []dto.OrderItem{
			{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"},
		},
		TotalAmount: 20,
	}
}

func TestCreate_PersistsPendingOrder(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(map[string]int{"p1": 5})
	carts := &fakeCarts{}
	svc := newTestService(store, products, carts)

	order, err := svc.Create(context.Background(), "u1", widgetCart())
	require.NoError(t, err)
	require.Equal(t, entity.StatusPending, order.Status)
	require.Equal(t, 20.0, order.Total)
	require.Len(t, order.Items, 1)
	require.Equal(t, "p1", order.Items[0].ProductID)
	require.Equal(t, 2, order.Items[0].Quantity)
	require.NotEmpty(t, order.ID)

	require.Equal(t, 1, store.inserts)
	require.Equal(t, []adjustment{{ProductID: "p1", Delta: -2}}, products.adjusts)
	require.Equal(t, []string{"u1"}, carts.cleared)
}

func TestCreate_InsufficientStock(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(map[string]int{"p1": 1})
	svc := newTestService(store, products, &fakeCarts{})

	_, err := svc.Create(context.Background(), "u1", widgetCart())
	require.Error(t, err)
	require.Equal(t, errorbank.KindUnprocessableEntity, errorbank.From(err).Kind())
	require.Contains(t, err.Error(), "Widget")
	require.Contains(t, err.Error(), "1")
	require.Equal(t, 1, errorbank.From(err).Details()["currentStock"])

	require.Zero(t, store.inserts)
	require.Empty(t, products.adjusts)
}

func TestCreate_EmptyCartMakesNoRemoteCalls(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(nil)
	svc := newTestService(store, products, &fakeCarts{})

	for _, cart := range []*dto.Cart{nil, {Items: []dto.OrderItem{}, TotalAmount: 0}} {
		_, err := svc.Create(context.Background(), "u1", cart)
		require.Error(t, err)
		require.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
	}

	require.Empty(t, products.checks)
	require.Empty(t, products.adjusts)
	require.Zero(t, store.inserts)
}

func TestCreate_RejectsInvalidItems(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(nil)
	svc := newTestService(store, products, &fakeCarts{})

	cart := &dto.Cart{
		Items:       []dto.OrderItem{{ProductID: "p1", Quantity: 0, Price: 10, Name: "Widget"}},
		TotalAmount: 0,
	}
	_, err := svc.Create(context.Background(), "u1", cart)
	require.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
	require.Empty(t, products.checks)
}

func TestCreate_FirstFailingItemWinsInCartOrder(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(map[string]int{"p1": 10, "p2": 0, "p3": 0})
	svc := newTestService(store, products, &fakeCarts{})

	cart := &dto.Cart{
		Items: []dto.OrderItem{
			{ProductID: "p1", Quantity: 1, Price: 5, Name: "Alpha"},
			{ProductID: "p2", Quantity: 1, Price: 5, Name: "Beta"},
			{ProductID: "p3", Quantity: 1, Price: 5, Name: "Gamma"},
		},
		TotalAmount: 15,
	}
	_, err := svc.Create(context.Background(), "u1", cart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Beta")
	require.NotContains(t, err.Error(), "Gamma")
}

func TestCreate_DecrementFailureWalksBack(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(map[string]int{"p1": 5, "p2": 5})
	products.adjustErr["p2"] = errors.New("broker down")
	carts := &fakeCarts{}
	svc := newTestService(store, products, carts)

	cart := &dto.Cart{
		Items: []dto.OrderItem{
			{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"},
			{ProductID: "p2", Quantity: 1, Price: 5, Name: "Gadget"},
		},
		TotalAmount: 25,
	}
	_, err := svc.Create(context.Background(), "u1", cart)
	require.Error(t, err)

	// p1 was decremented, then restored once p2 failed.
	require.Equal(t, []adjustment{
		{ProductID: "p1", Delta: -2},
		{ProductID: "p1", Delta: 2},
	}, products.adjusts)
	require.Zero(t, store.inserts)
	require.Empty(t, carts.cleared)
}

func TestCreate_CartClearFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	products := newFakeProducts(map[string]int{"p1": 5})
	carts := &fakeCarts{err: errors.New("cart service unavailable")}
	svc := newTestService(store, products, carts)

	order, err := svc.Create(context.Background(), "u1", widgetCart())
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, []string{"u1"}, carts.cleared)
}

func TestFindOne_MissingIsNotAnError(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeProducts(nil), &fakeCarts{})

	order, err := svc.FindOne(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, order)
}

func TestFindAll_ReturnsUserOrders(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), &entity.Order{UserID: "u1", Status: entity.StatusPending}))
	require.NoError(t, store.Insert(context.Background(), &entity.Order{UserID: "u2", Status: entity.StatusPending}))
	svc := newTestService(store, newFakeProducts(nil), &fakeCarts{})

	orders, err := svc.FindAll(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "u1", orders[0].UserID)
}

func TestFinalize_SecondCallIsInvalidState(t *testing.T) {
	store := newFakeStore()
	seed := &entity.Order{UserID: "u1", Status: entity.StatusPending}
	require.NoError(t, store.Insert(context.Background(), seed))
	svc := newTestService(store, newFakeProducts(nil), &fakeCarts{})

	order, err := svc.Finalize(context.Background(), seed.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusFinalized, order.Status)

	_, err = svc.Finalize(context.Background(), seed.ID)
	require.Error(t, err)
	require.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
}

func TestFinalize_UnknownOrder(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeProducts(nil), &fakeCarts{})

	_, err := svc.Finalize(context.Background(), "missing")
	require.Equal(t, errorbank.KindNotFound, errorbank.From(err).Kind())
}

func TestCancel_RestoresStockInItemOrder(t *testing.T) {
	store := newFakeStore()
	seed := &entity.Order{
		UserID: "u1",
		Status: entity.StatusPending,
		Items: []entity.Item{
			{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"},
			{ProductID: "p2", Quantity: 3, Price: 5, Name: "Gadget"},
		},
		Total: 35,
	}
	require.NoError(t, store.Insert(context.Background(), seed))
	products := newFakeProducts(nil)
	svc := newTestService(store, products, &fakeCarts{})

	order, err := svc.Cancel(context.Background(), seed.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCanceled, order.Status)
	require.Equal(t, []adjustment{
		{ProductID: "p1", Delta: 2},
		{ProductID: "p2", Delta: 3},
	}, products.adjusts)

	stored, err := store.GetByID(context.Background(), seed.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCanceled, stored.Status)
}

func TestCancel_FinalizedOrderIsInvalidState(t *testing.T) {
	store := newFakeStore()
	seed := &entity.Order{UserID: "u1", Status: entity.StatusFinalized}
	require.NoError(t, store.Insert(context.Background(), seed))
	products := newFakeProducts(nil)
	svc := newTestService(store, products, &fakeCarts{})

	_, err := svc.Cancel(context.Background(), seed.ID)
	require.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
	require.Empty(t, products.adjusts)

	stored, getErr := store.GetByID(context.Background(), seed.ID)
	require.NoError(t, getErr)
	require.Equal(t, entity.StatusFinalized, stored.Status)
}

func TestCancel_RestoreFailureWalksBackAndKeepsPending(t *testing.T) {
	store := newFakeStore()
	seed := &entity.Order{
		UserID: "u1",
		Status: entity.StatusPending,
		Items: []entity.Item{
			{ProductID: "p1", Quantity: 2, Price: 10, Name: "Widget"},
			{ProductID: "p2", Quantity: 3, Price: 5, Name: "Gadget"},
		},
		Total: 35,
	}
	require.NoError(t, store.Insert(context.Background(), seed))
	products := newFakeProducts(nil)
	products.adjustErr["p2"] = errors.New("broker down")
	svc := newTestService(store, products, &fakeCarts{})

	_, err := svc.Cancel(context.Background(), seed.ID)
	require.Error(t, err)

	// p1 was restored, then re-decremented once p2 failed.
	require.Equal(t, []adjustment{
		{ProductID: "p1", Delta: 2},
		{ProductID: "p1", Delta: -2},
	}, products.adjusts)

	stored, getErr := store.GetByID(context.Background(), seed.ID)
	require.NoError(t, getErr)
	require.Equal(t, entity.StatusPending, stored.Status)
}
