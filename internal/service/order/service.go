package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/cache"
	cartclient "github.com/microshop/orders/internal/client/cart"
	productclient "github.com/microshop/orders/internal/client/product"
	"github.com/microshop/orders/internal/config"
	"github.com/microshop/orders/internal/dto"
	"github.com/microshop/orders/internal/entity"
	"github.com/microshop/orders/internal/messaging"
	repo "github.com/microshop/orders/internal/repository/order"
	"github.com/microshop/orders/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/microshop/orders/service/order")

// Store is the order persistence contract consumed by the orchestrator.
type Store interface {
	Insert(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	ListByUser(ctx context.Context, userID string) ([]entity.Order, error)
	Update(ctx context.Context, order *entity.Order) error
}

// ProductClient is the stock capability of the product service.
type ProductClient interface {
	CheckStock(ctx context.Context, productID string, requestedQuantity int) (dto.StockCheckResponse, error)
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// CartClient is the cart-clearing capability of the cart service.
type CartClient interface {
	ClearCart(ctx context.Context, userID string) error
}

// Service orchestrates order creation and lifecycle transitions across the
// order store and the remote product/cart collaborators.
type Service struct {
	store        Store
	products     ProductClient
	carts        CartClient
	events       messaging.Client
	cache        cache.Store
	cacheTTL     time.Duration
	logger       *zap.Logger
	checkWorkers int
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Products   *productclient.Client
	Carts      *cartclient.Client
	Events     messaging.Client
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance for Fx.
func NewService(p Params) *Service {
	return NewOrchestrator(p.Repository, p.Products, p.Carts, p.Events, p.Cache, p.Config, p.Logger)
}

// NewOrchestrator assembles a Service from explicit capabilities, so test
// doubles substitute directly without the container.
func NewOrchestrator(store Store, products ProductClient, carts CartClient, events messaging.Client, cacheStore cache.Store, cfg config.Config, logger *zap.Logger) *Service {
	workers := cfg.Orders.StockCheckConcurrency
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		products:     products,
		carts:        carts,
		events:       events,
		cache:        cacheStore,
		cacheTTL:     cfg.Cache.DefaultTTL,
		logger:       logger,
		checkWorkers: workers,
	}
}

// Create validates the cart, reserves stock, persists the order, and clears
// the user's cart. Cart clearing is best-effort; a failure there never undoes
// the created order.
func (s *Service) Create(ctx context.Context, userID string, cart *dto.Cart) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.String("order.user_id", userID)))
	defer span.End()

	if err := validateCart(userID, cart); err != nil {
		return nil, err
	}

	if err := s.checkAllStock(ctx, cart.Items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock check failed")
		return nil, err
	}

	order := &entity.Order{
		UserID: userID,
		Items:  toEntityItems(cart.Items),
		Status: entity.StatusPending,
		Total:  cart.TotalAmount,
	}

	applied, err := s.adjustAll(ctx, cart.Items, -1)
	if err != nil {
		s.walkBack(ctx, applied, +1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock decrement failed")
		return nil, err
	}

	if err := s.store.Insert(ctx, order); err != nil {
		s.walkBack(ctx, applied, +1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.String("id", order.ID), zap.Error(err))
	}

	s.publishEvent(ctx, order)

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		// Non-fatal: the order exists; the stale cart is the cart service's problem.
		s.logger.Error("cart clear failed after order creation",
			zap.String("order_id", order.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	return order, nil
}

// FindAll returns the user's orders, newest first.
func (s *Service) FindAll(ctx context.Context, userID string) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.FindAll", trace.WithAttributes(attribute.String("order.user_id", userID)))
	defer span.End()

	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// FindOne returns the order or nil when no such order exists. Absence is a
// normal result here, not an error.
func (s *Service) FindOne(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.FindOne", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.String("id", id), zap.Error(err))
	}

	order, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.String("id", id), zap.Error(err))
	}
	return order, nil
}

// Finalize moves a pending order to FINALIZED.
func (s *Service) Finalize(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Finalize", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id, span)
	if err != nil {
		return nil, err
	}

	if err := order.Finalize(); err != nil {
		return nil, notPending(order)
	}

	if err := s.store.Update(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to finalize order", errorbank.WithCause(err))
	}

	s.refreshCache(ctx, order)
	s.publishEvent(ctx, order)
	return order, nil
}

// Cancel restores stock for every line item and moves a pending order to
// CANCELED. A restore failure aborts the cancel, walks back the restores
// already applied, and leaves the order pending.
func (s *Service) Cancel(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id, span)
	if err != nil {
		return nil, err
	}

	if order.Status != entity.StatusPending {
		return nil, notPending(order)
	}

	items := toDTOItems(order.Items)
	applied, err := s.adjustAll(ctx, items, +1)
	if err != nil {
		s.walkBack(ctx, applied, -1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock restore failed")
		return nil, err
	}

	if err := order.Cancel(); err != nil {
		return nil, notPending(order)
	}

	if err := s.store.Update(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to cancel order", errorbank.WithCause(err))
	}

	s.refreshCache(ctx, order)
	s.publishEvent(ctx, order)
	return order, nil
}

// load fetches an order, mapping absence to a NotFound failure. Finalize and
// Cancel require the order to exist, unlike FindOne.
func (s *Service) load(ctx context.Context, id string, span trace.Span) (*entity.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("order %s not found", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func validateCart(userID string, cart *dto.Cart) error {
	if userID == "" {
		return errorbank.BadRequest("userId is required")
	}
	if cart == nil || len(cart.Items) == 0 {
		return errorbank.BadRequest("cart is empty or missing")
	}
	for i, item := range cart.Items {
		if item.ProductID == "" {
			return errorbank.BadRequest(fmt.Sprintf("cart item %d has no productId", i))
		}
		if item.Quantity <= 0 {
			return errorbank.BadRequest(fmt.Sprintf("cart item %d has non-positive quantity", i))
		}
		if item.Price < 0 {
			return errorbank.BadRequest(fmt.Sprintf("cart item %d has negative price", i))
		}
	}
	return nil
}

// checkAllStock verifies availability for every item. Checks fan out under a
// concurrency cap, but failure selection stays deterministic: the first item
// in cart order with a failed or insufficient check wins.
func (s *Service) checkAllStock(ctx context.Context, items []dto.OrderItem) error {
	type result struct {
		resp dto.StockCheckResponse
		err  error
	}

	results := make([]result, len(items))
	sem := make(chan struct{}, s.checkWorkers)
	var wg sync.WaitGroup

	for i := range items {
		wg.Add(1)
		go func(i int, item dto.OrderItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := s.products.CheckStock(ctx, item.ProductID, item.Quantity)
			results[i] = result{resp: resp, err: err}
		}(i, items[i])
	}
	wg.Wait()

	for i, item := range items {
		r := results[i]
		if r.err != nil {
			return r.err
		}
		if !r.resp.HasStock {
			return errorbank.Unprocessable(
				fmt.Sprintf("insufficient stock for product %s: %d available", item.Name, r.resp.CurrentStock),
				errorbank.WithDetail("productId", item.ProductID),
				errorbank.WithDetail("productName", item.Name),
				errorbank.WithDetail("currentStock", r.resp.CurrentStock),
			)
		}
	}
	return nil
}

// adjustAll applies sign*quantity for each item sequentially, in item order.
// It returns the items already adjusted when a call fails, so the caller can
// walk the ledger back.
func (s *Service) adjustAll(ctx context.Context, items []dto.OrderItem, sign int) ([]dto.OrderItem, error) {
	applied := make([]dto.OrderItem, 0, len(items))
	for _, item := range items {
		if err := s.products.AdjustStock(ctx, item.ProductID, sign*item.Quantity); err != nil {
			return applied, err
		}
		applied = append(applied, item)
	}
	return applied, nil
}

// walkBack issues inverse adjustments for an interrupted adjustment sequence,
// most recent first. Walk-back failures are logged and abandoned; there is no
// second level of compensation.
func (s *Service) walkBack(ctx context.Context, applied []dto.OrderItem, sign int) {
	for i := len(applied) - 1; i >= 0; i-- {
		item := applied[i]
		if err := s.products.AdjustStock(ctx, item.ProductID, sign*item.Quantity); err != nil {
			s.logger.Error("stock walk-back failed",
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", sign*item.Quantity),
				zap.Error(err),
			)
		}
	}
}

func notPending(order *entity.Order) error {
	return errorbank.Conflict(
		fmt.Sprintf("order %s is not pending", order.ID),
		errorbank.WithDetail("status", string(order.Status)),
	)
}

func toEntityItems(items []dto.OrderItem) []entity.Item {
	out := make([]entity.Item, 0, len(items))
	for _, it := range items {
		out = append(out, entity.Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
		})
	}
	return out
}

func toDTOItems(items []entity.Item) []dto.OrderItem {
	out := make([]dto.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, dto.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
		})
	}
	return out
}

func (s *Service) cacheKey(id string) string {
	return "orders:" + id
}

func (s *Service) getFromCache(ctx context.Context, id string) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if s.cache == nil || order == nil {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}

func (s *Service) refreshCache(ctx context.Context, order *entity.Order) {
	if s.cache == nil || order == nil {
		return
	}
	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache refresh failed", zap.String("id", order.ID), zap.Error(err))
	}
}
