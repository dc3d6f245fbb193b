package dto

import (
	"time"

	"github.com/microshop/orders/internal/entity"
)

// OrderItem mirrors a cart line item on the wire.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Name      string  `json:"name"`
}

// Cart is the snapshot submitted with a create_order command.
type Cart struct {
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
}

// CreateOrderRequest is the payload of the create_order command.
type CreateOrderRequest struct {
	UserID string `json:"userId"`
	Cart   *Cart  `json:"cart"`
}

// UserOrdersRequest is the payload of the find_all_orders command.
type UserOrdersRequest struct {
	UserID string `json:"userId"`
}

// OrderIDRequest addresses a single order for find/finalize/cancel commands.
type OrderIDRequest struct {
	ID string `json:"id"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Items     []OrderItem `json:"items"`
	Status    string      `json:"status"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// StockCheckRequest is sent to the product service's check_product_stock command.
type StockCheckRequest struct {
	ID                string `json:"id"`
	RequestedQuantity int    `json:"requestedQuantity"`
}

// StockCheckResponse reports availability for a single product.
type StockCheckResponse struct {
	HasStock     bool `json:"hasStock"`
	CurrentStock int  `json:"currentStock"`
}

// StockAdjustRequest is sent to update_product_stock. Quantity is a delta:
// negative decrements inventory, positive restores it.
type StockAdjustRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// ClearCartRequest is sent to the cart service's clear_cart command.
type ClearCartRequest struct {
	UserID string `json:"userId"`
}

// Ack is the acknowledgement payload for fire-and-confirm commands.
type Ack struct {
	OK bool `json:"ok"`
}

// FromOrder maps a persisted order onto its wire representation.
func FromOrder(order *entity.Order) OrderResponse {
	items := make([]OrderItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
		})
	}
	return OrderResponse{
		ID:        order.ID,
		UserID:    order.UserID,
		Items:     items,
		Status:    string(order.Status),
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

// FromOrders maps a slice of orders for list responses.
func FromOrders(orders []entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, FromOrder(&orders[i]))
	}
	return out
}
