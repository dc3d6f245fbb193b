package entity

import (
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFinalized Status = "FINALIZED"
	StatusCanceled  Status = "CANCELED"
)

// ErrNotPending is returned when a transition is attempted on a terminal order.
var ErrNotPending = errors.New("order is not pending")

// Item is a single order line, copied verbatim from the submitted cart.
type Item struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Name      string  `json:"name"`
}

// Order represents a purchase order stored in the relational database.
// Items and total are immutable after creation; only status may change,
// and only away from PENDING.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID        string    `bun:",pk"`
	UserID    string    `bun:"user_id"`
	Items     []Item    `bun:"items,type:jsonb"`
	Status    Status    `bun:"status"`
	Total     float64   `bun:"total"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

// Finalize moves a pending order to FINALIZED.
func (o *Order) Finalize() error {
	if o.Status != StatusPending {
		return ErrNotPending
	}
	o.Status = StatusFinalized
	return nil
}

// Cancel moves a pending order to CANCELED.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return ErrNotPending
	}
	o.Status = StatusCanceled
	return nil
}
