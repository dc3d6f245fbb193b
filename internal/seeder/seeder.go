package seeder

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/microshop/orders/internal/database"
	"github.com/microshop/orders/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Orders seeds example orders if they are missing.
func (s *Seeder) Orders(ctx context.Context) error {
	samples := []entity.Order{
		{
			ID:     uuid.NewString(),
			UserID: "user-demo-1",
			Items: []entity.Item{
				{ProductID: "p-100", Quantity: 2, Price: 10, Name: "Widget"},
				{ProductID: "p-200", Quantity: 1, Price: 25.5, Name: "Gadget"},
			},
			Status: entity.StatusPending,
			Total:  45.5,
		},
		{
			ID:     uuid.NewString(),
			UserID: "user-demo-2",
			Items: []entity.Item{
				{ProductID: "p-300", Quantity: 3, Price: 5, Name: "Sprocket"},
			},
			Status: entity.StatusFinalized,
			Total:  15,
		},
	}

	for _, sample := range samples {
		order := sample
		_, err := s.db.NewInsert().Model(&order).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded orders", zap.Int("count", len(samples)))
	}
	return nil
}
