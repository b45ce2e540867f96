package port

import (
	"context"

	"perparb/internal/domain/model"
)

// Repository keeps latest state only: the current funding map per exchange and
// the last published opportunity list. Nothing historical is stored.
type Repository interface {
	UpsertFunding(ctx context.Context, exchange string, fs []model.FundingSnapshot) error
	LoadFunding(ctx context.Context, exchange string) ([]model.FundingSnapshot, error)
	PublishOpportunities(ctx context.Context, res *model.Result) error

	// Connection management
	Close() error
}
