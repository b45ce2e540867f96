package composite

import (
	"context"
	"errors"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
)

// Repo fans writes out to every backend and reads from the first one that has
// data.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) UpsertFunding(ctx context.Context, exchange string, fs []model.FundingSnapshot) error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.UpsertFunding(ctx, exchange, fs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Repo) LoadFunding(ctx context.Context, exchange string) ([]model.FundingSnapshot, error) {
	var errs []error
	for _, repo := range r.repos {
		fs, err := repo.LoadFunding(ctx, exchange)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(fs) > 0 {
			return fs, nil
		}
	}
	return nil, errors.Join(errs...)
}

func (r *Repo) PublishOpportunities(ctx context.Context, res *model.Result) error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.PublishOpportunities(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
