package store

import (
	"context"

	"comexlens/internal/model"
)

// Store caches fetched per-year directional records so complete prior years
// are not re-fetched from the source. The partial current year is never
// cached.
type Store interface {
	UpsertRecords(ctx context.Context, ncm string, flow model.Flow, records []model.DirectionalRecord) error
	ListRecords(ctx context.Context, ncm string, flow model.Flow, fromYear, toYear int) ([]model.DirectionalRecord, error)
	ListYears(ctx context.Context, ncm string, flow model.Flow) ([]int, error)
	Close() error
}

// NopStore disables caching; every analysis hits the source.
type NopStore struct{}

func (s *NopStore) UpsertRecords(ctx context.Context, ncm string, flow model.Flow, records []model.DirectionalRecord) error {
	_ = ctx
	_ = ncm
	_ = flow
	_ = records
	return nil
}

func (s *NopStore) ListRecords(ctx context.Context, ncm string, flow model.Flow, fromYear, toYear int) ([]model.DirectionalRecord, error) {
	_ = ctx
	_ = ncm
	_ = flow
	_ = fromYear
	_ = toYear
	return nil, nil
}

func (s *NopStore) ListYears(ctx context.Context, ncm string, flow model.Flow) ([]int, error) {
	_ = ctx
	_ = ncm
	_ = flow
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
