package providers

import (
	"context"
	"errors"

	"comexlens/internal/model"
)

// ErrNoRecords reports a query that matched nothing at the source. Callers
// treat it as an empty result for the affected flow, not a failure.
var ErrNoRecords = errors.New("providers: no records found")

// Provider is the trade-statistics source. Period bounds are inclusive; a
// partial current year is requested by bounding the range at the source's
// last published month.
type Provider interface {
	Name() string
	LastUpdate(ctx context.Context) (model.LastUpdate, error)
	Product(ctx context.Context, ncm string) (model.Product, error)
	FetchRecords(ctx context.Context, ncm string, flow model.Flow, from, to Period) ([]model.DirectionalRecord, error)
	FetchPartners(ctx context.Context, ncm string, flow model.Flow, year int) ([]model.PartnerRecord, error)
}

// Period is a year-month bound for record queries. A zero month means the
// whole year.
type Period struct {
	Year  int
	Month int
}
