// Package session derives one immutable analysis value per NCM submission.
// A new submission always produces a whole new Session; nothing in a Session
// is mutated after Analyze returns.
package session

import (
	"time"

	"github.com/google/uuid"

	"comexlens/internal/model"
)

// Session holds every derived dataset for one product-code submission. The
// holder (CLI or server) replaces the whole value atomically on each new
// submission, never patching individual tables.
type Session struct {
	ID         uuid.UUID        `json:"id"`
	Product    model.Product    `json:"product"`
	LastUpdate model.LastUpdate `json:"last_update"`

	Series  model.YearSeries   `json:"series"`
	Resumed []model.ResumedRow `json:"resumed"`

	ExportVariations []model.VariationRow `json:"export_variations"`
	ImportVariations []model.VariationRow `json:"import_variations"`

	// Country breakdowns for the latest complete year of the series.
	CountryYear     string             `json:"country_year"`
	ExportCountries []model.CountryRow `json:"export_countries"`
	ImportCountries []model.CountryRow `json:"import_countries"`

	Sales       []model.SalesRow       `json:"sales"`
	Consumption []model.ConsumptionRow `json:"consumption"`

	CreatedAt time.Time `json:"created_at"`
}

// WithoutInvoiceTables returns a copy with the NF-e-derived tables reset to
// empty, used when a later workbook upload turns out to be unusable.
func (s Session) WithoutInvoiceTables() Session {
	s.ID = uuid.New()
	s.Sales = nil
	s.Consumption = nil
	return s
}

// WithInvoiceTables returns a copy carrying freshly derived NF-e tables.
func (s Session) WithInvoiceTables(sales []model.SalesRow, consumption []model.ConsumptionRow) Session {
	s.ID = uuid.New()
	s.Sales = sales
	s.Consumption = consumption
	return s
}
