package model

import "time"

type Flow string

const (
	FlowExport Flow = "export"
	FlowImport Flow = "import"
)

// Product is the NCM metadata attached to every derived row. It is
// display-only and never enters the arithmetic.
type Product struct {
	NCM         string `json:"ncm"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

// LastUpdate reports the freshest period published by the statistics source.
type LastUpdate struct {
	Year    int       `json:"year"`
	Month   int       `json:"month"`
	Updated time.Time `json:"updated"`
}

// DirectionalRecord is one (year, flow) observation for one NCM as returned
// by the statistics source. Freight, insurance and CIF are populated on the
// import side only.
type DirectionalRecord struct {
	Year      string  `json:"year"`
	FOB       float64 `json:"fob"`
	KG        float64 `json:"kg"`
	Statistic float64 `json:"statistic"`
	Freight   float64 `json:"freight"`
	Insurance float64 `json:"insurance"`
	CIF       float64 `json:"cif"`
}

// PartnerRecord is one partner country's totals for a fixed (ncm, flow, year).
type PartnerRecord struct {
	Country string  `json:"country"`
	FOB     float64 `json:"fob"`
	KG      float64 `json:"kg"`
}

// YearlyTradeRow merges both flows of one year into the core output unit.
// A flow absent from the source contributes zeros, never a missing row.
type YearlyTradeRow struct {
	Year    string  `json:"year"`
	Product Product `json:"product"`

	ExportFOB       float64 `json:"export_fob"`
	ExportKG        float64 `json:"export_kg"`
	ExportStatistic float64 `json:"export_statistic"`

	ImportFOB       float64 `json:"import_fob"`
	ImportKG        float64 `json:"import_kg"`
	ImportStatistic float64 `json:"import_statistic"`
	ImportCIF       float64 `json:"import_cif"`
	ImportFreight   float64 `json:"import_freight"`
	ImportInsurance float64 `json:"import_insurance"`

	BalanceFOB       float64 `json:"balance_fob"`
	BalanceKG        float64 `json:"balance_kg"`
	BalanceStatistic float64 `json:"balance_statistic"`

	ExportPriceKG        Ratio `json:"export_price_kg"`
	ExportPriceStatistic Ratio `json:"export_price_statistic"`
	ImportPriceKG        Ratio `json:"import_price_kg"`
	ImportPriceStatistic Ratio `json:"import_price_statistic"`
}

// YearSeries is a YearlyTradeRow sequence strictly increasing by numeric year.
type YearSeries []YearlyTradeRow

// ResumedRow is the reduced projection of a YearlyTradeRow: values and
// weights only, no statistical quantities or prices.
type ResumedRow struct {
	Year       string  `json:"year"`
	ExportFOB  float64 `json:"export_fob"`
	ExportKG   float64 `json:"export_kg"`
	ImportFOB  float64 `json:"import_fob"`
	ImportKG   float64 `json:"import_kg"`
	BalanceFOB float64 `json:"balance_fob"`
	BalanceKG  float64 `json:"balance_kg"`
}

// VariationRow is one year's snapshot of a single flow with year-over-year
// percentage changes. The first year of a series has undefined variations.
type VariationRow struct {
	Year string `json:"year"`

	FOB   float64 `json:"fob"`
	KG    float64 `json:"kg"`
	Price Ratio   `json:"price"`

	FOBVariation   Ratio `json:"fob_variation"`
	KGVariation    Ratio `json:"kg_variation"`
	PriceVariation Ratio `json:"price_variation"`
}

// CountryRow is a per-partner breakdown for a fixed year and flow.
type CountryRow struct {
	Country  string  `json:"country"`
	FOB      float64 `json:"fob"`
	KG       float64 `json:"kg"`
	FOBShare Ratio   `json:"fob_share"`
	KGShare  Ratio   `json:"kg_share"`
}

// InvoiceRecord is one year's NF-e-derived observation for one NCM.
// DomesticSales is optional in the source data; see ResolvedInvoiceRecord.
type InvoiceRecord struct {
	Year string `json:"year"`
	NCM  string `json:"ncm"`

	ProductionValue    float64 `json:"production_value"`
	ProductionQuantity float64 `json:"production_quantity"`

	ExportValue    float64 `json:"export_value"`
	ExportQuantity float64 `json:"export_quantity"`

	ImportValueCIF float64 `json:"import_value_cif"`
	ImportQuantity float64 `json:"import_quantity"`

	DomesticSales Ratio `json:"domestic_sales"`
}

// ResolvedInvoiceRecord is an InvoiceRecord whose domestic-sales quantity is
// guaranteed present, either reported or derived.
type ResolvedInvoiceRecord struct {
	InvoiceRecord
	DomesticSalesQuantity float64 `json:"domestic_sales_quantity"`
}

// SalesRow is one year of NF-e sales totals in weight units.
type SalesRow struct {
	Year     string  `json:"year"`
	Total    float64 `json:"total"`
	Domestic float64 `json:"domestic"`
	Exported float64 `json:"exported"`

	TotalVariation    Ratio `json:"total_variation"`
	DomesticVariation Ratio `json:"domestic_variation"`
	ExportedVariation Ratio `json:"exported_variation"`
}

// Organization is registry metadata for the entity reporting an NCM.
type Organization struct {
	NCM    string `json:"ncm"`
	Name   string `json:"name"`
	CNPJ   string `json:"cnpj"`
	Sector string `json:"sector"`
}

// Contact is one entity contact from the registry workbook.
type Contact struct {
	Organization string `json:"organization"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// ConsumptionRow is one year of apparent national consumption with the
// import-penetration coefficient.
type ConsumptionRow struct {
	Year        string  `json:"year"`
	Consumption float64 `json:"consumption"`
	Imports     float64 `json:"imports"`
	Domestic    float64 `json:"domestic"`

	ConsumptionVariation Ratio `json:"consumption_variation"`
	ImportsVariation     Ratio `json:"imports_variation"`
	DomesticVariation    Ratio `json:"domestic_variation"`

	Penetration Ratio `json:"penetration"`
}
