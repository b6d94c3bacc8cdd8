package analysis

import "comexlens/internal/model"

// ResolveDomesticSales fills the domestic-sales quantity of every invoice
// record, preserving length and year order. A reported quantity passes
// through unchanged; a missing one becomes production − exports, clamped at
// zero. The clamp is a deliberate lossy policy: exports can exceed reported
// production under inventory draw-down, and a negative sales figure is not
// meaningful downstream.
func ResolveDomesticSales(records []model.InvoiceRecord) []model.ResolvedInvoiceRecord {
	resolved := make([]model.ResolvedInvoiceRecord, 0, len(records))
	for _, record := range records {
		quantity, reported := record.DomesticSales.Float64()
		if !reported {
			quantity = record.ProductionQuantity - record.ExportQuantity
			if quantity < 0 {
				quantity = 0
			}
		}
		resolved = append(resolved, model.ResolvedInvoiceRecord{
			InvoiceRecord:         record,
			DomesticSalesQuantity: quantity,
		})
	}
	return resolved
}

// SalesSeries derives per-year total, domestic and exported sales quantities
// with year-over-year variation. An empty input yields an empty result.
func SalesSeries(records []model.ResolvedInvoiceRecord) []model.SalesRow {
	rows := make([]model.SalesRow, 0, len(records))
	for i, record := range records {
		row := model.SalesRow{
			Year:     record.Year,
			Domestic: record.DomesticSalesQuantity,
			Exported: record.ExportQuantity,
			Total:    record.DomesticSalesQuantity + record.ExportQuantity,
		}
		if i > 0 {
			prior := rows[i-1]
			row.TotalVariation = percentChange(row.Total, prior.Total)
			row.DomesticVariation = percentChange(row.Domestic, prior.Domestic)
			row.ExportedVariation = percentChange(row.Exported, prior.Exported)
		}
		rows = append(rows, row)
	}
	return rows
}

// ApparentConsumption derives the apparent-national-consumption series
// (domestic sales + imports) with year-over-year variation and the
// import-penetration coefficient, undefined when consumption is zero.
func ApparentConsumption(records []model.ResolvedInvoiceRecord) []model.ConsumptionRow {
	rows := make([]model.ConsumptionRow, 0, len(records))
	for i, record := range records {
		row := model.ConsumptionRow{
			Year:        record.Year,
			Domestic:    record.DomesticSalesQuantity,
			Imports:     record.ImportQuantity,
			Consumption: record.DomesticSalesQuantity + record.ImportQuantity,
		}
		row.Penetration = model.Divide(row.Imports, row.Consumption)
		if i > 0 {
			prior := rows[i-1]
			row.ConsumptionVariation = percentChange(row.Consumption, prior.Consumption)
			row.ImportsVariation = percentChange(row.Imports, prior.Imports)
			row.DomesticVariation = percentChange(row.Domestic, prior.Domestic)
		}
		rows = append(rows, row)
	}
	return rows
}
