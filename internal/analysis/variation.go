package analysis

import "comexlens/internal/model"

// VariationSummary derives the year-over-year percentage-change table for one
// flow of a series. Value, weight and average price vary independently. The
// first year, and any year whose prior metric is zero or undefined, carries
// an undefined variation.
func VariationSummary(series model.YearSeries, flow model.Flow) []model.VariationRow {
	rows := make([]model.VariationRow, 0, len(series))
	for i, yearRow := range series {
		fob, kg, price := flowMetrics(yearRow, flow)

		row := model.VariationRow{
			Year:  yearRow.Year,
			FOB:   fob,
			KG:    kg,
			Price: price,
		}
		if i > 0 {
			priorFOB, priorKG, priorPrice := flowMetrics(series[i-1], flow)
			row.FOBVariation = percentChange(fob, priorFOB)
			row.KGVariation = percentChange(kg, priorKG)
			row.PriceVariation = percentChangeRatio(price, priorPrice)
		}
		rows = append(rows, row)
	}
	return rows
}

func flowMetrics(row model.YearlyTradeRow, flow model.Flow) (fob, kg float64, price model.Ratio) {
	if flow == model.FlowImport {
		return row.ImportFOB, row.ImportKG, row.ImportPriceKG
	}
	return row.ExportFOB, row.ExportKG, row.ExportPriceKG
}

// percentChange is (current − prior) ÷ prior × 100, undefined on a zero prior.
func percentChange(current, prior float64) model.Ratio {
	if prior == 0 {
		return model.Ratio{}
	}
	return model.DefinedRatio((current - prior) / prior * 100)
}

// percentChangeRatio applies percentChange to metrics that may themselves be
// undefined, such as average prices.
func percentChangeRatio(current, prior model.Ratio) model.Ratio {
	if !current.Defined || !prior.Defined {
		return model.Ratio{}
	}
	return percentChange(current.Value, prior.Value)
}
