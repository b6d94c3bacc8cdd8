package analysis

import (
	"sort"

	"comexlens/internal/model"
)

// CountryShares computes each partner country's share of the year total for
// one (ncm, flow, year) snapshot. Shares are percentages of the summed FOB
// and KG totals, undefined when the respective total is zero. Rows are
// ordered by descending FOB so the largest partners come first.
func CountryShares(records []model.PartnerRecord) []model.CountryRow {
	var totalFOB, totalKG float64
	for _, record := range records {
		totalFOB += record.FOB
		totalKG += record.KG
	}

	rows := make([]model.CountryRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, model.CountryRow{
			Country:  record.Country,
			FOB:      record.FOB,
			KG:       record.KG,
			FOBShare: share(record.FOB, totalFOB),
			KGShare:  share(record.KG, totalKG),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FOB != rows[j].FOB {
			return rows[i].FOB > rows[j].FOB
		}
		return rows[i].Country < rows[j].Country
	})
	return rows
}

func share(part, total float64) model.Ratio {
	if total == 0 {
		return model.Ratio{}
	}
	return model.DefinedRatio(part / total * 100)
}
