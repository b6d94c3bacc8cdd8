// Package analysis holds the computational core: pure, deterministic
// transformations from raw trade statistics and resolved invoice records
// into per-year analytical rows. Nothing here performs I/O.
package analysis

import (
	"sort"
	"strconv"
	"strings"

	"comexlens/internal/model"
)

// AggregateYears merges one NCM's export and import records into one
// YearlyTradeRow per year present in either flow. A year missing on one side
// uses zeros for that side's raw fields; the year is never dropped. Average
// prices are left undefined when their denominator is zero. Rows are returned
// in ascending numeric-year order.
func AggregateYears(exports, imports []model.DirectionalRecord, product model.Product) []model.YearlyTradeRow {
	byYear := make(map[string]*model.YearlyTradeRow)

	row := func(year string) *model.YearlyTradeRow {
		if existing, ok := byYear[year]; ok {
			return existing
		}
		created := &model.YearlyTradeRow{Year: year, Product: product}
		byYear[year] = created
		return created
	}

	for _, record := range exports {
		target := row(record.Year)
		target.ExportFOB += record.FOB
		target.ExportKG += record.KG
		target.ExportStatistic += record.Statistic
	}
	for _, record := range imports {
		target := row(record.Year)
		target.ImportFOB += record.FOB
		target.ImportKG += record.KG
		target.ImportStatistic += record.Statistic
		target.ImportCIF += record.CIF
		target.ImportFreight += record.Freight
		target.ImportInsurance += record.Insurance
	}

	rows := make([]model.YearlyTradeRow, 0, len(byYear))
	for _, target := range byYear {
		target.BalanceFOB = target.ExportFOB - target.ImportFOB
		target.BalanceKG = target.ExportKG - target.ImportKG
		target.BalanceStatistic = target.ExportStatistic - target.ImportStatistic

		target.ExportPriceKG = model.Divide(target.ExportFOB, target.ExportKG)
		target.ExportPriceStatistic = model.Divide(target.ExportFOB, target.ExportStatistic)
		target.ImportPriceKG = model.Divide(target.ImportFOB, target.ImportKG)
		target.ImportPriceStatistic = model.Divide(target.ImportFOB, target.ImportStatistic)

		rows = append(rows, *target)
	}

	sort.Slice(rows, func(i, j int) bool {
		return numericYear(rows[i].Year) < numericYear(rows[j].Year)
	})
	return rows
}

// numericYear orders year labels numerically; unparseable labels sort first.
func numericYear(label string) int {
	year, err := strconv.Atoi(strings.TrimSpace(label))
	if err != nil {
		return 0
	}
	return year
}
