package analysis

import (
	"errors"
	"fmt"
	"sort"

	"comexlens/internal/model"
)

// ErrDuplicateYear reports two rows for the same year reaching the assembler.
// The historical and current-year segments cover disjoint ranges by
// construction, so a duplicate is an upstream contract violation and must not
// be silently collapsed.
var ErrDuplicateYear = errors.New("analysis: duplicate year in series")

// AssembleSeries concatenates the historical rows with the partial
// current-year row and returns the result sorted ascending by numeric year.
func AssembleSeries(history []model.YearlyTradeRow, current *model.YearlyTradeRow) (model.YearSeries, error) {
	series := make(model.YearSeries, 0, len(history)+1)
	series = append(series, history...)
	if current != nil {
		series = append(series, *current)
	}

	sort.Slice(series, func(i, j int) bool {
		return numericYear(series[i].Year) < numericYear(series[j].Year)
	})

	for i := 1; i < len(series); i++ {
		if series[i].Year == series[i-1].Year {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateYear, series[i].Year)
		}
	}
	return series, nil
}

// Resume projects the reduced view of a series: year, per-flow FOB and KG,
// and both balances. Statistical quantities and prices are dropped.
func Resume(series model.YearSeries) []model.ResumedRow {
	rows := make([]model.ResumedRow, 0, len(series))
	for _, row := range series {
		rows = append(rows, model.ResumedRow{
			Year:       row.Year,
			ExportFOB:  row.ExportFOB,
			ExportKG:   row.ExportKG,
			ImportFOB:  row.ImportFOB,
			ImportKG:   row.ImportKG,
			BalanceFOB: row.BalanceFOB,
			BalanceKG:  row.BalanceKG,
		})
	}
	return rows
}
