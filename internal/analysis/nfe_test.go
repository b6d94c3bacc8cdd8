package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comexlens/internal/model"
)

func TestResolveDomesticSales(t *testing.T) {
	tests := []struct {
		name   string
		record model.InvoiceRecord
		want   float64
	}{
		{
			name: "reported quantity passes through",
			record: model.InvoiceRecord{
				Year:               "2020",
				ProductionQuantity: 500,
				ExportQuantity:     100,
				DomesticSales:      model.DefinedRatio(350),
			},
			want: 350,
		},
		{
			name: "missing quantity derived from production minus exports",
			record: model.InvoiceRecord{
				Year:               "2020",
				ProductionQuantity: 500,
				ExportQuantity:     100,
			},
			want: 400,
		},
		{
			// Boundary case: exports exceed reported production (inventory
			// draw-down or reporting lag). The negative result is clamped to
			// zero rather than propagated.
			name: "negative derived quantity clamps to zero",
			record: model.InvoiceRecord{
				Year:               "2020",
				ProductionQuantity: 80,
				ExportQuantity:     100,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := ResolveDomesticSales([]model.InvoiceRecord{tt.record})
			require.Len(t, resolved, 1)
			assert.Equal(t, tt.want, resolved[0].DomesticSalesQuantity)
		})
	}
}

func TestResolveDomesticSales_KeepsLengthAndOrder(t *testing.T) {
	records := []model.InvoiceRecord{
		{Year: "2019", ProductionQuantity: 10},
		{Year: "2020", ProductionQuantity: 20},
		{Year: "2021", ProductionQuantity: 30},
	}

	resolved := ResolveDomesticSales(records)
	require.Len(t, resolved, len(records))
	for i := range records {
		assert.Equal(t, records[i].Year, resolved[i].Year)
	}
}

func TestSalesSeries(t *testing.T) {
	resolved := ResolveDomesticSales([]model.InvoiceRecord{
		{Year: "2020", ProductionQuantity: 300, ExportQuantity: 100},
		{Year: "2021", ProductionQuantity: 330, ExportQuantity: 110},
	})

	rows := SalesSeries(resolved)
	require.Len(t, rows, 2)

	assert.Equal(t, model.SalesRow{
		Year: "2020", Total: 300, Domestic: 200, Exported: 100,
	}, rows[0])

	assert.Equal(t, 330.0, rows[1].Total)
	assert.InDelta(t, 10, rows[1].TotalVariation.Value, 1e-9)
	assert.InDelta(t, 10, rows[1].DomesticVariation.Value, 1e-9)
	assert.InDelta(t, 10, rows[1].ExportedVariation.Value, 1e-9)
}

func TestSalesSeries_EmptyInput(t *testing.T) {
	assert.Empty(t, SalesSeries(nil))
}

func TestApparentConsumption(t *testing.T) {
	resolved := []model.ResolvedInvoiceRecord{
		{
			InvoiceRecord:         model.InvoiceRecord{Year: "2020", ImportQuantity: 50},
			DomesticSalesQuantity: 200,
		},
	}

	rows := ApparentConsumption(resolved)
	require.Len(t, rows, 1)

	assert.Equal(t, 250.0, rows[0].Consumption)
	penetration, ok := rows[0].Penetration.Float64()
	require.True(t, ok)
	assert.InDelta(t, 0.2, penetration, 1e-9)
}

func TestApparentConsumption_PenetrationUndefinedOnZeroConsumption(t *testing.T) {
	resolved := []model.ResolvedInvoiceRecord{
		{InvoiceRecord: model.InvoiceRecord{Year: "2020"}},
	}

	rows := ApparentConsumption(resolved)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Penetration.Defined)
}

func TestApparentConsumption_Variation(t *testing.T) {
	resolved := []model.ResolvedInvoiceRecord{
		{InvoiceRecord: model.InvoiceRecord{Year: "2020", ImportQuantity: 50}, DomesticSalesQuantity: 200},
		{InvoiceRecord: model.InvoiceRecord{Year: "2021", ImportQuantity: 100}, DomesticSalesQuantity: 150},
	}

	rows := ApparentConsumption(resolved)
	require.Len(t, rows, 2)

	assert.False(t, rows[0].ConsumptionVariation.Defined)
	assert.InDelta(t, 0, rows[1].ConsumptionVariation.Value, 1e-9)
	assert.True(t, rows[1].ConsumptionVariation.Defined)
	assert.InDelta(t, 100, rows[1].ImportsVariation.Value, 1e-9)
	assert.InDelta(t, -25, rows[1].DomesticVariation.Value, 1e-9)
}
