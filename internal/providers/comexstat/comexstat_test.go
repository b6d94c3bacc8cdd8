package comexstat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comexlens/internal/model"
	"comexlens/internal/providers"
)

func testProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithConfig(Config{
		BaseURL:         server.URL,
		RateLimitPerSec: 1000,
		RateLimitBurst:  10,
	}, nil)
}

func TestLastUpdate(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/general/dates/updated", r.URL.Path)
		w.Write([]byte(`{"data":{"updated":"2024-06-15","year":2024,"monthNumber":5}}`))
	}))

	update, err := provider.LastUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2024, update.Year)
	assert.Equal(t, 5, update.Month)
	assert.Equal(t, "2024-06-15", update.Updated.Format("2006-01-02"))
}

func TestProduct(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tables/ncm", r.URL.Path)
		w.Write([]byte(`{"data":{"list":[
			{"ncm":"39011010","description":"Linear polyethylene","unit":"Net kilogram"}
		]}}`))
	}))

	product, err := provider.Product(context.Background(), "39011010")
	require.NoError(t, err)
	assert.Equal(t, model.Product{
		NCM:         "39011010",
		Description: "Linear polyethylene",
		Unit:        "Net kilogram",
	}, product)
}

func TestProduct_UnknownNCM(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))

	_, err := provider.Product(context.Background(), "00000000")
	assert.ErrorIs(t, err, ErrUnknownNCM)
}

func TestFetchRecords(t *testing.T) {
	var gotFilter string
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		w.Write([]byte(`{"data":{"list":[
			{"year":"2020","metricFOB":1000,"metricKG":100,"metricStatistic":50},
			{"year":"2021","metricFOB":"1100","metricKG":110,"metricStatistic":55,
			 "metricCIF":1200,"metricFreight":80,"metricInsurance":20}
		]}}`))
	}))

	records, err := provider.FetchRecords(context.Background(), "39011010", model.FlowImport,
		providers.Period{Year: 2020}, providers.Period{Year: 2021, Month: 5})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2020", records[0].Year)
	assert.Equal(t, 1000.0, records[0].FOB)
	assert.Equal(t, 1100.0, records[1].FOB)
	assert.Equal(t, 1200.0, records[1].CIF)
	assert.Equal(t, 80.0, records[1].Freight)

	var filter map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotFilter), &filter))
	assert.Equal(t, "import", filter["flow"])
	period := filter["period"].(map[string]any)
	assert.Equal(t, "2020-01", period["from"])
	assert.Equal(t, "2021-05", period["to"])
}

func TestFetchRecords_NoRecords(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[]}}`))
	}))

	_, err := provider.FetchRecords(context.Background(), "39011010", model.FlowExport,
		providers.Period{Year: 2020}, providers.Period{Year: 2020})
	assert.ErrorIs(t, err, providers.ErrNoRecords)
}

func TestFetchRecords_RetriesOnThrottle(t *testing.T) {
	var calls int
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{"list":[{"year":"2020","metricFOB":1}]}}`))
	}))

	records, err := provider.FetchRecords(context.Background(), "39011010", model.FlowExport,
		providers.Period{Year: 2020}, providers.Period{Year: 2020})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestFetchPartners(t *testing.T) {
	provider := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		assert.Contains(t, filter, `"details":["country"]`)
		w.Write([]byte(`{"data":{"list":[
			{"country":"China","metricFOB":600,"metricKG":300},
			{"country":"Argentina","metricFOB":100,"metricKG":50}
		]}}`))
	}))

	partners, err := provider.FetchPartners(context.Background(), "39011010", model.FlowExport, 2023)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	assert.Equal(t, model.PartnerRecord{Country: "China", FOB: 600, KG: 300}, partners[0])
}
