package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"comexlens/internal/model"
	"comexlens/internal/session"
)

type stubAnalyzer struct {
	result  *session.Session
	err     error
	lastReq session.Request
	calls   int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req session.Request) (*session.Session, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func testSession() *session.Session {
	return &session.Session{
		ID:         uuid.New(),
		Product:    model.Product{NCM: "39011010", Description: "Polyethylene", Unit: "kg"},
		LastUpdate: model.LastUpdate{Year: 2024, Month: 5},
		Series: model.YearSeries{
			{Year: "2023", ExportFOB: 1000, ImportFOB: 400, BalanceFOB: 600},
		},
		Resumed: []model.ResumedRow{
			{Year: "2023", ExportFOB: 1000, ImportFOB: 400, BalanceFOB: 600},
		},
		ExportVariations: []model.VariationRow{{Year: "2023", FOB: 1000}},
		ImportVariations: []model.VariationRow{{Year: "2023", FOB: 400}},
		CountryYear:      "2023",
	}
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestSubmitAndFetch(t *testing.T) {
	analyzer := &stubAnalyzer{result: testSession()}
	srv := New(analyzer, nil)
	router := srv.Router()

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010","from_year":2019}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "39011010", analyzer.lastReq.NCM)
	assert.Equal(t, 2019, analyzer.lastReq.FromYear)

	resp = get(t, router, "/api/analysis")
	require.Equal(t, http.StatusOK, resp.Code)

	var got session.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "Polyethylene", got.Product.Description)
	require.Len(t, got.Series, 1)
	assert.Equal(t, 600.0, got.Series[0].BalanceFOB)

	resp = get(t, router, "/api/analysis/resumed")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = get(t, router, "/api/analysis/variations/export")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = get(t, router, "/api/analysis/variations/sideways")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubmit_Validation(t *testing.T) {
	srv := New(&stubAnalyzer{result: testSession()}, nil)
	router := srv.Router()

	tests := []struct {
		name string
		body string
	}{
		{name: "short ncm", body: `{"ncm":"1234"}`},
		{name: "non-numeric ncm", body: `{"ncm":"39x11010"}`},
		{name: "missing ncm", body: `{}`},
		{name: "garbled body", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, router, "/api/analysis", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestSubmit_AnalyzerFailureClearsSession(t *testing.T) {
	analyzer := &stubAnalyzer{result: testSession()}
	srv := New(analyzer, nil)
	router := srv.Router()

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	analyzer.err = errors.New("source down")
	resp = postJSON(t, router, "/api/analysis", `{"ncm":"02071400"}`)
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	// The failed submission discarded the previous session rather than
	// serving stale rows.
	resp = get(t, router, "/api/analysis")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFetch_NoSession(t *testing.T) {
	srv := New(&stubAnalyzer{}, nil)
	router := srv.Router()

	for _, path := range []string{
		"/api/analysis",
		"/api/analysis/series",
		"/api/analysis/sales",
		"/api/analysis/consumption",
		"/api/analysis/countries",
	} {
		resp := get(t, router, path)
		assert.Equal(t, http.StatusNotFound, resp.Code, path)
	}
}

func invoiceWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Ano", "NCM", "Qtd Produção", "Qtd Exportação", "Qtd Importação", "Qtd Venda Interna"},
		{"2022", "39011010", "300", "100", "50", ""},
		{"2023", "39011010", "330", "110", "60", ""},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}

	buffer, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buffer
}

func uploadWorkbook(t *testing.T, router http.Handler, path string, workbook *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("workbook", "upload.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestInvoiceUpload_DerivesTablesForCurrentSession(t *testing.T) {
	srv := New(&stubAnalyzer{result: testSession()}, nil)
	router := srv.Router()

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = uploadWorkbook(t, router, "/api/nfe", invoiceWorkbook(t))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = get(t, router, "/api/analysis/sales")
	require.Equal(t, http.StatusOK, resp.Code)

	var sales []model.SalesRow
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sales))
	require.Len(t, sales, 2)
	assert.Equal(t, 300.0, sales[0].Total)

	resp = get(t, router, "/api/analysis/consumption")
	require.Equal(t, http.StatusOK, resp.Code)

	var consumption []model.ConsumptionRow
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &consumption))
	require.Len(t, consumption, 2)
	assert.Equal(t, 250.0, consumption[0].Consumption)
}

func TestInvoiceUpload_UnusableWorkbookResetsTables(t *testing.T) {
	srv := New(&stubAnalyzer{result: testSession()}, nil)
	router := srv.Router()

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = uploadWorkbook(t, router, "/api/nfe", invoiceWorkbook(t))
	require.Equal(t, http.StatusOK, resp.Code)

	garbled := bytes.NewBufferString("not a workbook at all")
	resp = uploadWorkbook(t, router, "/api/nfe", garbled)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	// Derived NF-e tables are reset to empty, not left stale.
	resp = get(t, router, "/api/analysis/sales")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "null", strings.TrimSpace(resp.Body.String()))
}

func TestInvoiceUpload_BeforeAnySession(t *testing.T) {
	analyzer := &stubAnalyzer{result: testSession()}
	srv := New(analyzer, nil)
	router := srv.Router()

	resp := uploadWorkbook(t, router, "/api/nfe", invoiceWorkbook(t))
	assert.Equal(t, http.StatusAccepted, resp.Code)

	// The stored invoices ride along with the next submission.
	resp = postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Len(t, analyzer.lastReq.Invoices, 2)
}

func TestRegistryUploadAndFetch(t *testing.T) {
	srv := New(&stubAnalyzer{}, nil)
	router := srv.Router()

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"NCM", "Razão Social", "CNPJ", "Setor"},
		{"39011010", "Braskem S.A.", "42.150.391/0001-70", "Químico"},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	buffer, err := f.WriteToBuffer()
	require.NoError(t, err)

	resp := uploadWorkbook(t, router, "/api/registry", buffer)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = get(t, router, "/api/registry")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Braskem S.A.")
}

func TestRefresh(t *testing.T) {
	analyzer := &stubAnalyzer{result: testSession()}
	srv := New(analyzer, nil)
	router := srv.Router()

	// No submission yet: refresh is a no-op.
	require.NoError(t, srv.Refresh(context.Background()))
	assert.Zero(t, analyzer.calls)

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	fresh := testSession()
	fresh.LastUpdate = model.LastUpdate{Year: 2024, Month: 6}
	fresh.Series = append(fresh.Series, model.YearlyTradeRow{Year: "2024"})
	analyzer.result = fresh

	require.NoError(t, srv.Refresh(context.Background()))

	resp = get(t, router, "/api/analysis")
	require.Equal(t, http.StatusOK, resp.Code)

	var got session.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Len(t, got.Series, 2)
}

func TestRefresh_NoNewDataKeepsSession(t *testing.T) {
	analyzer := &stubAnalyzer{result: testSession()}
	srv := New(analyzer, nil)
	router := srv.Router()

	resp := postJSON(t, router, "/api/analysis", `{"ncm":"39011010"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	before := srv.current.Load()

	// Same last-update: the existing session value is kept.
	analyzer.result = testSession()
	require.NoError(t, srv.Refresh(context.Background()))
	assert.Same(t, before, srv.current.Load())
}

func TestHealthz(t *testing.T) {
	srv := New(&stubAnalyzer{}, nil)
	resp := get(t, srv.Router(), "/healthz")
	assert.Equal(t, http.StatusOK, resp.Code)
}
