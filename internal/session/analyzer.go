package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"comexlens/internal/analysis"
	"comexlens/internal/model"
	"comexlens/internal/nfe"
	"comexlens/internal/providers"
	"comexlens/internal/store"
)

const defaultLookbackYears = 5

// Request is one product-code submission.
type Request struct {
	NCM      string
	FromYear int // zero means lookback from the last published year
	ToYear   int // zero means the source's last published year

	// Invoices are already-parsed NF-e records; only rows matching NCM are
	// used. Empty input means empty NF-e tables, not an error.
	Invoices []model.InvoiceRecord
}

// Analyzer turns a Request into a Session. The request DAG is explicit:
// last-update and product metadata are independent and fetched in parallel;
// the current-year range depends on last-update; export and import fetches
// for the same range are independent and run in parallel; everything joins
// before aggregation.
type Analyzer struct {
	provider providers.Provider
	records  store.Store
	logger   *slog.Logger
	lookback int
}

func NewAnalyzer(provider providers.Provider, records store.Store, logger *slog.Logger) *Analyzer {
	if records == nil {
		records = &store.NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		provider: provider,
		records:  records,
		logger:   logger.With(slog.String("component", "analyzer")),
		lookback: defaultLookbackYears,
	}
}

// SetLookbackYears overrides the series lookback used when a request does
// not name a starting year.
func (a *Analyzer) SetLookbackYears(years int) {
	if years > 0 {
		a.lookback = years
	}
}

func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Session, error) {
	if req.NCM == "" {
		return nil, errors.New("session: ncm is required")
	}
	started := time.Now()

	var (
		update  model.LastUpdate
		product model.Product
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		update, err = a.provider.LastUpdate(groupCtx)
		if err != nil {
			return fmt.Errorf("session: last update: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		product, err = a.provider.Product(groupCtx, req.NCM)
		if err != nil {
			return fmt.Errorf("session: product metadata: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	currentYear := update.Year
	if req.ToYear > 0 && req.ToYear < currentYear {
		currentYear = req.ToYear
	}
	fromYear := req.FromYear
	if fromYear <= 0 {
		fromYear = currentYear - a.lookback
	}
	if fromYear > currentYear {
		return nil, fmt.Errorf("session: from year %d is after %d", fromYear, currentYear)
	}
	lastFullYear := currentYear - 1

	var histExports, histImports, curExports, curImports []model.DirectionalRecord
	group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		histExports, err = a.historicalRecords(groupCtx, req.NCM, model.FlowExport, fromYear, lastFullYear)
		return err
	})
	group.Go(func() error {
		var err error
		histImports, err = a.historicalRecords(groupCtx, req.NCM, model.FlowImport, fromYear, lastFullYear)
		return err
	})
	group.Go(func() error {
		var err error
		curExports, err = a.currentYearRecords(groupCtx, req.NCM, model.FlowExport, currentYear, update)
		return err
	})
	group.Go(func() error {
		var err error
		curImports, err = a.currentYearRecords(groupCtx, req.NCM, model.FlowImport, currentYear, update)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	history := analysis.AggregateYears(histExports, histImports, product)
	var current *model.YearlyTradeRow
	if currentRows := analysis.AggregateYears(curExports, curImports, product); len(currentRows) > 0 {
		current = &currentRows[0]
	}

	series, err := analysis.AssembleSeries(history, current)
	if err != nil {
		return nil, err
	}

	result := &Session{
		ID:         uuid.New(),
		Product:    product,
		LastUpdate: update,

		Series:  series,
		Resumed: analysis.Resume(series),

		ExportVariations: analysis.VariationSummary(series, model.FlowExport),
		ImportVariations: analysis.VariationSummary(series, model.FlowImport),

		CreatedAt: time.Now().UTC(),
	}

	if lastFullYear >= fromYear {
		result.CountryYear = strconv.Itoa(lastFullYear)
		group, groupCtx = errgroup.WithContext(ctx)
		group.Go(func() error {
			var err error
			result.ExportCountries, err = a.partnerBreakdown(groupCtx, req.NCM, model.FlowExport, lastFullYear)
			return err
		})
		group.Go(func() error {
			var err error
			result.ImportCountries, err = a.partnerBreakdown(groupCtx, req.NCM, model.FlowImport, lastFullYear)
			return err
		})
		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	resolved := analysis.ResolveDomesticSales(nfe.InvoicesForNCM(req.Invoices, req.NCM))
	result.Sales = analysis.SalesSeries(resolved)
	result.Consumption = analysis.ApparentConsumption(resolved)

	a.logger.Info("analysis session built",
		slog.String("ncm", req.NCM),
		slog.String("session_id", result.ID.String()),
		slog.Int("years", len(series)),
		slog.Duration("elapsed", time.Since(started)))
	return result, nil
}

// historicalRecords serves complete prior years from the cache and fetches
// only the missing span from the source. A flow with no published data is an
// empty slice, not an error.
func (a *Analyzer) historicalRecords(ctx context.Context, ncm string, flow model.Flow, fromYear, toYear int) ([]model.DirectionalRecord, error) {
	if toYear < fromYear {
		return nil, nil
	}

	cached, err := a.records.ListRecords(ctx, ncm, flow, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("session: record cache: %w", err)
	}
	cachedYears := make(map[string]struct{}, len(cached))
	for _, record := range cached {
		cachedYears[record.Year] = struct{}{}
	}

	missingFrom, missingTo := 0, 0
	for year := fromYear; year <= toYear; year++ {
		if _, ok := cachedYears[strconv.Itoa(year)]; ok {
			continue
		}
		if missingFrom == 0 {
			missingFrom = year
		}
		missingTo = year
	}
	if missingFrom == 0 {
		return cached, nil
	}

	fetched, err := a.provider.FetchRecords(ctx, ncm, flow,
		providers.Period{Year: missingFrom}, providers.Period{Year: missingTo})
	if err != nil {
		if errors.Is(err, providers.ErrNoRecords) {
			return cached, nil
		}
		return nil, fmt.Errorf("session: fetch %s history: %w", flow, err)
	}

	fresh := make([]model.DirectionalRecord, 0, len(fetched))
	for _, record := range fetched {
		if _, ok := cachedYears[record.Year]; ok {
			continue
		}
		fresh = append(fresh, record)
	}
	if err := a.records.UpsertRecords(ctx, ncm, flow, fresh); err != nil {
		return nil, fmt.Errorf("session: record cache: %w", err)
	}
	return append(cached, fresh...), nil
}

// currentYearRecords fetches the partial current year bounded at the last
// published month. It is never cached.
func (a *Analyzer) currentYearRecords(ctx context.Context, ncm string, flow model.Flow, year int, update model.LastUpdate) ([]model.DirectionalRecord, error) {
	toMonth := 12
	if year == update.Year {
		toMonth = update.Month
	}
	records, err := a.provider.FetchRecords(ctx, ncm, flow,
		providers.Period{Year: year, Month: 1}, providers.Period{Year: year, Month: toMonth})
	if err != nil {
		if errors.Is(err, providers.ErrNoRecords) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: fetch %s current year: %w", flow, err)
	}
	return records, nil
}

func (a *Analyzer) partnerBreakdown(ctx context.Context, ncm string, flow model.Flow, year int) ([]model.CountryRow, error) {
	partners, err := a.provider.FetchPartners(ctx, ncm, flow, year)
	if err != nil {
		if errors.Is(err, providers.ErrNoRecords) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: fetch %s partners: %w", flow, err)
	}
	return analysis.CountryShares(partners), nil
}
