// Package comexstat implements the providers.Provider contract against the
// Comex Stat public API, the Brazilian foreign-trade statistics source.
package comexstat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"comexlens/internal/model"
	"comexlens/internal/providers"
)

const (
	defaultBaseURL         = "https://api-comexstat.mdic.gov.br"
	defaultGeneralPath     = "/general"
	defaultLastUpdatePath  = "/general/dates/updated"
	defaultNCMPath         = "/tables/ncm"
	defaultLanguage        = "en"
	defaultTimeoutSeconds  = 30
	defaultUserAgent       = "comexlens/0.1"
	defaultRateLimitPerSec = 2
	defaultRateLimitBurst  = 2
	defaultMaxRetries      = 3
)

var (
	ErrUnknownNCM      = errors.New("comexstat: unknown ncm code")
	ErrSourceThrottled = errors.New("comexstat: source throttled the request")
)

// Config is loaded from COMEXSTAT_* environment variables; zero fields fall
// back to the package defaults.
type Config struct {
	BaseURL         string        `envconfig:"BASE_URL"`
	GeneralPath     string        `envconfig:"GENERAL_PATH"`
	LastUpdatePath  string        `envconfig:"LAST_UPDATE_PATH"`
	NCMPath         string        `envconfig:"NCM_PATH"`
	Language        string        `envconfig:"LANGUAGE"`
	Timeout         time.Duration `envconfig:"TIMEOUT"`
	UserAgent       string        `envconfig:"USER_AGENT"`
	RateLimitPerSec int           `envconfig:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST"`
	MaxRetries      int           `envconfig:"MAX_RETRIES"`
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rateLimiter
	logger  *slog.Logger
}

func New(logger *slog.Logger) (*Provider, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, logger), nil
}

func NewWithConfig(cfg Config, logger *slog.Logger) *Provider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.GeneralPath) == "" {
		cfg.GeneralPath = defaultGeneralPath
	}
	if strings.TrimSpace(cfg.LastUpdatePath) == "" {
		cfg.LastUpdatePath = defaultLastUpdatePath
	}
	if strings.TrimSpace(cfg.NCMPath) == "" {
		cfg.NCMPath = defaultNCMPath
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		logger:  logger.With(slog.String("component", "comexstat")),
	}
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("comexstat", &cfg); err != nil {
		return Config{}, fmt.Errorf("comexstat: load config: %w", err)
	}
	return cfg, nil
}

func (p *Provider) Name() string {
	return "comexstat"
}

// LastUpdate reports the freshest published period. The current-year fetch
// range depends on this value.
func (p *Provider) LastUpdate(ctx context.Context) (model.LastUpdate, error) {
	body, err := p.doRequest(ctx, p.endpoint(p.config.LastUpdatePath), nil)
	if err != nil {
		return model.LastUpdate{}, err
	}

	row, err := extractObject(body)
	if err != nil {
		return model.LastUpdate{}, err
	}

	year, okYear := getFloat(row, "year", "coAno")
	month, okMonth := getFloat(row, "monthNumber", "month", "coMes")
	if !okYear || !okMonth {
		return model.LastUpdate{}, errors.New("comexstat: malformed last-update response")
	}

	update := model.LastUpdate{Year: int(year), Month: int(month)}
	if raw, ok := getString(row, "updated", "date"); ok {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			update.Updated = parsed
		}
	}
	return update, nil
}

// Product resolves the NCM description and statistical-unit label.
func (p *Provider) Product(ctx context.Context, ncm string) (model.Product, error) {
	ncm = strings.TrimSpace(ncm)
	if ncm == "" {
		return model.Product{}, errors.New("comexstat: ncm is required")
	}

	params := url.Values{}
	params.Set("filter", fmt.Sprintf(`{"ncm":[%q]}`, ncm))
	params.Set("language", p.config.Language)

	body, err := p.doRequest(ctx, p.endpoint(p.config.NCMPath), params)
	if err != nil {
		return model.Product{}, err
	}

	rows, err := extractRows(body)
	if err != nil {
		return model.Product{}, err
	}
	for _, row := range rows {
		code, _ := getString(row, "ncm", "coNcm", "id")
		if strings.TrimSpace(code) != ncm {
			continue
		}
		description, _ := getString(row, "description", "text", "noNcm")
		unit, _ := getString(row, "unit", "unitDescription", "noUnid")
		return model.Product{NCM: ncm, Description: description, Unit: unit}, nil
	}
	return model.Product{}, fmt.Errorf("%w: %s", ErrUnknownNCM, ncm)
}

// FetchRecords queries per-year totals for one NCM and flow over an inclusive
// period range. A zero month bound covers the whole year.
func (p *Provider) FetchRecords(ctx context.Context, ncm string, flow model.Flow, from, to providers.Period) ([]model.DirectionalRecord, error) {
	filter, err := buildGeneralFilter(ncm, flow, from, to, nil)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("filter", filter)
	params.Set("language", p.config.Language)

	body, err := p.doRequest(ctx, p.endpoint(p.config.GeneralPath), params)
	if err != nil {
		return nil, err
	}

	rows, err := extractRows(body)
	if err != nil {
		return nil, err
	}

	records := make([]model.DirectionalRecord, 0, len(rows))
	for _, row := range rows {
		record, ok := rowToRecord(row)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, providers.ErrNoRecords
	}
	return records, nil
}

// FetchPartners queries the per-country breakdown for one NCM, flow and year.
func (p *Provider) FetchPartners(ctx context.Context, ncm string, flow model.Flow, year int) ([]model.PartnerRecord, error) {
	bound := providers.Period{Year: year}
	filter, err := buildGeneralFilter(ncm, flow, bound, bound, []string{"country"})
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("filter", filter)
	params.Set("language", p.config.Language)

	body, err := p.doRequest(ctx, p.endpoint(p.config.GeneralPath), params)
	if err != nil {
		return nil, err
	}

	rows, err := extractRows(body)
	if err != nil {
		return nil, err
	}

	partners := make([]model.PartnerRecord, 0, len(rows))
	for _, row := range rows {
		country, ok := getString(row, "country", "noPais", "partner")
		if !ok {
			continue
		}
		fob, _ := getFloat(row, "metricFOB", "vlFob", "fob")
		kg, _ := getFloat(row, "metricKG", "kgLiquido", "kg")
		partners = append(partners, model.PartnerRecord{Country: country, FOB: fob, KG: kg})
	}
	if len(partners) == 0 {
		return nil, providers.ErrNoRecords
	}
	return partners, nil
}

func buildGeneralFilter(ncm string, flow model.Flow, from, to providers.Period, details []string) (string, error) {
	ncm = strings.TrimSpace(ncm)
	if ncm == "" {
		return "", errors.New("comexstat: ncm is required")
	}
	if from.Year == 0 || to.Year == 0 {
		return "", errors.New("comexstat: period bounds are required")
	}

	flowCode := "export"
	if flow == model.FlowImport {
		flowCode = "import"
	}

	payload := map[string]any{
		"flow":        flowCode,
		"monthDetail": false,
		"period": map[string]string{
			"from": formatPeriod(from, 1),
			"to":   formatPeriod(to, 12),
		},
		"filters": []map[string]any{
			{"filter": "ncm", "values": []string{ncm}},
		},
		"metrics": []string{
			"metricFOB", "metricKG", "metricStatistic",
			"metricFreight", "metricInsurance", "metricCIF",
		},
	}
	if len(details) > 0 {
		payload["details"] = details
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func formatPeriod(period providers.Period, fallbackMonth int) string {
	month := period.Month
	if month < 1 || month > 12 {
		month = fallbackMonth
	}
	return fmt.Sprintf("%04d-%02d", period.Year, month)
}

func rowToRecord(row map[string]any) (model.DirectionalRecord, bool) {
	year, ok := getString(row, "year", "coAno")
	if !ok {
		return model.DirectionalRecord{}, false
	}

	record := model.DirectionalRecord{Year: strings.TrimSpace(year)}
	record.FOB, _ = getFloat(row, "metricFOB", "vlFob", "fob")
	record.KG, _ = getFloat(row, "metricKG", "kgLiquido", "kg")
	record.Statistic, _ = getFloat(row, "metricStatistic", "qtEstat", "statistic")
	record.Freight, _ = getFloat(row, "metricFreight", "vlFrete", "freight")
	record.Insurance, _ = getFloat(row, "metricInsurance", "vlSeguro", "insurance")
	record.CIF, _ = getFloat(row, "metricCIF", "vlCif", "cif")
	return record, true
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (p *Provider) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	attempts := p.config.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, status, retryAfter, err := p.doRequestOnce(ctx, endpoint, params)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if status == http.StatusTooManyRequests && attempt < attempts-1 {
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			p.logger.Warn("source throttled, backing off",
				slog.Duration("retry_after", retryAfter),
				slog.Int("attempt", attempt+1))
			if err := sleepWithContext(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("comexstat: request failed")
}

func (p *Provider) doRequestOnce(ctx context.Context, endpoint string, params url.Values) ([]byte, int, time.Duration, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, 0, 0, err
		}
	}

	uri := endpoint
	if len(params) > 0 {
		uri = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter := parseRetryAfter(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, resp.StatusCode, retryAfter, fmt.Errorf("%w: %s", ErrSourceThrottled, resp.Status)
		}
		return nil, resp.StatusCode, retryAfter, fmt.Errorf("comexstat: request failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return body, resp.StatusCode, 0, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := time.Parse(http.TimeFormat, value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type rateLimiter struct {
	tokens chan struct{}
}

func newRateLimiter(ratePerSec, burst int) *rateLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := &rateLimiter{tokens: make(chan struct{}, burst)}
	for i := 0; i < burst; i++ {
		limiter.tokens <- struct{}{}
	}

	interval := time.Second / time.Duration(ratePerSec)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			select {
			case limiter.tokens <- struct{}{}:
			default:
			}
		}
	}()

	return limiter
}

func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

var _ providers.Provider = (*Provider)(nil)
