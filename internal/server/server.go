// Package server exposes the derived datasets to the presentation layer as
// plain JSON values. It owns the single mutable cell of the system: the
// current analysis session, replaced atomically on every submission.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"comexlens/internal/analysis"
	"comexlens/internal/model"
	"comexlens/internal/nfe"
	"comexlens/internal/session"
)

// Analyzer is the session builder the server drives.
type Analyzer interface {
	Analyze(ctx context.Context, req session.Request) (*session.Session, error)
}

type Server struct {
	analyzer Analyzer
	logger   *slog.Logger
	validate *validator.Validate

	current atomic.Pointer[session.Session]

	mu            sync.Mutex
	lastRequest   *session.Request
	invoices      []model.InvoiceRecord
	organizations map[string]model.Organization
	contacts      []model.Contact
}

func New(analyzer Analyzer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		analyzer: analyzer,
		logger:   logger.With(slog.String("component", "server")),
		validate: validator.New(),
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analysis", s.handleSubmit)
		r.Get("/analysis", s.handleSession)
		r.Get("/analysis/series", s.handleSeries)
		r.Get("/analysis/resumed", s.handleResumed)
		r.Get("/analysis/variations/{flow}", s.handleVariations)
		r.Get("/analysis/countries", s.handleCountries)
		r.Get("/analysis/sales", s.handleSales)
		r.Get("/analysis/consumption", s.handleConsumption)

		r.Post("/nfe", s.handleInvoiceUpload)
		r.Post("/registry", s.handleRegistryUpload)
		r.Get("/registry", s.handleRegistry)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// submitRequest is one product-code submission from the presentation layer.
type submitRequest struct {
	NCM      string `json:"ncm" validate:"required,len=8,numeric"`
	FromYear int    `json:"from_year" validate:"omitempty,gte=1997"`
	ToYear   int    `json:"to_year" validate:"omitempty,gtefield=FromYear"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, "ncm must be an 8-digit code")
		return
	}

	s.mu.Lock()
	invoices := s.invoices
	s.mu.Unlock()

	// A new submission discards all previously derived rows before any
	// request is issued.
	s.current.Store(nil)

	result, err := s.analyzer.Analyze(r.Context(), session.Request{
		NCM:      req.NCM,
		FromYear: req.FromYear,
		ToYear:   req.ToYear,
		Invoices: invoices,
	})
	if err != nil {
		s.logger.Error("analysis failed", slog.String("ncm", req.NCM), slog.Any("error", err))
		renderError(w, r, http.StatusBadGateway, "analysis failed; no data for this case")
		return
	}

	s.mu.Lock()
	s.lastRequest = &session.Request{NCM: req.NCM, FromYear: req.FromYear, ToYear: req.ToYear}
	s.mu.Unlock()
	s.current.Store(result)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	current := s.current.Load()
	if current == nil {
		renderError(w, r, http.StatusNotFound, "no analysis session")
		return
	}
	render.JSON(w, r, current)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	s.renderTable(w, r, func(current *session.Session) any { return current.Series })
}

func (s *Server) handleResumed(w http.ResponseWriter, r *http.Request) {
	s.renderTable(w, r, func(current *session.Session) any { return current.Resumed })
}

func (s *Server) handleVariations(w http.ResponseWriter, r *http.Request) {
	flow := chi.URLParam(r, "flow")
	if flow != string(model.FlowExport) && flow != string(model.FlowImport) {
		renderError(w, r, http.StatusBadRequest, "flow must be export or import")
		return
	}
	s.renderTable(w, r, func(current *session.Session) any {
		if model.Flow(flow) == model.FlowImport {
			return current.ImportVariations
		}
		return current.ExportVariations
	})
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	s.renderTable(w, r, func(current *session.Session) any {
		return map[string]any{
			"year":   current.CountryYear,
			"export": current.ExportCountries,
			"import": current.ImportCountries,
		}
	})
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	s.renderTable(w, r, func(current *session.Session) any { return current.Sales })
}

func (s *Server) handleConsumption(w http.ResponseWriter, r *http.Request) {
	s.renderTable(w, r, func(current *session.Session) any { return current.Consumption })
}

func (s *Server) renderTable(w http.ResponseWriter, r *http.Request, project func(*session.Session) any) {
	current := s.current.Load()
	if current == nil {
		renderError(w, r, http.StatusNotFound, "no analysis session")
		return
	}
	render.JSON(w, r, project(current))
}

// handleInvoiceUpload ingests the NF-e invoice workbook. A parse failure
// resets the derived NF-e tables instead of leaving them stale.
func (s *Server) handleInvoiceUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("workbook")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "workbook file is required")
		return
	}
	defer file.Close()

	records, err := nfe.ReadInvoices(file, s.logger)
	if err != nil {
		s.logger.Warn("invoice workbook rejected", slog.Any("error", err))
		if current := s.current.Load(); current != nil {
			reset := current.WithoutInvoiceTables()
			s.current.Store(&reset)
		}
		s.mu.Lock()
		s.invoices = nil
		s.mu.Unlock()
		renderError(w, r, http.StatusUnprocessableEntity, "workbook has no usable records")
		return
	}

	s.mu.Lock()
	s.invoices = records
	s.mu.Unlock()

	if current := s.current.Load(); current != nil {
		resolved := analysis.ResolveDomesticSales(nfe.InvoicesForNCM(records, current.Product.NCM))
		next := current.WithInvoiceTables(
			analysis.SalesSeries(resolved),
			analysis.ApparentConsumption(resolved),
		)
		s.current.Store(&next)
		render.JSON(w, r, &next)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]int{"records": len(records)})
}

func (s *Server) handleRegistryUpload(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("workbook")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "workbook file is required")
		return
	}
	defer file.Close()

	organizations, contacts, err := nfe.ReadRegistry(file, s.logger)
	if err != nil {
		s.logger.Warn("registry workbook rejected", slog.Any("error", err))
		renderError(w, r, http.StatusUnprocessableEntity, "workbook has no usable records")
		return
	}

	s.mu.Lock()
	s.organizations = organizations
	s.contacts = contacts
	s.mu.Unlock()

	render.JSON(w, r, map[string]int{
		"organizations": len(organizations),
		"contacts":      len(contacts),
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	organizations := s.organizations
	contacts := s.contacts
	s.mu.Unlock()

	render.JSON(w, r, map[string]any{
		"organizations": organizations,
		"contacts":      contacts,
	})
}

// Refresh re-runs the last submission, replacing the session atomically.
// Used by the scheduled refresher when the source publishes a new month.
func (s *Server) Refresh(ctx context.Context) error {
	s.mu.Lock()
	req := s.lastRequest
	invoices := s.invoices
	s.mu.Unlock()
	if req == nil {
		return nil
	}

	current := s.current.Load()

	run := *req
	run.Invoices = invoices
	result, err := s.analyzer.Analyze(ctx, run)
	if err != nil {
		return err
	}
	if current != nil && result.LastUpdate == current.LastUpdate {
		// Nothing new published; keep the existing session value.
		return nil
	}
	s.current.Store(result)
	s.logger.Info("session refreshed",
		slog.String("ncm", run.NCM),
		slog.Time("refreshed_at", time.Now().UTC()))
	return nil
}

type errResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errResponse{Status: status, Message: message})
}
