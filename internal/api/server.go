// Package api exposes the HTTP interface for the tender crawler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/normalize"
	"github.com/tenderwatch/crawler/internal/source/ungm"
	"github.com/tenderwatch/crawler/internal/store"
	"github.com/tenderwatch/crawler/internal/telemetry"
	"github.com/tenderwatch/crawler/internal/tender"
)

// CrawlFunc is the orchestration entry point the manual trigger invokes.
type CrawlFunc func(ctx context.Context) tender.CrawlReport

// DatasetProvider serves the UNGM helper datasets behind the lookup
// endpoints.
type DatasetProvider interface {
	SyncCountries(ctx context.Context) ([]ungm.Country, error)
	SyncUNSPSCSegments(ctx context.Context) ([]ungm.UNSPSC, error)
}

// Server wires HTTP handlers to the store and the crawl trigger.
type Server struct {
	router   chi.Router
	store    store.TenderStore
	crawl    CrawlFunc
	datasets DatasetProvider
	logger   *zap.Logger

	// crawlMu serializes manual crawl triggers; an overlapping request is
	// rejected instead of queued.
	crawlMu sync.Mutex
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.TenderStore, crawl CrawlFunc, datasets DatasetProvider, logger *zap.Logger) *Server {
	s := &Server{
		store:    st,
		crawl:    crawl,
		datasets: datasets,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(10 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/crawl", s.triggerCrawl)
		r.Get("/tenders", s.listTenders)
		r.Get("/ungm/deeplink", s.ungmDeeplink)
		r.Get("/ungm/countries", s.ungmCountries)
		r.Get("/ungm/unspsc", s.ungmUNSPSC)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.store.List(r.Context(), store.Filter{Limit: 1}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

// triggerCrawl runs a full crawl synchronously and returns its report.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	if !s.crawlMu.TryLock() {
		writeError(w, http.StatusConflict, "a crawl is already running", s.logger)
		return
	}
	defer s.crawlMu.Unlock()

	report := s.crawl(r.Context())
	writeJSON(w, http.StatusOK, report, s.logger)
}

func (s *Server) listTenders(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	tenders, total, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("tender listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed", s.logger)
		return
	}
	if tenders == nil {
		tenders = []tender.Tender{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenders": tenders,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	}, s.logger)
}

func (s *Server) ungmDeeplink(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	url := ungm.BuildDeeplink(ungm.DeeplinkInput{
		Countries:   query["country"],
		UNSPSCCodes: query["unspsc"],
		Keywords:    query["q"],
	})
	writeJSON(w, http.StatusOK, map[string]string{"url": url}, s.logger)
}

func (s *Server) ungmCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.datasets.SyncCountries(r.Context())
	if err != nil {
		s.logger.Error("country dataset sync failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "country dataset unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": countries}, s.logger)
}

func (s *Server) ungmUNSPSC(w http.ResponseWriter, r *http.Request) {
	segments, err := s.datasets.SyncUNSPSCSegments(r.Context())
	if err != nil {
		s.logger.Error("UNSPSC dataset sync failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "UNSPSC dataset unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments}, s.logger)
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	filter := store.Filter{
		Keyword: query.Get("q"),
		Limit:   50,
	}

	if site := query.Get("site"); site != "" {
		parsed := tender.Site(site)
		if !parsed.Valid() {
			return store.Filter{}, errInvalidParam("site", site)
		}
		filter.Site = parsed
	}
	if from := query.Get("published_from"); from != "" {
		ts := normalize.ParseDate(from)
		if ts == nil {
			return store.Filter{}, errInvalidParam("published_from", from)
		}
		filter.PublishedFrom = ts
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 || n > 500 {
			return store.Filter{}, errInvalidParam("limit", limit)
		}
		filter.Limit = n
	}
	if offset := query.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return store.Filter{}, errInvalidParam("offset", offset)
		}
		filter.Offset = n
	}
	return filter, nil
}

type paramError struct {
	name  string
	value string
}

func (e paramError) Error() string {
	return "invalid " + e.name + " parameter: " + e.value
}

func errInvalidParam(name, value string) error {
	return paramError{name: name, value: value}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
