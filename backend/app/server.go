package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"onvifsimple/gover/backend/httpapi"
	"onvifsimple/gover/backend/service/maintenance"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/store"
)

// Handler builds the HTTP surface of server mode.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpapi.Logging)

	r.Post("/onvif/{service}", a.serveSOAP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpapi.OK(w, map[string]any{"status": "ok", "entries": a.table.Len()})
	})
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httpapi.AdminTokenRequired(a.cfg.AdminTokenHash))
		r.Get("/audit", a.listAudit)
		r.Get("/audit/stats", a.auditStats)
		r.Get("/audit/{id}", a.getAudit)
		r.Post("/audit/prune", a.pruneAudit)
	})
	return r
}

func (a *App) serveSOAP(w http.ResponseWriter, r *http.Request) {
	service, ok := soap.LookupService(chi.URLParam(r, "service"))
	if !ok {
		http.Error(w, ErrUnknownService.Error(), http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err != nil {
		http.Error(w, ErrRequestTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	result, err := a.Handle(r.Context(), Call{
		Service:    service,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  httpapi.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		log.Printf("[soap][warn] %s: %v", r.URL.Path, err)
		if errors.Is(err, ErrMalformed) || errors.Is(err, ErrEmptyRequest) || errors.Is(err, ErrRequestTooLarge) {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	httpapi.WriteSOAP(w, result.Body, result.Fault)
}

func (a *App) listAudit(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		httpapi.Error(w, -404, "audit log disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.store.ListRequestLogs(r.Context(), store.RequestLogQuery{
		Service: r.URL.Query().Get("service"),
		Method:  r.URL.Query().Get("method"),
		Status:  r.URL.Query().Get("status"),
		Limit:   limit,
	})
	if err != nil {
		httpapi.Error(w, -500, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, items)
}

func (a *App) getAudit(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		httpapi.Error(w, -404, "audit log disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpapi.Error(w, -400, "invalid id", http.StatusBadRequest)
		return
	}
	item, err := a.store.GetRequestLog(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		httpapi.Error(w, -404, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httpapi.Error(w, -500, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, item)
}

func (a *App) auditStats(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		httpapi.Error(w, -404, "audit log disabled", http.StatusNotFound)
		return
	}
	stats, err := a.store.RequestLogStats(r.Context())
	if err != nil {
		httpapi.Error(w, -500, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, map[string]any{
		"methods":     stats,
		"lastCleanup": a.maintenance.Last(),
	})
}

type pruneRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

func (a *App) pruneAudit(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		httpapi.Error(w, -404, "audit log disabled", http.StatusNotFound)
		return
	}
	var req pruneRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -400, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	result, err := a.maintenance.CleanupOlderThan(r.Context(), "manual", req.OlderThanDays)
	if errors.Is(err, maintenance.ErrRetentionDisabled) {
		httpapi.Error(w, -400, "olderThanDays must be positive", http.StatusBadRequest)
		return
	}
	if err != nil {
		httpapi.Error(w, -500, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, result)
}

// Run serves HTTP until Shutdown is called.
func (a *App) Run() error {
	if a.maintenance != nil {
		a.maintenance.Start()
	}
	log.Printf("onvif server listening on %s", a.cfg.ListenAddr)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var shutdownErr error
	if a.server != nil {
		shutdownErr = a.server.Shutdown(ctx)
	}
	closeErr := a.Close()
	if shutdownErr != nil {
		return shutdownErr
	}
	return closeErr
}
