// Package api serves the template service over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// Backend is the part of the service the handlers call.
type Backend interface {
	Search(ctx context.Context, text string, tier model.Tier) ([]store.Summary, error)
	List(ctx context.Context, tier model.Tier, limit int) ([]store.Summary, error)
	GetDetails(ctx context.Context, identifier string) (*service.Details, error)
	Regenerate(ctx context.Context, req service.RegenerateRequest) (*service.RegenerateResult, error)
	History(ctx context.Context, identifier string) ([]model.HistoryRecord, error)
	Status(ctx context.Context) (*service.Status, error)
}

// RegenerateBody is the request body of POST /templates/{id}/regenerate.
type RegenerateBody struct {
	Conditions []model.Predicate `json:"conditions"`
	Question   string            `json:"question"`
	Category   string            `json:"category"`
}

type errorBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Problems []string `json:"problems,omitempty"`
}

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(backend Backend, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handlers{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/status", h.status)
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.listTemplates)
		r.Get("/{id}", h.getTemplate)
		r.Get("/{id}/history", h.history)
		r.Post("/{id}/regenerate", h.regenerate)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// listTemplates searches when q is set and lists the newest templates otherwise.
func (h *handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var tier model.Tier
	if raw := q.Get("tier"); raw != "" {
		t, ok := model.ParseTier(raw)
		if !ok {
			h.writeError(w, r, &model.ValidationError{Field: "tier", Problems: []string{"want A, B or C, got " + strconv.Quote(raw)}})
			return
		}
		tier = t
	}

	var (
		items []store.Summary
		err   error
	)
	if text := q.Get("q"); text != "" {
		items, err = h.backend.Search(r.Context(), text, tier)
	} else {
		limit := service.DefaultListLimit
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				h.writeError(w, r, &model.ValidationError{Field: "limit", Problems: []string{"must be a positive integer"}})
				return
			}
			limit = n
		}
		items, err = h.backend.List(r.Context(), tier, limit)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "templates": items})
}

func (h *handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	d, err := h.backend.GetDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := h.backend.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []model.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query_id": id, "history": records})
}

func (h *handlers) regenerate(w http.ResponseWriter, r *http.Request) {
	var body RegenerateBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, r, &model.ValidationError{Field: "body", Problems: []string{err.Error()}})
		return
	}

	res, err := h.backend.Regenerate(r.Context(), service.RegenerateRequest{
		Identifier: chi.URLParam(r, "id"),
		Predicates: body.Conditions,
		Question:   body.Question,
		Category:   body.Category,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// writeError maps NotFound to 404, validation failures to 400 and the rest to 500.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Problems: verr.Problems})
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
