package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/state"
	"github.com/lexandro/tokenindex-mcp/tools"
)

// API holds what the HTTP endpoints read from.
type API struct {
	Engine   *query.Engine
	Catalog  *index.Catalog
	State    *state.Store
	Index    tools.DocCounter
	LastPass func() *pipeline.PassResult
	Reindex  tools.ReindexFunc
	Logger   *slog.Logger
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Files       int                  `json:"files"`
	Documents   uint64               `json:"documents"`
	SizeBytes   int64                `json:"sizeBytes"`
	Diagnostics int                  `json:"diagnostics"`
	Languages   map[string]int       `json:"languages"`
	Strategies  map[string]int       `json:"strategies"`
	LastPass    *pipeline.PassResult `json:"lastPass,omitempty"`
}

// TokensResponse is the body of GET /api/tokens.
type TokensResponse struct {
	Path       string    `json:"path"`
	Language   string    `json:"language,omitempty"`
	Strategy   string    `json:"strategy"`
	Code       []string  `json:"code"`
	Text       []string  `json:"text"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	IndexedAt  time.Time `json:"indexedAt"`
}

// NewHTTPHandler builds the router for the read-mostly HTTP API. An empty
// origins list allows local origins only.
func NewHTTPHandler(api API, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", api.handleSearch)
		r.Get("/files", api.handleFiles)
		r.Get("/tokens", api.handleTokens)
		r.Get("/status", api.handleStatus)
		if api.Reindex != nil {
			r.Post("/reindex", api.handleReindex)
		}
	})
	return r
}

func (api API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := query.Request{
		Query:    q.Get("q"),
		Scope:    query.Scope(q.Get("scope")),
		Mode:     query.Mode(q.Get("mode")),
		Group:    q.Get("group"),
		PathGlob: q.Get("glob"),
	}
	if v := q.Get("case"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			req.CaseSensitive = &b
		}
	}
	if n, err := strconv.Atoi(q.Get("max")); err == nil {
		req.MaxResults = n
	}
	if n, err := strconv.Atoi(q.Get("context")); err == nil && n >= 0 {
		req.Context = true
		req.ContextLines = n
	}

	resp, err := api.Engine.Search(r.Context(), req)
	if indexerr.IsEmptyQuery(err) {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	if err != nil {
		api.Logger.Warn("http search failed", "query", req.Query, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api API) handleFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern := q.Get("pattern")
	if pattern == "" {
		pattern = "**"
	}
	maxResults, _ := strconv.Atoi(q.Get("max"))

	files, total, err := api.Catalog.SearchByGlob(pattern, maxResults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if files == nil {
		files = []*index.IndexedFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "total": total})
}

func (api API) handleTokens(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "query parameter path is required")
		return
	}
	rec, ok, err := api.State.Get(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not indexed")
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{
		Path:       rec.Path,
		Language:   rec.Language,
		Strategy:   rec.Strategy,
		Code:       nonNil(rec.Code),
		Text:       nonNil(rec.Text),
		Diagnostic: rec.Diagnostic,
		IndexedAt:  rec.IndexedAt,
	})
}

func (api API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		Files:       api.Catalog.Len(),
		SizeBytes:   api.Catalog.TotalSizeBytes(),
		Diagnostics: len(api.Catalog.WithDiagnostics()),
		Languages:   api.Catalog.LanguageCounts(),
		Strategies:  api.Catalog.StrategyCounts(),
	}
	if api.Index != nil {
		if docs, err := api.Index.DocCount(); err == nil {
			status.Documents = docs
		}
	}
	if api.LastPass != nil {
		status.LastPass = api.LastPass()
	}
	writeJSON(w, http.StatusOK, status)
}

func (api API) handleReindex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	full, _ := strconv.ParseBool(q.Get("full"))
	rehash, _ := strconv.ParseBool(q.Get("rehash"))

	result, err := api.Reindex(r.Context(), pipeline.PassOptions{Full: full, Rehash: rehash})
	if err != nil {
		api.Logger.Error("http reindex failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func nonNil(tokens []string) []string {
	if tokens == nil {
		return []string{}
	}
	return tokens
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
