package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lexandro/tokenindex-mcp/index"
	"github.com/lexandro/tokenindex-mcp/pipeline"
	"github.com/lexandro/tokenindex-mcp/query"
	"github.com/lexandro/tokenindex-mcp/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (API, *int) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := index.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.AddOrReplace(index.Document{Path: "/proj/util.py", Language: "Python", Strategy: "structured", Code: []string{"chain", "itertools"}}))
	require.NoError(t, store.Commit(ctx))

	st, err := state.Open(state.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Apply(ctx, state.Batch{Put: []state.Record{{
		Path: "/proj/util.py", Size: 30, ModTime: time.Unix(1, 0), Language: "Python",
		Strategy: "structured", Code: []string{"chain", "itertools"}, IndexedAt: time.Unix(2, 0),
	}}}))

	catalog := index.NewCatalog()
	catalog.Put(&index.IndexedFile{Path: "/proj/util.py", Root: "/proj", RelativePath: "util.py", Language: "Python", Strategy: "structured", SizeBytes: 30, TokenCount: 2})

	passes := 0
	api := API{
		Engine:  query.New(store, catalog, query.Options{CaseSensitive: true, Roots: []string{"/proj"}, Logger: logger}),
		Catalog: catalog,
		State:   st,
		Index:   store,
		Reindex: func(ctx context.Context, opts pipeline.PassOptions) (*pipeline.PassResult, error) {
			passes++
			return &pipeline.PassResult{Full: opts.Full}, nil
		},
		Logger: logger,
	}
	return api, &passes
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func Test_HTTP_Search(t *testing.T) {
	api, _ := newTestAPI(t)
	h := NewHTTPHandler(api, nil)

	rec := serve(t, h, http.MethodGet, "/api/search?q=itertools")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp query.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "util.py", resp.Files[0].RelativePath)

	rec = serve(t, h, http.MethodGet, "/api/search?q=iter")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Files)
}

func Test_HTTP_SearchEmptyQuery(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := serve(t, NewHTTPHandler(api, nil), http.MethodGet, "/api/search?q=")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")
}

func Test_HTTP_Files(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := serve(t, NewHTTPHandler(api, nil), http.MethodGet, "/api/files?pattern=**/*.py")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Files []index.IndexedFile `json:"files"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "/proj/util.py", body.Files[0].Path)
}

func Test_HTTP_Tokens(t *testing.T) {
	api, _ := newTestAPI(t)
	h := NewHTTPHandler(api, nil)

	rec := serve(t, h, http.MethodGet, "/api/tokens?path=/proj/util.py")
	require.Equal(t, http.StatusOK, rec.Code)
	var body TokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"chain", "itertools"}, body.Code)
	assert.Equal(t, []string{}, body.Text)

	rec = serve(t, h, http.MethodGet, "/api/tokens?path=/proj/absent.go")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_HTTP_Status(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := serve(t, NewHTTPHandler(api, nil), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Files)
	assert.Equal(t, uint64(1), body.Documents)
	assert.Equal(t, map[string]int{"Python": 1}, body.Languages)
	assert.Nil(t, body.LastPass)
}

func Test_HTTP_Reindex(t *testing.T) {
	api, passes := newTestAPI(t)
	h := NewHTTPHandler(api, nil)

	rec := serve(t, h, http.MethodPost, "/api/reindex?full=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *passes)
	assert.Contains(t, rec.Body.String(), `"full":true`)

	rec = serve(t, h, http.MethodGet, "/api/reindex")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func Test_HTTP_Healthz(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := serve(t, NewHTTPHandler(api, nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}
