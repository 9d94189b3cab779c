package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
	"github.com/nethalo/sqlforge/internal/testutil"
)

const tripsSQL = `SELECT COUNT(t.id) AS cnt, s.name
FROM trips t
JOIN stations s ON s.id = t.station_id
WHERE t.d = '2025-01-01'
GROUP BY s.name`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	active, err := store.Open(ctx, store.Options{Driver: store.DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = active.Close() })
	derived, err := store.OpenDerived(ctx, store.Options{Driver: store.DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = derived.Close() })

	for _, q := range []struct{ id, question, sql string }{
		{"q001", "daily trips per station", tripsSQL},
		{"q002", "all stations", "SELECT s.name FROM stations s"},
	} {
		res, err := analyzer.Analyze(analyzer.Input{SQL: q.sql, Meta: analyzer.Meta{Identifier: q.id, Question: q.question}})
		require.NoError(t, err)
		_, err = active.Put(ctx, res.Model)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(NewRouter(service.New(active, derived, logger), logger))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndStatus(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/healthz", "", &health))
	assert.Equal(t, "ok", health["status"])

	var st service.Status
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/status", "", &st))
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.ByTier[model.TierA])
	assert.Equal(t, 1, st.ByTier[model.TierB])
}

func TestListTemplates(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"list all", "", http.StatusOK, 2},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"tier filter", "?tier=A", http.StatusOK, 1},
		{"search", "?q=trips", http.StatusOK, 1},
		{"search with tier", "?q=trips&tier=A", http.StatusOK, 0},
		{"bad tier", "?tier=X", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-3", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Count     int             `json:"count"`
				Templates []store.Summary `json:"templates"`
				Code      string          `json:"code"`
			}
			status := doJSON(t, http.MethodGet, srv.URL+"/templates"+tt.query, "", &body)
			assert.Equal(t, tt.status, status)
			if status == http.StatusOK {
				assert.Equal(t, tt.count, body.Count)
				assert.Len(t, body.Templates, tt.count)
			} else {
				assert.Equal(t, "VALIDATION_ERROR", body.Code)
			}
		})
	}
}

func TestGetTemplate(t *testing.T) {
	srv := newTestServer(t)

	var d service.Details
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/templates/q001", "", &d))
	assert.Equal(t, "q001", d.Identifier)
	assert.Equal(t, model.TierB, d.Tier)
	require.Len(t, d.Predicates, 1)
	assert.True(t, d.Predicates[0].Editable)

	var e errorBody
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/templates/nope", "", &e))
	assert.Equal(t, "NOT_FOUND", e.Code)
}

func TestRegenerateAndHistory(t *testing.T) {
	srv := newTestServer(t)

	var res service.RegenerateResult
	status := doJSON(t, http.MethodPost, srv.URL+"/templates/q001/regenerate",
		`{"conditions": [{"column": "t.d", "operator": "between", "value": "'2025-01-01' AND '2025-01-31'"}], "question": "January trips"}`,
		&res)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "q001_modified_1", res.Identifier)
	assert.Contains(t, res.SQL, "BETWEEN '2025-01-01' AND '2025-01-31'")

	var d service.Details
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/templates/q001_modified_1", "", &d))
	assert.True(t, d.Derived)
	assert.Equal(t, "January trips", d.Question)

	var hist struct {
		Identifier string                `json:"query_id"`
		History    []model.HistoryRecord `json:"history"`
	}
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/templates/q001/history", "", &hist))
	assert.Equal(t, "q001", hist.Identifier)
	assert.NotNil(t, hist.History)
	assert.Empty(t, hist.History)
}

func TestRegenerate_Errors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed body", "/templates/q001/regenerate", "{", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", "/templates/q001/regenerate", `{"where": []}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad operator", "/templates/q001/regenerate", `{"conditions": [{"column": "t.d", "operator": "LIKE", "value": "'x'"}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"injection", "/templates/q001/regenerate", `{"conditions": [{"column": "t.d", "operator": "=", "value": "1; DROP TABLE trips"}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown template", "/templates/zzz/regenerate", `{"conditions": []}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errorBody
			assert.Equal(t, tt.status, doJSON(t, http.MethodPost, srv.URL+tt.path, tt.body, &e))
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

type brokenBackend struct{ Backend }

func (brokenBackend) Status(context.Context) (*service.Status, error) {
	return nil, errors.New("database is locked")
}

func TestInternalErrorIsMasked(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	NewRouter(brokenBackend{}, testutil.NewTestLogger(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var e errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.Equal(t, "INTERNAL", e.Code)
	assert.NotContains(t, e.Error, "locked")
}
