package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"autoprice/internal/dataset"
	"autoprice/internal/report"
)

func summary(t *testing.T) *dataset.Table {
	t.Helper()
	tbl := dataset.MustNew(
		dataset.Column{Name: "year", Type: dataset.Int},
		dataset.Column{Name: "sellingprice", Type: dataset.Float},
		dataset.Column{Name: "mmr", Type: dataset.Float},
		dataset.Column{Name: "odometer", Type: dataset.Float},
		dataset.Column{Name: "condition", Type: dataset.Float},
		dataset.Column{Name: "price_difference", Type: dataset.Float},
	)
	for _, r := range [][]any{
		{int64(1999), 1000.0, 900.0, 200000.0, 1.5, 100.0},
		{int64(2005), 8000.0, 8100.0, 90000.0, 3.0, -100.0},
		{int64(2014), 16000.0, 15500.0, 20000.0, nil, 500.0},
	} {
		require.NoError(t, tbl.Append(r...))
	}
	return tbl
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := do(t, New(summary(t), Config{}, nil), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])
}

func TestNavFlow(t *testing.T) {
	t.Parallel()

	s := New(summary(t), Config{}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/nav")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "none", body["current"])
	require.Len(t, body["buttons"], len(report.NavButtons))

	rec, body = do(t, s, http.MethodPost, "/api/nav/nav-scatter")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "scatter", body["current"])

	rec, body = do(t, s, http.MethodPost, "/api/nav/nav-bogus")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Unknown nav button", body["error"])

	_, body = do(t, s, http.MethodGet, "/api/nav")
	require.Equal(t, "scatter", body["current"])
}

func TestViews(t *testing.T) {
	t.Parallel()

	s := New(summary(t), Config{}, nil)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantYears []float64
		wantCols  []any
	}{
		{
			name:      "bar default range",
			target:    "/api/views/bar",
			wantCode:  http.StatusOK,
			wantYears: []float64{2005, 2014},
			wantCols:  []any{"year", "sellingprice"},
		},
		{
			name:      "bar custom range",
			target:    "/api/views/bar?start=1999-06-01&end=2005-01-01",
			wantCode:  http.StatusOK,
			wantYears: []float64{1999, 2005},
			wantCols:  []any{"year", "sellingprice"},
		},
		{
			name:      "scatter ignores range",
			target:    "/api/views/scatter?start=2014-01-01",
			wantCode:  http.StatusOK,
			wantYears: []float64{1999, 2005, 2014},
			wantCols:  []any{"year", "sellingprice", "odometer", "condition"},
		},
		{
			name:      "multiline",
			target:    "/api/views/multiline?end=2010-12-31",
			wantCode:  http.StatusOK,
			wantYears: []float64{2005},
			wantCols:  []any{"year", "sellingprice", "mmr", "odometer", "price_difference", "condition"},
		},
		{name: "unknown view", target: "/api/views/pie", wantCode: http.StatusNotFound},
		{name: "about has no series", target: "/api/views/about", wantCode: http.StatusNotFound},
		{name: "bad date", target: "/api/views/bar?start=2001/01/01", wantCode: http.StatusBadRequest},
		{name: "reversed range", target: "/api/views/bar?start=2010-01-01&end=2001-01-01", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, body := do(t, s, http.MethodGet, tt.target)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				require.NotEmpty(t, body["error"])
				return
			}
			require.Equal(t, tt.wantCols, body["columns"])

			var years []float64
			for _, r := range body["rows"].([]any) {
				years = append(years, r.(map[string]any)["year"].(float64))
			}
			require.Equal(t, tt.wantYears, years)
		})
	}
}

func TestViews_MissingCellsAreNull(t *testing.T) {
	t.Parallel()

	rec, body := do(t, New(summary(t), Config{}, nil), http.MethodGet, "/api/views/multiline?start=2014-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	require.Contains(t, row, "condition")
	require.Nil(t, row["condition"])
	require.Equal(t, "2014-01-01", body["start"])
	require.Equal(t, "2015-12-31", body["end"])
}

func TestRequestsAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := New(summary(t), Config{}, zap.New(core))
	do(t, s, http.MethodGet, "/healthz")

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/healthz", fields["uri"])
	require.EqualValues(t, http.StatusOK, fields["status"])
}
