package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"autoprice/internal/dataset"
	"autoprice/internal/report"
)

const dateLayout = "2006-01-02"

type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

type NavResponse struct {
	Current report.View        `json:"current"`
	Buttons []report.NavButton `json:"buttons,omitempty"`
}

type ViewResponse struct {
	OK      bool             `json:"ok"`
	View    report.View      `json:"view"`
	Start   string           `json:"start,omitempty"`
	End     string           `json:"end,omitempty"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) nav(c echo.Context) error {
	return c.JSON(http.StatusOK, NavResponse{Current: s.sel.Current(), Buttons: report.NavButtons})
}

func (s *Server) selectNav(c echo.Context) error {
	v, ok := s.sel.Trigger(c.Param("id"))
	if !ok {
		return createErrorResponse(c, http.StatusNotFound, "Unknown nav button", c.Param("id"))
	}
	return c.JSON(http.StatusOK, NavResponse{Current: v})
}

func (s *Server) view(c echo.Context) error {
	v, ok := report.ParseView(c.Param("view"))
	if !ok {
		return createErrorResponse(c, http.StatusNotFound, "Unknown view", c.Param("view"))
	}

	tbl, err := report.Project(s.summary, v.Columns(s.config.YearColumn)...)
	if err != nil {
		return createErrorResponse(c, http.StatusInternalServerError, "Projection error", err.Error())
	}

	resp := ViewResponse{OK: true, View: v}
	if v.DateFiltered() {
		start, err := parseDate(c.QueryParam("start"), s.config.DefaultStart)
		if err != nil {
			return createErrorResponse(c, http.StatusBadRequest, "Invalid start date", err.Error())
		}
		end, err := parseDate(c.QueryParam("end"), s.config.DefaultEnd)
		if err != nil {
			return createErrorResponse(c, http.StatusBadRequest, "Invalid end date", err.Error())
		}
		if end.Before(start) {
			return createErrorResponse(c, http.StatusBadRequest, "Invalid date range", "end is before start")
		}
		if tbl, err = report.FilterYears(tbl, s.config.YearColumn, start, end); err != nil {
			return createErrorResponse(c, http.StatusInternalServerError, "Filter error", err.Error())
		}
		resp.Start, resp.End = start.Format(dateLayout), end.Format(dateLayout)
	}

	resp.Columns = tbl.ColumnNames()
	resp.Rows = records(tbl)
	return c.JSON(http.StatusOK, resp)
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(dateLayout, s)
}

func records(t *dataset.Table) []map[string]any {
	names := t.ColumnNames()
	out := make([]map[string]any, 0, t.Len())
	for _, row := range t.Rows() {
		m := make(map[string]any, len(names))
		for i, n := range names {
			m[n] = row[i]
		}
		out = append(out, m)
	}
	return out
}

func createErrorResponse(c echo.Context, status int, error string, message string) error {
	return c.JSON(status, ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     error,
		Message:   message,
	})
}
