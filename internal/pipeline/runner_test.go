package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/source"
	"autoprice/internal/staging"
	"autoprice/internal/storage"
	_ "autoprice/internal/storage/sqlite"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const stockCSV = "Year,Open,Close\n2001,12.5,13\n2002,NA,9.75\n2002,9.9,9.8\n"

const salesHTML = `<table class="table table-bordered table-striped">
<tr><td>Brand</td><td>2024</td><td>vs 2023</td></tr>
<tr><td>Ford</td><td>2,078,832</td><td>4.2%</td></tr>
<tr><td>Fisker</td><td>--</td><td>n/a</td></tr>
</table>`

func samplePipeline(t *testing.T) (config.Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	stock := writeFile(t, dir, "ford_stock.csv", stockCSV)
	sales := writeFile(t, dir, "sales.html", salesHTML)
	script := writeFile(t, dir, "dashboard.sql", "SELECT year, close FROM ford_stock_data ORDER BY year;\n")

	return config.Pipeline{
		Job:     "test",
		Storage: config.Storage{Kind: "sqlite", BaseDir: filepath.Join(dir, "db"), Database: "tool_data"},
		Datasets: []config.Dataset{
			{
				Name:       "ford_stock",
				Source:     config.Source{Kind: "csv", Location: stock},
				Table:      "ford_stock_data",
				PrimaryKey: []string{"year"},
			},
			{
				Name: "us_auto_sales",
				Source: config.Source{
					Kind:      "html",
					Location:  sales,
					Renames:   map[string]string{"_2024": "sales_numbers", "vs_2023": "percent_change_2023"},
					Numeric:   []string{"sales_numbers", "percent_change_2023"},
					Constants: []source.Constant{{Name: "year", Value: "2024"}},
				},
				Table:       "us_auto_sales",
				PrimaryKey:  []string{"brand", "year"},
				FillMissing: map[string]any{"sales_numbers": 0.0, "percent_change_2023": 0.0},
			},
		},
		Query: &config.Query{Path: script, Output: filepath.Join(dir, "out", "dashboard.csv")},
	}, dir
}

func TestRun_StagesAndQueriesSQLite(t *testing.T) {
	t.Parallel()

	p, dir := samplePipeline(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewRunner(zap.New(core))

	got, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	// Duplicate year 2002 is ignored by the primary key; first row wins.
	require.Equal(t, [][]any{
		{int64(2001), 13.0},
		{int64(2002), 9.75},
	}, got.Rows())

	out, err := os.ReadFile(filepath.Join(dir, "out", "dashboard.csv"))
	require.NoError(t, err)
	require.Equal(t, "year,close\n2001,13\n2002,9.75\n", string(out))

	staged := logs.FilterMessage("dataset staged").All()
	require.Len(t, staged, 2)
	fields := staged[0].ContextMap()
	require.Equal(t, "ford_stock", fields["dataset"])
	require.EqualValues(t, 2, fields["inserted"])
	require.EqualValues(t, 1, fields["ignored"])
	require.NotEmpty(t, staged[0].ContextMap()["run_id"])

	// Re-running is idempotent: nothing new is inserted.
	core2, logs2 := observer.New(zapcore.InfoLevel)
	r2 := NewRunner(zap.New(core2))
	_, err = r2.Run(context.Background(), p)
	require.NoError(t, err)
	for _, e := range logs2.FilterMessage("dataset staged").All() {
		require.EqualValues(t, 0, e.ContextMap()["inserted"], "dataset %v", e.ContextMap()["dataset"])
	}

	gw, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", BaseDir: p.Storage.BaseDir, Database: "tool_data"})
	require.NoError(t, err)
	defer gw.Close()
	sales, err := gw.Query(context.Background(), "SELECT brand, sales_numbers, percent_change_2023, year FROM us_auto_sales ORDER BY brand")
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{"Fisker", 0.0, 0.0, int64(2024)},
		{"Ford", 2078832.0, 4.2, int64(2024)},
	}, sales.Rows())
}

func TestRun_DryRunLogsStatementsWithoutStorage(t *testing.T) {
	t.Parallel()

	p, _ := samplePipeline(t)
	p.Runtime.DryRun = true

	core, logs := observer.New(zapcore.InfoLevel)
	r := &Runner{
		Logger: zap.New(core),
		OpenGateway: func(context.Context, storage.Config) (storage.Gateway, error) {
			t.Fatalf("dry run must not open storage")
			return nil, nil
		},
	}

	got, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Nil(t, got)

	var sqls []string
	for _, e := range logs.FilterMessage("statement").All() {
		sqls = append(sqls, e.ContextMap()["sql"].(string))
	}
	require.Contains(t, sqls, "CREATE TABLE IF NOT EXISTS ford_stock_data(year int, open float, close float, PRIMARY KEY (year))")
	require.Contains(t, sqls, "INSERT OR IGNORE INTO ford_stock_data VALUES (2002, NULL, 9.75)")
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	var opened atomic.Int64
	r := &Runner{OpenGateway: func(context.Context, storage.Config) (storage.Gateway, error) {
		opened.Add(1)
		return nil, nil
	}}

	_, err := r.Run(context.Background(), config.Pipeline{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Zero(t, opened.Load())
}

// failingGateway fails every Execute and counts Close calls.
type failingGateway struct {
	closed atomic.Int64
}

func (g *failingGateway) Dialect() staging.Dialect { return staging.SQLite }
func (g *failingGateway) Execute(_ context.Context, stmts []staging.Statement) (storage.Result, error) {
	return storage.Result{}, &storage.ExecError{Index: 0, Statement: stmts[0], Err: errors.New("disk full")}
}
func (g *failingGateway) Query(context.Context, string, ...any) (*dataset.Table, error) {
	return nil, errors.New("unreachable")
}
func (g *failingGateway) Close() error {
	g.closed.Add(1)
	return nil
}

func TestRun_ExecuteFailureClosesGateway(t *testing.T) {
	t.Parallel()

	p, _ := samplePipeline(t)
	gw := &failingGateway{}
	r := &Runner{OpenGateway: func(context.Context, storage.Config) (storage.Gateway, error) { return gw, nil }}

	_, err := r.Run(context.Background(), p)
	require.Error(t, err)
	var ee *storage.ExecError
	require.ErrorAs(t, err, &ee)
	require.True(t, strings.Contains(err.Error(), "ford_stock"), err.Error())
	require.EqualValues(t, 1, gw.closed.Load())
}

func TestRun_ExpandsDSNFromEnvironment(t *testing.T) {
	t.Setenv("AUTOPRICE_TEST_DSN", "postgres://etl@db/cars")

	var got storage.Config
	r := &Runner{OpenGateway: func(_ context.Context, cfg storage.Config) (storage.Gateway, error) {
		got = cfg
		return nil, errors.New("stop here")
	}}
	_, err := r.Run(context.Background(), config.Pipeline{
		Job:     "env",
		Storage: config.Storage{Kind: "postgres", DSN: "$AUTOPRICE_TEST_DSN"},
		Query:   &config.Query{SQL: "SELECT 1"},
	})
	require.Error(t, err)
	require.Equal(t, "postgres://etl@db/cars", got.DSN)
}
