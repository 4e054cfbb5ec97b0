package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"autoprice/internal/config"
	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{}, {"-config", " "}, {"-bogus"}} {
		var stderr bytes.Buffer
		if code := run(context.Background(), args, &stderr); code != 2 {
			t.Fatalf("run(%q) = %d, want 2; stderr=%q", args, code, stderr.String())
		}
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "nope.json")}, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "read config:") {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
}

func TestLoadSummary_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	st := config.Storage{Kind: "sqlite", BaseDir: dir, Database: "tool_data"}

	gw, err := storage.Open(ctx, storage.Config{Kind: st.Kind, BaseDir: st.BaseDir, Database: st.Database})
	require.NoError(t, err)
	_, err = gw.Execute(ctx, []staging.Statement{
		staging.Raw("CREATE TABLE vehicle_sales_data(year int, vin text, sellingprice float, mmr float)"),
		staging.Raw("INSERT INTO vehicle_sales_data VALUES (2010, 'a', 10000, 9000)"),
		staging.Raw("INSERT INTO vehicle_sales_data VALUES (2010, 'b', 12000, 12000)"),
		staging.Raw("INSERT INTO vehicle_sales_data VALUES (2012, 'c', 15000, 16000)"),
	})
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	sum, err := loadSummary(ctx, config.Pipeline{
		Storage: st,
		Query:   &config.Query{SQL: "SELECT year, sellingprice, mmr FROM vehicle_sales_data"},
	}, "year")
	require.NoError(t, err)
	require.Equal(t, []string{"year", "sellingprice", "mmr", "price_difference"}, sum.ColumnNames())
	require.Equal(t, [][]any{
		{int64(2010), 11000.0, 10500.0, 500.0},
		{int64(2012), 15000.0, 16000.0, -1000.0},
	}, sum.Rows())
}

func TestLoadSummary_NoQuery(t *testing.T) {
	t.Parallel()

	_, err := loadSummary(context.Background(), config.Pipeline{}, "year")
	if !errors.Is(err, errNoQuery) {
		t.Fatalf("err = %v, want errNoQuery", err)
	}
}
