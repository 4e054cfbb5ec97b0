package postgres

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"autoprice/internal/dataset"
)

func TestColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		oid    uint32
		want   dataset.ColumnType
		wantOK bool
	}{
		{pgtype.Int8OID, dataset.Int, true},
		{pgtype.Int4OID, dataset.Int, true},
		{pgtype.Float8OID, dataset.Float, true},
		{pgtype.NumericOID, dataset.Float, true},
		{pgtype.TextOID, dataset.Text, true},
		{pgtype.VarcharOID, dataset.Text, true},
		{pgtype.DateOID, dataset.Text, false},
	}
	for _, tt := range tests {
		got, ok := columnType(tt.oid)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("columnType(%d) = %v,%v want %v,%v", tt.oid, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeNumeric(t *testing.T) {
	t.Parallel()

	// 1500050 * 10^-2
	n := pgtype.Numeric{Int: big.NewInt(1500050), Exp: -2, Valid: true}
	if got := normalize(n); got != 15000.5 {
		t.Fatalf("normalize(numeric) = %#v, want 15000.5", got)
	}
	if got := normalize(pgtype.Numeric{}); got != nil {
		t.Fatalf("invalid numeric should be nil, got %#v", got)
	}
	if got := normalize(pgtype.Numeric{NaN: true, Valid: true}); got != nil {
		t.Fatalf("NaN numeric should be nil, got %#v", got)
	}
	if got := normalize("x"); got != "x" {
		t.Fatalf("other values pass through, got %#v", got)
	}
}
