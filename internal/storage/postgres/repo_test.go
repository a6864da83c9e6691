package postgres

import (
	"strings"
	"testing"

	"tabload/internal/schema"
	"tabload/internal/storage"
)

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	q, err := buildCreateTableSQL("DDoS_data", []storage.ColumnDef{
		{Name: "Flow ID", Type: schema.Text},
		{Name: "Dst Port", Type: schema.Integer},
		{Name: "Flow Byts/s", Type: schema.Real},
	})
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	want := `CREATE TABLE "DDoS_data" ("Flow ID" TEXT, "Dst Port" BIGINT, "Flow Byts/s" DOUBLE PRECISION);`
	if q != want {
		t.Fatalf("q=%s\nwant %s", q, want)
	}
}

func TestBuildCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, err := buildCreateTableSQL(" ", []storage.ColumnDef{{Name: "a"}}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
	if _, err := buildCreateTableSQL("t", nil); err == nil {
		t.Fatalf("expected error for no columns")
	}
}

func TestPgIdent_Escapes(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("pgIdent=%s", got)
	}
}

func TestCoarseType_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, ct := range []schema.ColumnType{schema.Text, schema.Integer, schema.Real} {
		if got := coarseType(declaredType(ct)); got != ct {
			t.Fatalf("coarseType(declaredType(%s))=%s", ct, got)
		}
	}
	if coarseType("character varying") != schema.Text {
		t.Fatalf("varchar must map to Text")
	}
}

func TestBuildDistributionSQL(t *testing.T) {
	t.Parallel()

	q := buildDistributionSQL("ids", "Label")
	if !strings.Contains(q, `GROUP BY "Label"`) || !strings.Contains(q, "ORDER BY n ASC") {
		t.Fatalf("q=%s", q)
	}
}
