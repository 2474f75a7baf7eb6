package zones

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/db"
)

// Columns is the column order used when loading zones into PostGIS.
var Columns = []string{"zip_code", "department", "district", "neighborhood", "geom"}

// CreateTable creates the PostGIS zone table and its spatial index if they
// do not exist.
func CreateTable(ctx context.Context, pool db.Pool, table string) error {
	ident := db.Identifier(table).Sanitize()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	zip_code     TEXT NOT NULL,
	department   TEXT,
	district     TEXT,
	neighborhood TEXT,
	geom         geometry(MultiPolygon, 4326) NOT NULL
)`, ident)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "zones: create table %s", table)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)`,
		db.Identifier(indexName(table)).Sanitize(), ident)
	if _, err := pool.Exec(ctx, idx); err != nil {
		return eris.Wrapf(err, "zones: create index on %s", table)
	}
	return nil
}

// Rows encodes zones for COPY into a table created by CreateTable.
func Rows(zs []Zone) ([][]any, error) {
	rows := make([][]any, 0, len(zs))
	for _, z := range zs {
		wkb, err := EncodeEWKB(z.Shape)
		if err != nil {
			return nil, eris.Wrapf(err, "zones: zip %s", z.ZipCode)
		}
		if wkb == nil {
			continue
		}
		rows = append(rows, []any{z.ZipCode, nullIfEmpty(z.Department), nullIfEmpty(z.District), nullIfEmpty(z.Neighborhood), wkb})
	}
	return rows, nil
}

// LoadPostGIS copies the zones into table, replacing its contents when
// truncate is set. It returns the number of rows written.
func LoadPostGIS(ctx context.Context, pool db.Pool, table string, zs []Zone, truncate bool) (int64, error) {
	if err := CreateTable(ctx, pool, table); err != nil {
		return 0, err
	}
	if truncate {
		if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", db.Identifier(table).Sanitize())); err != nil {
			return 0, eris.Wrapf(err, "zones: truncate %s", table)
		}
	}

	rows, err := Rows(zs)
	if err != nil {
		return 0, err
	}
	n, err := db.CopyFrom(ctx, pool, table, Columns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "zones: copy into %s", table)
	}
	zap.L().Info("zones: loaded into postgis", zap.String("table", table), zap.Int64("rows", n))
	return n, nil
}

func indexName(table string) string {
	return table[strings.LastIndex(table, ".")+1:] + "_geom_idx"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
