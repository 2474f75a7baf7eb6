package enrich

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobatch/internal/model"
)

var zoneCols = []string{"zip_code", "department", "district", "neighborhood", "st_contains", "st_distance"}

func newMockPostGIS(t *testing.T) (*PostGIS, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostGIS(mock, "geo.postal_zones", 1), mock
}

func TestPostGIS_Inside(t *testing.T) {
	p, mock := newMockPostGIS(t)
	mock.ExpectQuery(`FROM "geo"."postal_zones"`).
		WithArgs(-57.5, -25.3).
		WillReturnRows(pgxmock.NewRows(zoneCols).AddRow("2160", sql.NullString{String: "Central", Valid: true}, sql.NullString{}, sql.NullString{}, true, 0.0))

	info, err := p.Lookup(context.Background(), -25.3, -57.5)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2160", info.ZipCode)
	assert.Equal(t, "Central", info.Department)
	assert.Empty(t, info.District)
	assert.Equal(t, model.ZipHigh, info.Confidence)
	assert.Equal(t, SourcePostGIS, info.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGIS_NearestWithinBound(t *testing.T) {
	p, mock := newMockPostGIS(t)
	mock.ExpectQuery("ST_Distance").
		WithArgs(1.0, 2.0).
		WillReturnRows(pgxmock.NewRows(zoneCols).AddRow("1000", sql.NullString{}, sql.NullString{}, sql.NullString{}, false, 800.0))

	info, err := p.Lookup(context.Background(), 2, 1)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, model.ZipMedium, info.Confidence)
}

func TestPostGIS_TooFar(t *testing.T) {
	p, mock := newMockPostGIS(t)
	mock.ExpectQuery("ST_Distance").
		WithArgs(1.0, 2.0).
		WillReturnRows(pgxmock.NewRows(zoneCols).AddRow("1000", sql.NullString{}, sql.NullString{}, sql.NullString{}, false, 1500.0))

	info, err := p.Lookup(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestPostGIS_NoRows(t *testing.T) {
	p, mock := newMockPostGIS(t)
	mock.ExpectQuery("ST_Distance").WithArgs(1.0, 2.0).WillReturnError(pgx.ErrNoRows)

	info, err := p.Lookup(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestPostGIS_QueryError(t *testing.T) {
	p, mock := newMockPostGIS(t)
	mock.ExpectQuery("ST_Distance").WithArgs(1.0, 2.0).WillReturnError(errors.New("relation does not exist"))

	_, err := p.Lookup(context.Background(), 2, 1)
	assert.ErrorContains(t, err, "relation does not exist")
}
