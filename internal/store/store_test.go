package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return AttachDB(db), mock
}

func TestIntersectingWithArea(t *testing.T) {
	s, mock := newMock(t)
	area := `{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}`
	mock.ExpectQuery(regexp.QuoteMeta("ST_Intersects(geom, ST_SetSRID(ST_GeomFromGeoJSON($2), $3))")).
		WithArgs("parcels", area, 4326).
		WillReturnRows(sqlmock.NewRows([]string{"fid", "attrs", "geom"}).
			AddRow(int64(1), []byte(`{"OBJECTID":1,"name":"a"}`), `{"type":"Point","coordinates":[0.5,0.5]}`).
			AddRow(int64(3), []byte(`{}`), `{"type":"Point","coordinates":[0.2,0.2]}`))

	rows, err := s.Intersecting(context.Background(), "parcels", area, 4326)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].FID)
	assert.Equal(t, "a", rows[0].Attrs["name"])
	assert.Equal(t, int64(3), rows[1].FID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntersectingWholeLayer(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM nearby_features WHERE layer=$1 ORDER BY fid")).
		WithArgs("parcels").
		WillReturnRows(sqlmock.NewRows([]string{"fid", "attrs", "geom"}))
	rows, err := s.Intersecting(context.Background(), "parcels", "", 4326)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntersectingErrors(t *testing.T) {
	s, mock := newMock(t)
	_, err := s.Intersecting(context.Background(), "", "", 0)
	assert.ErrorIs(t, err, ErrEmptyLayer)

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT fid").WillReturnError(boom)
	_, err = s.Intersecting(context.Background(), "parcels", "{}", 4326)
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery("SELECT fid").
		WillReturnRows(sqlmock.NewRows([]string{"fid", "attrs", "geom"}).AddRow(int64(1), []byte(`{bad`), `{}`))
	_, err = s.Intersecting(context.Background(), "parcels", "", 4326)
	assert.Error(t, err)
}

func TestReplaceLayer(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM nearby_features WHERE layer=$1")).
		WithArgs("parcels").WillReturnResult(sqlmock.NewResult(0, 4))
	prep := mock.ExpectPrepare("INSERT INTO nearby_features")
	prep.ExpectExec().WithArgs("parcels", int64(1), []byte(`{"OBJECTID":1}`), `{"type":"Point","coordinates":[0,0]}`, 4326).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("parcels", int64(2), []byte(`{"OBJECTID":2}`), `{"type":"Point","coordinates":[1,1]}`, 4326).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ReplaceLayer(context.Background(), "parcels", 4326, []Row{
		{FID: 1, Attrs: map[string]any{"OBJECTID": 1}, Geometry: `{"type":"Point","coordinates":[0,0]}`},
		{FID: 2, Attrs: map[string]any{"OBJECTID": 2}, Geometry: `{"type":"Point","coordinates":[1,1]}`},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceLayerRollsBack(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("invalid geometry")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM nearby_features").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare("INSERT INTO nearby_features").ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	err := s.ReplaceLayer(context.Background(), "parcels", 4326, []Row{{FID: 1, Geometry: "{}"}})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLayerCount(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT layer, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"layer", "count"}).AddRow("parcels", int64(3)).AddRow("hydrants", int64(7)))
	got, err := s.LayerCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"parcels": 3, "hydrants": 7}, got)
}
