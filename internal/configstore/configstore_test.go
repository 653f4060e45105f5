package configstore

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/visionserve/internal/model"
)

func TestLoadVideoSources_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := New(db)

	rows := sqlmock.NewRows([]string{
		"id", "url", "protocol", "username", "password", "socket_timeout_ms",
		"reconnect_base_ms", "reconnect_max_ms", "width", "height", "fps", "enabled",
	}).AddRow("cam-1", "rtsp://10.0.0.1/stream1", "rtsp", "admin", "secret", 5000, 1000, 30000, 1920, 1080, 15.0, true)

	mock.ExpectQuery("SELECT (.|\n)*FROM video_sources").WillReturnRows(rows)

	sources, err := store.LoadVideoSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "cam-1", sources[0].ID)
	assert.Equal(t, "rtsp://10.0.0.1/stream1", sources[0].Transport.URL)
	assert.True(t, sources[0].Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadROIs_DecodesVerticesAndWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := New(db)

	rows := sqlmock.NewRows([]string{"id", "camera_id", "vertices_json", "priority", "window_json", "enabled"}).
		AddRow("roi-1", "cam-1", `[{"X":0,"Y":0},{"X":100,"Y":0},{"X":100,"Y":100}]`, 5,
			`{"Days":[1,2,3,4,5],"StartHHMM":540,"EndHHMM":1020}`, true)

	mock.ExpectQuery("SELECT (.|\n)*FROM rois").WillReturnRows(rows)

	rois, err := store.LoadROIs(context.Background())
	require.NoError(t, err)
	require.Len(t, rois, 1)
	assert.Equal(t, "roi-1", rois[0].ID)
	require.Len(t, rois[0].Vertices, 3)
	assert.Equal(t, model.Point{X: 100, Y: 0}, rois[0].Vertices[1])
	require.NotNil(t, rois[0].Window)
	assert.Equal(t, 540, rois[0].Window.StartHHMM)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadROIs_NilWindowWhenColumnNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := New(db)

	rows := sqlmock.NewRows([]string{"id", "camera_id", "vertices_json", "priority", "window_json", "enabled"}).
		AddRow("roi-1", "cam-1", `[{"X":0,"Y":0}]`, 1, nil, true)

	mock.ExpectQuery("SELECT (.|\n)*FROM rois").WillReturnRows(rows)

	rois, err := store.LoadROIs(context.Background())
	require.NoError(t, err)
	require.Len(t, rois, 1)
	assert.Nil(t, rois[0].Window)
}

func TestLoadRules_DecodesPredicateAndClassFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := New(db)

	cols := []string{
		"id", "camera_id", "roi_ids_json", "predicate", "class_filter_json", "confidence_floor",
		"dwell_seconds", "loiter_window_ms", "loiter_max_area",
		"line_start_x", "line_start_y", "line_end_x", "line_end_y",
		"debounce_interval_ms", "required_priority",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"rule-1", "cam-1", `["roi-1"]`, 2, `{"0":true}`, 0.5,
		0.0, 0, 0.0,
		0.0, 50.0, 640.0, 50.0,
		5000, 0,
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM rules").WillReturnRows(rows)

	rules, err := store.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.PredicateLineCross, rules[0].Predicate)
	assert.Equal(t, []string{"roi-1"}, rules[0].ROIIDs)
	assert.True(t, rules[0].ClassFilter[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAll_PropagatesFirstError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := New(db)

	mock.ExpectQuery("SELECT (.|\n)*FROM video_sources").WillReturnError(assertErrDB)

	_, err = store.LoadAll(context.Background())
	require.Error(t, err)
}

var assertErrDB = errDB{}

type errDB struct{}

func (errDB) Error() string { return "db unavailable" }
