package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/refpath/internal/planner"
	"github.com/banshee-data/refpath/internal/refpath"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "refpath.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func speedPtr(v float64) *float64 { return &v }

func TestNewDBAppliesMigrations(t *testing.T) {
	database := newTestDB(t)

	version, dirty, err := database.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	for _, table := range []string{"runs", "reference_paths", "reference_path_points"} {
		var n int
		err := database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	database := newTestDB(t)

	_, err := database.RecordPath("no-such-run", PathRecord{Tick: 1, Offsets: []float64{0}})
	assert.Error(t, err, "paths must reference an existing run")
}

func TestStartRunAndRuns(t *testing.T) {
	database := newTestDB(t)

	first, err := database.startRunAt(RunConfig{MinPathLength: 5, MaxLatChange: 0.1, UseRouting: true, Version: "dev"},
		time.Unix(100, 0))
	require.NoError(t, err)
	second, err := database.startRunAt(RunConfig{MinPathLength: 8, MaxLatChange: 0.05, Version: "dev", Notes: "wet road"},
		time.Unix(200, 0))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = database.RecordPath(first, PathRecord{Tick: 1, Offsets: []float64{0, 0}})
	require.NoError(t, err)

	runs, err := database.Runs()
	require.NoError(t, err)
	want := []Run{
		{RunID: second, StartedAt: time.Unix(200, 0).UTC(), MinPathLength: 8, MaxLatChange: 0.05, Version: "dev", Notes: "wet road"},
		{RunID: first, StartedAt: time.Unix(100, 0).UTC(), MinPathLength: 5, MaxLatChange: 0.1, UseRouting: true, Version: "dev", PathCount: 1},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("Runs() mismatch (-want +got):\n%s", diff)
	}

	got, err := database.Run(first)
	require.NoError(t, err)
	assert.Equal(t, want[1], got)

	_, err = database.Run("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRecordPathAndRunPaths(t *testing.T) {
	database := newTestDB(t)
	runID, err := database.StartRun(RunConfig{MinPathLength: 5, MaxLatChange: 0.1, Version: "dev"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []PathRecord{
		{Tick: 1, CreatedAt: at, InitOffset: 0, Offsets: []float64{0, 0.1, 0.2, 0.3, 0.4}},
		{Tick: 2, CreatedAt: at.Add(100 * time.Millisecond), InitOffset: 0.1, SpeedMPS: speedPtr(3.5), UsedRouting: true,
			Offsets: []float64{0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4}},
		{Tick: 3, CreatedAt: at.Add(200 * time.Millisecond), InitOffset: 0.2, Offsets: []float64{0.2, 0.2, 0.2, 0.2, 0.2}},
	}
	var ids []int64
	for _, rec := range records {
		id, err := database.RecordPath(runID, rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := database.RunPaths(runID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := []PathRecord{records[2], records[1]}
	want[0].PathID, want[0].RunID = ids[2], runID
	want[1].PathID, want[1].RunID = ids[1], runID
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunPaths() mismatch (-want +got):\n%s", diff)
	}

	all, err := database.RunPaths(runID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Nil(t, all[2].SpeedMPS)

	_, err = database.RunPaths("missing", 10)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPathRecorder(t *testing.T) {
	database := newTestDB(t)
	runID, err := database.StartRun(RunConfig{MinPathLength: 5, MaxLatChange: 0.1, UseRouting: true, Version: "dev"})
	require.NoError(t, err)

	fit := &refpath.LaneMarkerFit{Coef: [4]float64{-0.35}}
	p, err := planner.New(planner.Config{
		Estimator:    refpath.DefaultConfig(),
		LoopInterval: time.Second,
	}, planner.Sources{
		Perception: planner.StaticPerception{Left: fit, Right: fit},
		Speed:      planner.StaticSpeed{Value: refpath.SpeedMPS(3)},
	}, database.PathRecorder(runID))
	require.NoError(t, err)

	var published []planner.Output
	for range 3 {
		out, ok, err := p.Tick(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		published = append(published, out)
	}

	got, err := database.RunPaths(runID, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		out := published[len(published)-1-i]
		assert.Equal(t, out.Tick, rec.Tick)
		assert.Equal(t, out.InitOffset, rec.InitOffset)
		assert.True(t, out.At.Equal(rec.CreatedAt))
		require.NotNil(t, rec.SpeedMPS)
		assert.Equal(t, 3.0, *rec.SpeedMPS)
		assert.True(t, floats.Equal(out.Path.Offsets(), rec.Offsets), "tick %d", out.Tick)
	}
}

func TestPathRecorderReportsFailure(t *testing.T) {
	database := newTestDB(t)
	err := database.PathRecorder("never-started").Publish(context.Background(), planner.Output{
		Tick: 7,
		Path: refpath.ReferencePath{Points: []refpath.PathPoint{{Station: 0}}, Length: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick 7")
}

func TestBackupHandler(t *testing.T) {
	database := newTestDB(t)
	runID, err := database.StartRun(RunConfig{MinPathLength: 5, MaxLatChange: 0.1, Version: "dev"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	database.backupHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	snapshot, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(snapshot, []byte("SQLite format 3\x00")))
	assert.True(t, bytes.Contains(snapshot, []byte(runID)))

	rec = httptest.NewRecorder()
	database.backupHandler(rec, httptest.NewRequest(http.MethodPost, "/debug/backup", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAttachAdminRoutes(t *testing.T) {
	database := newTestDB(t)
	mux := http.NewServeMux()
	assert.NotPanics(t, func() { database.AttachAdminRoutes(mux) })
}
