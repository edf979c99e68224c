package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/refpath/internal/planner"
)

// ErrRunNotFound is returned for run ids that were never started.
var ErrRunNotFound = errors.New("run not found")

// defaultPathLimit bounds RunPaths when the caller passes no limit.
const defaultPathLimit = 100

// RunConfig is the estimator setup recorded when a run starts.
type RunConfig struct {
	MinPathLength int
	MaxLatChange  float64
	UseRouting    bool
	Version       string
	Notes         string
}

// Run is one recorded service run.
type Run struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	MinPathLength int       `json:"min_path_length"`
	MaxLatChange  float64   `json:"max_lat_change"`
	UseRouting    bool      `json:"use_routing"`
	Version       string    `json:"version"`
	Notes         string    `json:"notes,omitempty"`
	PathCount     int       `json:"path_count"`
}

// PathRecord is one published reference path as stored.
type PathRecord struct {
	PathID      int64     `json:"path_id"`
	RunID       string    `json:"run_id"`
	Tick        uint64    `json:"tick"`
	CreatedAt   time.Time `json:"created_at"`
	InitOffset  float64   `json:"init_offset"`
	SpeedMPS    *float64  `json:"speed_mps"`
	UsedRouting bool      `json:"used_routing"`
	// Offsets holds the lateral offset of each station in order.
	Offsets []float64 `json:"offsets"`
}

// PathRecordFromOutput converts a planner output into a PathRecord.
func PathRecordFromOutput(out planner.Output) PathRecord {
	rec := PathRecord{
		Tick:        out.Tick,
		CreatedAt:   out.At,
		InitOffset:  out.InitOffset,
		UsedRouting: out.UsedRouting,
		Offsets:     out.Path.Offsets(),
	}
	if v, ok := out.Speed.MPS(); ok {
		rec.SpeedMPS = &v
	}
	return rec
}

// StartRun records a new run and returns its id.
func (db *DB) StartRun(cfg RunConfig) (string, error) {
	return db.startRunAt(cfg, time.Now())
}

func (db *DB) startRunAt(cfg RunConfig, at time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO runs (run_id, started_at, min_path_length, max_lat_change, use_routing, version, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, at.UnixNano(), cfg.MinPathLength, cfg.MaxLatChange, cfg.UseRouting, cfg.Version, cfg.Notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

// RecordPath stores a path and its points in one transaction and returns
// the new path id.
func (db *DB) RecordPath(runID string, rec PathRecord) (int64, error) {
	return db.recordPath(context.Background(), runID, rec)
}

func (db *DB) recordPath(ctx context.Context, runID string, rec PathRecord) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var speed sql.NullFloat64
	if rec.SpeedMPS != nil {
		speed = sql.NullFloat64{Float64: *rec.SpeedMPS, Valid: true}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO reference_paths (run_id, tick, created_at, path_length, init_offset, speed_mps, used_routing)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(rec.Tick), createdAt.UnixNano(), len(rec.Offsets), rec.InitOffset, speed, rec.UsedRouting,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reference path: %w", err)
	}
	pathID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reference_path_points (path_id, station, lateral_offset) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for station, offset := range rec.Offsets {
		if _, err := stmt.ExecContext(ctx, pathID, station, offset); err != nil {
			return 0, fmt.Errorf("failed to insert point %d: %w", station, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pathID, nil
}

// Runs returns every run, newest first, with its path count.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`
		SELECT r.run_id, r.started_at, r.min_path_length, r.max_lat_change, r.use_routing,
		       r.version, r.notes, COUNT(p.path_id)
		FROM runs r
		LEFT JOIN reference_paths p ON p.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns a single run or ErrRunNotFound.
func (db *DB) Run(runID string) (Run, error) {
	row := db.QueryRow(`
		SELECT r.run_id, r.started_at, r.min_path_length, r.max_lat_change, r.use_routing,
		       r.version, r.notes, (SELECT COUNT(*) FROM reference_paths p WHERE p.run_id = r.run_id)
		FROM runs r WHERE r.run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run       Run
		startedAt int64
	)
	if err := s.Scan(&run.RunID, &startedAt, &run.MinPathLength, &run.MaxLatChange,
		&run.UseRouting, &run.Version, &run.Notes, &run.PathCount); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	return run, nil
}

// RunPaths returns up to limit paths of a run, most recent tick first.
// A limit <= 0 selects the default of 100.
func (db *DB) RunPaths(runID string, limit int) ([]PathRecord, error) {
	if limit <= 0 {
		limit = defaultPathLimit
	}
	if _, err := db.Run(runID); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT path_id, run_id, tick, created_at, init_offset, speed_mps, used_routing
		FROM reference_paths
		WHERE run_id = ?
		ORDER BY tick DESC, path_id DESC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}

	paths := []PathRecord{}
	for rows.Next() {
		var (
			rec       PathRecord
			tick      int64
			createdAt int64
			speed     sql.NullFloat64
		)
		if err := rows.Scan(&rec.PathID, &rec.RunID, &tick, &createdAt, &rec.InitOffset, &speed, &rec.UsedRouting); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Tick = uint64(tick)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		if speed.Valid {
			v := speed.Float64
			rec.SpeedMPS = &v
		}
		paths = append(paths, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range paths {
		offsets, err := db.pathOffsets(paths[i].PathID)
		if err != nil {
			return nil, err
		}
		paths[i].Offsets = offsets
	}
	return paths, nil
}

func (db *DB) pathOffsets(pathID int64) ([]float64, error) {
	rows, err := db.Query(
		`SELECT lateral_offset FROM reference_path_points WHERE path_id = ? ORDER BY station`, pathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offsets := []float64{}
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		offsets = append(offsets, v)
	}
	return offsets, rows.Err()
}

// PathRecorder is a planner.PathSink that stores every output under one run.
type PathRecorder struct {
	db    *DB
	runID string
}

// PathRecorder returns a sink recording into runID.
func (db *DB) PathRecorder(runID string) *PathRecorder {
	return &PathRecorder{db: db, runID: runID}
}

// Publish implements planner.PathSink.
func (r *PathRecorder) Publish(ctx context.Context, out planner.Output) error {
	if _, err := r.db.recordPath(ctx, r.runID, PathRecordFromOutput(out)); err != nil {
		return fmt.Errorf("record path for tick %d: %w", out.Tick, err)
	}
	return nil
}
