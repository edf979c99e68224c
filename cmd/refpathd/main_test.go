package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/refpath/internal/chassis"
	"github.com/banshee-data/refpath/internal/refpath"
	"github.com/banshee-data/refpath/internal/serialmux"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "refpath.db", *dbPath)
	assert.Equal(t, "", *configPath)
	assert.Equal(t, serialmux.DefaultBaudRate, *baud)
	assert.False(t, *devMode)
	assert.False(t, *verbose)
}

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GetMinPathLength())

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"min_path_length": 7, "loop_interval": "20ms"}`), 0o644))
	cfg, err = loadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.GetMinPathLength())
	assert.Equal(t, 20*time.Millisecond, cfg.GetLoopInterval())

	_, err = loadTuning(filepath.Join(t.TempDir(), "tuning.yaml"))
	assert.Error(t, err)
}

func TestDevGatewayLines(t *testing.T) {
	lines := devGatewayLines(8)
	require.Len(t, lines, 8)

	for i, line := range lines {
		s, err := chassis.ParseLine(line)
		require.NoError(t, err, "line %d", i)
		require.NotNil(t, s.SpeedMPS)
		assert.Equal(t, 8.0, *s.SpeedMPS)
		require.NotNil(t, s.Pose)
		require.NotNil(t, s.Left)
		require.NotNil(t, s.Right)
		assert.Len(t, s.Routing, 32)

		// The route runs down the lane centre the markers describe.
		target, err := refpath.TargetOffset(s.Left, s.Right)
		require.NoError(t, err)
		assert.InDelta(t, s.Routing[0].Y(), target, 1e-9, "line %d", i)
	}
}
