package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/models"
)

func newCalibrationEngine(stats *models.Statistics) *Engine {
	cfg := testConfig(config.ModeLive, true)
	return New(cfg, &fakeHistory{stats: stats})
}

func TestCalibrate_InsufficientSampleSizeIsNoOp(t *testing.T) {
	eng := newCalibrationEngine(&models.Statistics{
		TotalAutoApproved:   49,
		AutoApproveAccuracy: 0.99,
	})
	before := eng.AutoMinConfidence()

	err := eng.Calibrate(context.Background(), 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, before, eng.AutoMinConfidence())
}

func TestCalibrate_HighAccuracyDecreasesThreshold(t *testing.T) {
	// 78/80 successes = 0.975 accuracy, matching scenario 6.
	eng := newCalibrationEngine(&models.Statistics{
		TotalAutoApproved:   80,
		AutoApproveAccuracy: 0.975,
	})
	before := eng.AutoMinConfidence()

	err := eng.Calibrate(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, before-decreaseStep, eng.AutoMinConfidence(), 1e-9)

	accuracy, sampleSize := eng.LastCalibrationStats()
	assert.Equal(t, 0.975, accuracy)
	assert.Equal(t, 80, sampleSize)
}

func TestCalibrate_RepeatedCallWithoutNewDataIsNoOp(t *testing.T) {
	eng := newCalibrationEngine(&models.Statistics{
		TotalAutoApproved:   80,
		AutoApproveAccuracy: 0.975,
	})

	require.NoError(t, eng.Calibrate(context.Background(), 30*24*time.Hour))
	after := eng.AutoMinConfidence()

	require.NoError(t, eng.Calibrate(context.Background(), 30*24*time.Hour))
	assert.Equal(t, after, eng.AutoMinConfidence())
}

func TestCalibrate_LowAccuracyIncreasesThreshold(t *testing.T) {
	eng := newCalibrationEngine(&models.Statistics{
		TotalAutoApproved:   60,
		AutoApproveAccuracy: 0.70,
	})
	before := eng.AutoMinConfidence()

	err := eng.Calibrate(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, before+increaseStep, eng.AutoMinConfidence(), 1e-9)
}

func TestCalibrate_FloorIsRespected(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	cfg.Decision.AutoApprove.MinConfidence = minAutoConfFloor + 0.01
	eng := New(cfg, &fakeHistory{stats: &models.Statistics{
		TotalAutoApproved:   100,
		AutoApproveAccuracy: 0.99,
	}})

	require.NoError(t, eng.Calibrate(context.Background(), 30*24*time.Hour))
	assert.GreaterOrEqual(t, eng.AutoMinConfidence(), minAutoConfFloor)
}

func TestCalibrate_CeilingIsRespected(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	cfg.Decision.AutoApprove.MinConfidence = maxAutoConfCeiling - 0.01
	eng := New(cfg, &fakeHistory{stats: &models.Statistics{
		TotalAutoApproved:   100,
		AutoApproveAccuracy: 0.50,
	}})

	require.NoError(t, eng.Calibrate(context.Background(), 30*24*time.Hour))
	assert.LessOrEqual(t, eng.AutoMinConfidence(), maxAutoConfCeiling)
}

func TestCalibrate_NilHistoryIsNoOp(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	eng := New(cfg, nil)
	assert.NoError(t, eng.Calibrate(context.Background(), 30*24*time.Hour))
}
