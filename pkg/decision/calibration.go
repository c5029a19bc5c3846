package decision

import (
	"context"
	"fmt"
	"time"
)

const (
	minCalibrationSampleSize = 50
	highAccuracyThreshold    = 0.95
	lowAccuracyThreshold     = 0.80
	decreaseStep             = 0.02
	increaseStep             = 0.05
	minAutoConfFloor         = 0.70
	maxAutoConfCeiling       = 0.99
)

// Calibrate reads recent outcome statistics and adjusts the engine's
// auto-approval confidence floor, per spec §4.4's ordered rules. It is
// invoked at startup and then on a configured cadence; both call sites
// share this single code path.
func (e *Engine) Calibrate(ctx context.Context, window time.Duration) error {
	if e.history == nil {
		return nil
	}

	stats, err := e.history.Statistics(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to read statistics for calibration: %w", err)
	}

	if stats.TotalAutoApproved < minCalibrationSampleSize {
		e.log.Info("calibration skipped: insufficient sample size",
			"sample_size", stats.TotalAutoApproved, "required", minCalibrationSampleSize)
		return nil
	}

	e.mu.Lock()
	before := e.autoMinConf
	after := before

	switch {
	case stats.AutoApproveAccuracy > highAccuracyThreshold:
		after = max(minAutoConfFloor, before-decreaseStep)
	case stats.AutoApproveAccuracy < lowAccuracyThreshold:
		after = min(maxAutoConfCeiling, before+increaseStep)
	}
	e.autoMinConf = after
	e.lastAccuracy = stats.AutoApproveAccuracy
	e.lastSampleSize = stats.TotalAutoApproved
	e.mu.Unlock()

	if after != before {
		e.log.Info("calibration adjusted auto-approve confidence floor",
			"before", before, "after", after,
			"accuracy", stats.AutoApproveAccuracy, "sample_size", stats.TotalAutoApproved)
	} else {
		e.log.Info("calibration: no adjustment",
			"auto_min_conf", before,
			"accuracy", stats.AutoApproveAccuracy, "sample_size", stats.TotalAutoApproved)
	}

	return nil
}
