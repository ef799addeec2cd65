package service

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
)

// CalibrationReport summarizes the start-up label-order check.
type CalibrationReport struct {
	Examples int `json:"examples"`
	// Accuracy is agreement under the resolved label map.
	Accuracy float64 `json:"accuracy"`
	// FlippedAccuracy is agreement had the two indices been swapped.
	FlippedAccuracy float64 `json:"flippedAccuracy"`
}

// calibrate runs the artifact's labeled examples and fails when the resolved
// label map agrees with fewer than MinCalibrationAccuracy of them.
func (d *Detector) calibrate(ctx context.Context, examples []artifact.Example) (*CalibrationReport, error) {
	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
	}
	preds, err := d.score(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}

	var agree, flipped int
	for i, ex := range examples {
		if (preds[i].AIProb > 0.5) == ex.IsAI() {
			agree++
		}
		if (preds[i].HumanProb > 0.5) == ex.IsAI() {
			flipped++
		}
	}
	n := float64(len(examples))
	report := &CalibrationReport{
		Examples:        len(examples),
		Accuracy:        float64(agree) / n,
		FlippedAccuracy: float64(flipped) / n,
	}
	d.log.Info().
		Int("examples", report.Examples).
		Float64("accuracy", report.Accuracy).
		Float64("flipped_accuracy", report.FlippedAccuracy).
		Msg("calibration")

	if report.Accuracy < d.opts.MinCalibrationAccuracy {
		hint := ""
		if report.FlippedAccuracy >= d.opts.MinCalibrationAccuracy {
			hint = fmt.Sprintf("; swapping to ai index %d would pass", d.labels.Human)
		}
		return report, fmt.Errorf("%w: ai index %d (%s) agrees with %d/%d calibration examples%s",
			ErrLabelOrderMismatch, d.labels.AI, d.labels.Source, agree, len(examples), hint)
	}
	return report, nil
}
